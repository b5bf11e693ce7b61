// Package push delivers plugin notifications from the printer host to the
// panel. Every source returns a channel that stays open until the context
// ends, reconnecting whenever the underlying connection drops.
package push

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"bedready-go/internal/types"
)

const bufferSize = 128

// Recorder receives every message a source delivers.
type Recorder interface {
	Record(msg types.PluginMessage) error
}

type Options struct {
	ReconnectDelay time.Duration
	// LogEvery rate-limits repetitive receive and decode errors.
	LogEvery int
	Recorder Recorder
	Logger   *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = 5 * time.Second
	}
	if o.LogEvery < 1 {
		o.LogEvery = 1
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// limiter logs only every n-th call.
type limiter struct {
	n       int64
	counter atomic.Int64
	logger  *slog.Logger
}

func (l *limiter) Warn(msg string, args ...any) {
	if l.counter.Add(1)%l.n == 0 {
		l.logger.Warn(msg, args...)
	}
}

// deliver records msg and hands it on. It reports false once ctx is done.
func deliver(ctx context.Context, out chan<- types.PluginMessage, msg types.PluginMessage, opts Options) bool {
	if opts.Recorder != nil {
		if err := opts.Recorder.Record(msg); err != nil {
			opts.Logger.Warn("push raw log write failed", slog.String("error", err.Error()))
		}
	}
	select {
	case <-ctx.Done():
		return false
	case out <- msg:
		return true
	}
}

// reconnect runs session until ctx ends, waiting delay between attempts.
func reconnect(ctx context.Context, opts Options, name string, session func(context.Context) error) {
	for {
		err := session(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			opts.Logger.Warn("push source disconnected",
				slog.String("source", name),
				slog.String("error", err.Error()),
				slog.Duration("retry_in", opts.ReconnectDelay),
			)
		}
		timer := time.NewTimer(opts.ReconnectDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}
