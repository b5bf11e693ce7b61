package push

import (
	"context"
	"fmt"
	"log/slog"
	"syscall"
	"time"

	"github.com/pebbe/zmq4"

	"bedready-go/internal/output"
	"bedready-go/internal/types"
)

const recvTimeout = 500 * time.Millisecond

// ZMQ subscribes to a relay that republishes plugin messages as CBOR
// {plugin, data} frames.
func ZMQ(ctx context.Context, endpoint string, opts Options) (<-chan types.PluginMessage, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("zmq endpoint is required")
	}
	opts = opts.withDefaults()
	out := make(chan types.PluginMessage, bufferSize)
	errs := &limiter{n: int64(opts.LogEvery), logger: opts.Logger}

	go func() {
		defer close(out)
		reconnect(ctx, opts, "zmq", func(ctx context.Context) error {
			return zmqSession(ctx, endpoint, out, opts, errs)
		})
	}()
	return out, nil
}

func zmqSession(ctx context.Context, endpoint string, out chan<- types.PluginMessage, opts Options, errs *limiter) error {
	socket, err := zmq4.NewSocket(zmq4.SUB)
	if err != nil {
		return err
	}
	defer socket.Close()
	if err := socket.SetSubscribe(""); err != nil {
		return err
	}
	if err := socket.SetRcvtimeo(recvTimeout); err != nil {
		return err
	}
	if err := socket.Connect(endpoint); err != nil {
		return fmt.Errorf("connect %s: %w", endpoint, err)
	}
	opts.Logger.Info("push relay subscribed", slog.String("endpoint", endpoint))

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		frame, err := socket.RecvBytes(0)
		if err != nil {
			if zmq4.AsErrno(err) == zmq4.Errno(syscall.EAGAIN) {
				continue
			}
			if zmq4.AsErrno(err) == zmq4.ETERM {
				return err
			}
			errs.Warn("push recv error", slog.String("error", err.Error()))
			continue
		}

		msg, err := output.DecodeMessage(frame)
		if err != nil {
			errs.Warn("push CBOR decode error", slog.String("error", err.Error()))
			continue
		}
		if !deliver(ctx, out, msg, opts) {
			return nil
		}
	}
}
