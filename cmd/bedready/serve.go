package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"bedready-go/internal/config"
	"bedready-go/internal/octoprint"
	"bedready-go/internal/output"
	"bedready-go/internal/push"
	"bedready-go/internal/server"
	"bedready-go/internal/simulator"
	"bedready-go/internal/types"
)

type metrics struct {
	pushMessages   atomic.Uint64
	pushIgnored    atomic.Uint64
	statesEmitted  atomic.Uint64
	statesDropped  atomic.Uint64
	rawLogWriteErr atomic.Uint64
}

func (m *metrics) snapshot() map[string]any {
	return map[string]any{
		"push_messages_total":  m.pushMessages.Load(),
		"push_ignored_total":   m.pushIgnored.Load(),
		"states_emitted_total": m.statesEmitted.Load(),
		"states_dropped_total": m.statesDropped.Load(),
		"rawlog_write_errors":  m.rawLogWriteErr.Load(),
	}
}

// countingRecorder tracks raw log failures for /status.
type countingRecorder struct {
	w *output.RawLogWriter
	m *metrics
}

func (r countingRecorder) Record(msg types.PluginMessage) error {
	err := r.w.Record(msg)
	if err != nil {
		r.m.rawLogWriteErr.Add(1)
	}
	return err
}

func newServeCommand(ctx *commandContext) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the panel and serve it to browsers",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := ctx.buildDeps(cmd)
			if err != nil {
				return err
			}
			cfg := d.cfg
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			logger := d.logger

			if err := os.MkdirAll(cfg.Paths.StateDir, 0o755); err != nil {
				return fmt.Errorf("create state directory: %w", err)
			}
			lock := flock.New(cfg.LockPath())
			ok, err := lock.TryLock()
			if err != nil {
				return fmt.Errorf("acquire lock: %w", err)
			}
			if !ok {
				return fmt.Errorf("another bedready panel is already running (lock %s)", cfg.LockPath())
			}
			defer func() {
				if err := lock.Unlock(); err != nil {
					logger.Warn("failed to release lock", slog.String("error", err.Error()))
				}
			}()

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			stats := &metrics{}
			p := d.newPanel()

			uiMessages := make(chan any, 16)
			unsubscribe := p.Subscribe(func(state types.PanelState) {
				select {
				case uiMessages <- state:
					stats.statesEmitted.Add(1)
				default:
					stats.statesDropped.Add(1)
				}
			})
			defer unsubscribe()

			if err := p.Initialize(runCtx); err != nil {
				logger.Warn("initial load failed", slog.String("error", err.Error()))
			}

			messages, err := startPush(runCtx, d, stats)
			if err != nil {
				return err
			}
			go func() {
				for msg := range messages {
					stats.pushMessages.Add(1)
					if msg.Plugin != cfg.OctoPrint.Plugin {
						stats.pushIgnored.Add(1)
					}
					p.HandlePushMessage(msg.Plugin, msg.Data)
				}
			}()

			var statusMu sync.Mutex
			printer := octoprint.Status{Connection: "unknown", Job: "unknown"}
			if d.client != nil {
				go d.client.PollStatus(runCtx, cfg.PollInterval(), func(s octoprint.Status) {
					statusMu.Lock()
					printer = s
					statusMu.Unlock()
				})
			}
			statusFn := func() map[string]any {
				statusMu.Lock()
				current := printer
				statusMu.Unlock()
				return map[string]any{
					"printer": map[string]any{
						"connection": current.Connection,
						"job":        current.Job,
					},
					"simulate": cfg.Debug.Simulate,
					"metrics":  stats.snapshot(),
				}
			}

			srv := server.New(cfg.Server, p, d.images, logger, statusFn)
			return server.Run(runCtx, srv, uiMessages)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "HTTP port for the panel (overrides config)")
	return cmd
}

// startPush picks the push source: the simulator in debug mode, otherwise
// the configured websocket or zmq source, optionally recorded to a raw log.
func startPush(ctx context.Context, d *deps, stats *metrics) (<-chan types.PluginMessage, error) {
	cfg := d.cfg
	if cfg.Debug.Simulate {
		return simulator.Stream(ctx, cfg.OctoPrint.Plugin, cfg.PushInterval(), "reference.jpg"), nil
	}

	opts := push.Options{
		ReconnectDelay: cfg.ReconnectDelay(),
		LogEvery:       cfg.Push.LogEvery,
		Logger:         d.logger.With(slog.String("component", "push")),
	}
	if cfg.Push.RawLog {
		writer, err := output.NewRawLogWriter(cfg.Push.RawLogDir, "push")
		if err != nil {
			return nil, fmt.Errorf("start raw log: %w", err)
		}
		d.logger.Info("recording push messages", slog.String("path", writer.Path()))
		opts.Recorder = countingRecorder{w: writer, m: stats}
		go func() {
			<-ctx.Done()
			if err := writer.Close(); err != nil {
				d.logger.Warn("raw log close failed", slog.String("error", err.Error()))
			}
		}()
	}

	switch cfg.Push.Source {
	case config.PushZMQ:
		return push.ZMQ(ctx, cfg.Push.ZMQEndpoint, opts)
	default:
		return push.Websocket(ctx, d.client, opts), nil
	}
}
