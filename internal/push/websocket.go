package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"bedready-go/internal/octoprint"
	"bedready-go/internal/types"
)

// Authenticator is the part of the OctoPrint client the websocket source
// needs.
type Authenticator interface {
	Login(ctx context.Context) (octoprint.Session, error)
	WebsocketURL() (string, error)
	APIKey() string
}

var errClosed = errors.New("push socket closed")

// Websocket follows the host's push socket. Each connection logs in
// passively, authenticates the socket with the session, and forwards the
// plugin frames it receives.
func Websocket(ctx context.Context, auth Authenticator, opts Options) <-chan types.PluginMessage {
	opts = opts.withDefaults()
	out := make(chan types.PluginMessage, bufferSize)
	errs := &limiter{n: int64(opts.LogEvery), logger: opts.Logger}

	go func() {
		defer close(out)
		reconnect(ctx, opts, "websocket", func(ctx context.Context) error {
			return websocketSession(ctx, auth, out, opts, errs)
		})
	}()
	return out
}

func websocketSession(ctx context.Context, auth Authenticator, out chan<- types.PluginMessage, opts Options, errs *limiter) error {
	session, err := auth.Login(ctx)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	endpoint, err := auth.WebsocketURL()
	if err != nil {
		return err
	}

	header := http.Header{}
	if key := auth.APIKey(); key != "" {
		header.Set("X-Api-Key", key)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, header)
	if err != nil {
		return fmt.Errorf("dial %s: %w", endpoint, err)
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	if err := conn.WriteJSON(map[string]string{"auth": session.Name + ":" + session.Session}); err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}
	opts.Logger.Info("push socket connected", slog.String("url", endpoint), slog.String("user", session.Name))

	for {
		messageType, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return errClosed
			}
			return err
		}
		if messageType != websocket.TextMessage {
			continue
		}
		msg, ok, err := parseFrame(payload)
		if err != nil {
			errs.Warn("push frame decode failed", slog.String("error", err.Error()))
			continue
		}
		if !ok {
			continue
		}
		if !deliver(ctx, out, msg, opts) {
			return nil
		}
	}
}

// parseFrame extracts a plugin message from a socket frame. Frames of other
// kinds (connected, current, history, event) report ok=false.
func parseFrame(payload []byte) (types.PluginMessage, bool, error) {
	var frame map[string]json.RawMessage
	if err := json.Unmarshal(payload, &frame); err != nil {
		return types.PluginMessage{}, false, err
	}
	raw, found := frame["plugin"]
	if !found {
		return types.PluginMessage{}, false, nil
	}
	var msg types.PluginMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return types.PluginMessage{}, false, err
	}
	if msg.Plugin == "" {
		return types.PluginMessage{}, false, errors.New("plugin frame without plugin id")
	}
	return msg, true, nil
}
