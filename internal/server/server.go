package server

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"bedready-go/internal/config"
	"bedready-go/internal/mask"
	"bedready-go/internal/octoprint"
	"bedready-go/internal/panel"
	"bedready-go/internal/settings"
	"bedready-go/internal/types"
)

//go:embed web/*
var webFS embed.FS

// Panel is the view model the server renders and drives.
type Panel interface {
	State() types.PanelState
	Settings() settings.Values
	TakeSnapshot(ctx context.Context) error
	DeleteSnapshot(ctx context.Context, filename string) error
	SetDefaultSnapshot(filename string)
	TestSnapshot(ctx context.Context) (types.ComparisonResult, error)
	ToggleMask() mask.Action
	SetMaskEnabled(enabled bool) mask.Action
	UpdateMask(points string) error
	UpdateSettings(v settings.Values)
	SaveSettings(ctx context.Context) error
	DismissPopup() bool
	RemovePopup() bool
}

// Images opens stored snapshot images by name. The name may carry a query
// string.
type Images interface {
	Open(ctx context.Context, name string) (io.ReadCloser, string, error)
}

type Server struct {
	upgrader websocket.Upgrader
	clients  map[*websocket.Conn]*sync.Mutex
	mu       sync.Mutex
	cfg      config.Server
	panel    Panel
	images   Images
	logger   *slog.Logger
	statusFn func() map[string]any
}

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
	pingEvery = (pongWait * 9) / 10
)

func New(cfg config.Server, p Panel, images Images, logger *slog.Logger, statusFn func() map[string]any) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients:  make(map[*websocket.Conn]*sync.Mutex),
		cfg:      cfg,
		panel:    p,
		images:   images,
		logger:   logger.With(slog.String("component", "server")),
		statusFn: statusFn,
	}
}

// Routes builds the HTTP handler.
func (s *Server) Routes() (http.Handler, error) {
	sub, err := fs.Sub(webFS, "web")
	if err != nil {
		return nil, err
	}
	r := chi.NewRouter()
	r.Get("/ws", s.handleWS)
	r.Get("/healthz", s.handleHealth)
	r.Get("/status", s.handleStatus)

	r.Route("/api", func(r chi.Router) {
		r.Get("/state", s.handleState)
		r.Post("/snapshots", s.handleTakeSnapshot)
		r.Delete("/snapshots/{filename}", s.handleDeleteSnapshot)
		r.Post("/snapshots/{filename}/default", s.handleDefaultSnapshot)
		r.Post("/test", s.handleTest)
		r.Post("/mask/toggle", s.handleToggleMask)
		r.Put("/mask", s.handleUpdateMask)
		r.Put("/mask/enabled", s.handleMaskEnabled)
		r.Post("/popup/dismiss", s.handleDismissPopup)
		r.Delete("/popup", s.handleRemovePopup)
		r.Post("/settings", s.handleSaveSettings)
	})

	r.Get("/images/*", s.handleImage)
	r.Get("/mask/preview.png", s.handleMaskPreview)
	r.Handle("/*", http.FileServer(http.FS(sub)))
	return r, nil
}

// Run serves until ctx is done. messages carries the states to broadcast.
func Run(ctx context.Context, srv *Server, messages <-chan any) error {
	handler, err := srv.Routes()
	if err != nil {
		return err
	}
	httpServer := &http.Server{
		Addr:              ":" + strconv.Itoa(srv.cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	go srv.broadcast(ctx, messages)

	srv.logger.Info("listening", slog.Int("port", srv.cfg.Port))
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	s.mu.Lock()
	writeMu := &sync.Mutex{}
	s.clients[conn] = writeMu
	s.mu.Unlock()

	_ = s.writeJSON(conn, writeMu, s.panel.State())

	go func() {
		done := make(chan struct{})
		go func() {
			ticker := time.NewTicker(pingEvery)
			defer ticker.Stop()
			for {
				select {
				case <-done:
					return
				case <-ticker.C:
					if err := s.writeMessage(conn, writeMu, websocket.PingMessage, nil); err != nil {
						_ = conn.Close()
						return
					}
				}
			}
		}()
		defer close(done)
		defer s.removeClient(conn)
		for {
			messageType, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if messageType != websocket.TextMessage {
				continue
			}
			var request map[string]any
			if err := json.Unmarshal(payload, &request); err != nil {
				continue
			}
			if request["type"] == "state_request" {
				_ = s.writeJSON(conn, writeMu, s.panel.State())
			}
		}
	}()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	payload := map[string]any{}
	if s.statusFn != nil {
		payload = s.statusFn()
	}
	payload["ws_clients"] = s.clientCount()
	writeJSONResponse(w, http.StatusOK, payload)
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSONResponse(w, http.StatusOK, s.panel.State())
}

func (s *Server) handleTakeSnapshot(w http.ResponseWriter, r *http.Request) {
	s.respond(w, s.panel.TakeSnapshot(r.Context()))
}

func (s *Server) handleDeleteSnapshot(w http.ResponseWriter, r *http.Request) {
	s.respond(w, s.panel.DeleteSnapshot(r.Context(), chi.URLParam(r, "filename")))
}

func (s *Server) handleDefaultSnapshot(w http.ResponseWriter, r *http.Request) {
	s.panel.SetDefaultSnapshot(chi.URLParam(r, "filename"))
	s.respond(w, nil)
}

func (s *Server) handleTest(w http.ResponseWriter, r *http.Request) {
	_, err := s.panel.TestSnapshot(r.Context())
	s.respond(w, err)
}

func (s *Server) handleToggleMask(w http.ResponseWriter, _ *http.Request) {
	action := s.panel.ToggleMask()
	writeJSONResponse(w, http.StatusOK, map[string]any{"action": action.String(), "state": s.panel.State()})
}

func (s *Server) handleUpdateMask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Points string `json:"points"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.panel.UpdateMask(req.Points); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	s.respond(w, nil)
}

func (s *Server) handleMaskEnabled(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<10)).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	action := s.panel.SetMaskEnabled(req.Enabled)
	writeJSONResponse(w, http.StatusOK, map[string]any{"action": action.String(), "state": s.panel.State()})
}

func (s *Server) handleDismissPopup(w http.ResponseWriter, _ *http.Request) {
	s.panel.DismissPopup()
	s.respond(w, nil)
}

func (s *Server) handleRemovePopup(w http.ResponseWriter, _ *http.Request) {
	s.panel.RemovePopup()
	s.respond(w, nil)
}

// handleSaveSettings applies an optional settings document, then saves.
func (s *Server) handleSaveSettings(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
	if err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(bytes.TrimSpace(body)) > 0 {
		v := s.panel.Settings()
		if err := json.Unmarshal(body, &v); err != nil {
			http.Error(w, "invalid settings", http.StatusBadRequest)
			return
		}
		s.panel.UpdateSettings(v)
	}
	s.respond(w, s.panel.SaveSettings(r.Context()))
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	if s.images == nil {
		http.NotFound(w, r)
		return
	}
	name := chi.URLParam(r, "*")
	if r.URL.RawQuery != "" {
		name += "?" + r.URL.RawQuery
	}
	if !octoprint.ValidImageName(name) {
		http.Error(w, "invalid image name", http.StatusBadRequest)
		return
	}
	rc, contentType, err := s.images.Open(r.Context(), name)
	if err != nil {
		s.logger.Debug("image unavailable", slog.String("name", name), slog.String("error", err.Error()))
		http.Error(w, "image unavailable", http.StatusBadGateway)
		return
	}
	defer rc.Close()
	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = io.Copy(w, rc)
}

func (s *Server) handleMaskPreview(w http.ResponseWriter, r *http.Request) {
	v := s.panel.Settings()
	if s.images == nil || v.ReferenceImage == "" {
		http.Error(w, "no reference image", http.StatusNotFound)
		return
	}
	rc, _, err := s.images.Open(r.Context(), v.ReferenceImage)
	if err != nil {
		http.Error(w, "image unavailable", http.StatusBadGateway)
		return
	}
	defer rc.Close()

	var buf bytes.Buffer
	if err := mask.RenderPreview(&buf, rc, v.MaskPoints); err != nil {
		writeJSONResponse(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(buf.Bytes())
}

// respond writes the state after an operation. Failures were already turned
// into notices or popups by the panel, so the body is the state either way.
func (s *Server) respond(w http.ResponseWriter, err error) {
	status := http.StatusOK
	var appErr *panel.AppError
	switch {
	case err == nil:
	case errors.As(err, &appErr):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, panel.ErrNoStore):
		status = http.StatusServiceUnavailable
	default:
		status = http.StatusBadGateway
	}
	writeJSONResponse(w, status, s.panel.State())
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) broadcast(ctx context.Context, messages <-chan any) {
	for {
		select {
		case <-ctx.Done():
			return
		case message, ok := <-messages:
			if !ok {
				return
			}
			payload, err := json.Marshal(message)
			if err != nil {
				continue
			}
			var stale []*websocket.Conn
			s.mu.Lock()
			for conn, writeMu := range s.clients {
				if err := s.writeMessage(conn, writeMu, websocket.TextMessage, payload); err != nil {
					stale = append(stale, conn)
				}
			}
			s.mu.Unlock()
			for _, conn := range stale {
				s.removeClient(conn)
			}
		}
	}
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.mu.Lock()
	delete(s.clients, conn)
	s.mu.Unlock()
	conn.Close()
}

func (s *Server) clientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) writeJSON(conn *websocket.Conn, writeMu *sync.Mutex, payload any) error {
	writeMu.Lock()
	defer writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(payload)
}

func (s *Server) writeMessage(conn *websocket.Conn, writeMu *sync.Mutex, messageType int, payload []byte) error {
	writeMu.Lock()
	defer writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(messageType, payload)
}
