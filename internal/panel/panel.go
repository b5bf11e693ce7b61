// Package panel is the BedReady view model: it owns the observable UI state,
// turns user actions into plugin commands, applies push messages, and
// notifies registered renderers after every change.
package panel

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"bedready-go/internal/backend"
	"bedready-go/internal/mask"
	"bedready-go/internal/popup"
	"bedready-go/internal/settings"
	"bedready-go/internal/types"
)

const maxNotices = 10

// Backend is the plugin command API.
type Backend interface {
	ListSnapshots(ctx context.Context) ([]string, error)
	TakeSnapshot(ctx context.Context, name string, mask backend.MaskOptions) (backend.TakeResult, error)
	DeleteSnapshot(ctx context.Context, filename string) error
	CheckBed(ctx context.Context, reference string, mask backend.MaskOptions) (types.ComparisonResult, error)
}

// AppError is a command that reached the backend and came back with an
// error field.
type AppError struct {
	Command string
	Message string
}

func (e *AppError) Error() string {
	return e.Command + ": " + e.Message
}

type Options struct {
	// Plugin is the identifier push messages must be addressed to.
	Plugin string
	// ImageBase prefixes snapshot filenames to form thumbnail URLs.
	ImageBase string
	Logger    *slog.Logger
	Now       func() time.Time
}

// Listener receives a copy of the state after each change.
type Listener func(types.PanelState)

type Panel struct {
	backend Backend
	store   settings.Store
	plugin  string
	base    string
	logger  *slog.Logger
	now     func() time.Time

	mu        sync.Mutex
	snapshots []string
	busy      bool
	settings  settings.Settings
	popup     popup.Manager
	notices   []types.Notice
	editor    mask.Editor

	emitMu    sync.Mutex
	listeners map[int]Listener
	nextID    int
}

func New(b Backend, store settings.Store, opts Options) *Panel {
	if opts.Plugin == "" {
		opts.Plugin = "bedready"
	}
	if opts.ImageBase == "" {
		opts.ImageBase = "images/"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Panel{
		backend:   b,
		store:     store,
		plugin:    opts.Plugin,
		base:      opts.ImageBase,
		logger:    opts.Logger.With(slog.String("component", "panel")),
		now:       opts.Now,
		snapshots: []string{},
		settings:  settings.Settings{Plugin: settings.Defaults()},
		listeners: make(map[int]Listener),
	}
}

// Subscribe registers fn and returns a function that removes it. Listeners
// run synchronously and must not block.
func (p *Panel) Subscribe(fn Listener) func() {
	p.emitMu.Lock()
	defer p.emitMu.Unlock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	return func() {
		p.emitMu.Lock()
		delete(p.listeners, id)
		p.emitMu.Unlock()
	}
}

// emit delivers the current state. emitMu keeps deliveries ordered so a
// renderer never sees an older state after a newer one.
func (p *Panel) emit() {
	p.emitMu.Lock()
	defer p.emitMu.Unlock()
	if len(p.listeners) == 0 {
		return
	}
	state := p.State()
	for _, fn := range p.listeners {
		fn(state)
	}
}

// State returns a deep copy of the UI state.
func (p *Panel) State() types.PanelState {
	p.mu.Lock()
	defer p.mu.Unlock()

	v := p.settings.Plugin
	imageURL := p.editor.ImageURL()
	if imageURL == "" {
		imageURL = p.referenceURL()
	}
	return types.PanelState{
		Type:           "state",
		Snapshots:      append([]string{}, p.snapshots...),
		TakingSnapshot: p.busy,
		SnapshotValid:  p.settings.SnapshotValid(),
		Popup:          p.popup.View(),
		Notices:        append([]types.Notice{}, p.notices...),
		Settings: types.SettingsView{
			ReferenceImage:     v.ReferenceImage,
			MatchPercentage:    v.MatchPercentage,
			CancelPrint:        v.CancelPrint,
			EnableMask:         v.EnableMask,
			MaskPoints:         v.MaskPoints,
			ReferenceTimestamp: v.ReferenceTimestamp,
		},
		Mask: types.MaskView{
			Active:   p.editor.Active(),
			ImageURL: imageURL,
			Points:   v.MaskPoints,
		},
	}
}

// Settings returns the local copy of the plugin settings.
func (p *Panel) Settings() settings.Values {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.settings.Plugin
}

// ImageURL is the thumbnail URL of a stored image.
func (p *Panel) ImageURL(name string) string {
	return p.base + name
}

// referenceURL must be called with mu held.
func (p *Panel) referenceURL() string {
	v := p.settings.Plugin
	if v.ReferenceImage == "" {
		return ""
	}
	u := p.base + v.ReferenceImage
	if v.ReferenceTimestamp != "" {
		u += "?" + v.ReferenceTimestamp
	}
	return u
}

func (p *Panel) maskOptions() backend.MaskOptions {
	p.mu.Lock()
	defer p.mu.Unlock()
	return backend.MaskOptions{
		Enabled: p.settings.Plugin.EnableMask,
		Points:  p.settings.Plugin.MaskPoints,
	}
}

func (p *Panel) setBusy(busy bool) {
	p.mu.Lock()
	p.busy = busy
	p.mu.Unlock()
	p.emit()
}

// notice records a transient notification. Callers emit.
func (p *Panel) notice(title, text string, severity types.Severity) {
	n := types.Notice{
		ID:       uuid.NewString(),
		Title:    title,
		Text:     text,
		Severity: severity,
		Time:     p.now(),
	}
	p.mu.Lock()
	p.notices = append(p.notices, n)
	if len(p.notices) > maxNotices {
		p.notices = append([]types.Notice(nil), p.notices[len(p.notices)-maxNotices:]...)
	}
	p.mu.Unlock()

	level := slog.LevelInfo
	if severity == types.SeverityError {
		level = slog.LevelWarn
	}
	p.logger.Log(context.Background(), level, "notice", slog.String("title", title), slog.String("text", text))
}

// showPopup creates or updates the popup. Callers emit.
func (p *Panel) showPopup(c popup.Content) {
	p.mu.Lock()
	created := p.popup.Show(c)
	p.mu.Unlock()
	p.logger.Debug("popup shown", slog.String("title", c.Title), slog.Bool("created", created))
}

// DismissPopup is the user closing the popup.
func (p *Panel) DismissPopup() bool {
	p.mu.Lock()
	changed := p.popup.Dismiss()
	p.mu.Unlock()
	if changed {
		p.emit()
	}
	return changed
}

// RemovePopup drops the popup, e.g. when the view is left.
func (p *Panel) RemovePopup() bool {
	p.mu.Lock()
	changed := p.popup.Remove()
	p.mu.Unlock()
	if changed {
		p.emit()
	}
	return changed
}

// PopupState reports the popup lifecycle state.
func (p *Panel) PopupState() popup.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.popup.State()
}

// HandlePushMessage applies one push notification. Messages addressed to
// other plugins and payloads that carry nothing actionable are only logged.
func (p *Panel) HandlePushMessage(plugin string, data json.RawMessage) {
	if plugin != p.plugin {
		p.logger.Debug("push message for another plugin ignored", slog.String("plugin", plugin))
		return
	}
	var msg types.PushMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		p.logger.Warn("push message decode failed", slog.String("error", err.Error()))
		return
	}

	switch {
	case msg.Similarity != nil && !msg.BedClear:
		p.showPopup(popup.Content{
			Title: popup.TitleNotReady,
			Body: popup.ComparisonBody(popup.Comparison{
				Similarity:   *msg.Similarity,
				ReferenceURL: p.ImageURL(msg.ReferenceImage),
				TestURL:      p.ImageURL(msg.TestImage),
				Paused:       true,
			}),
			Severity: types.SeverityError,
		})
		p.logger.Info("bed not ready", slog.Float64("similarity", *msg.Similarity), slog.String("reference", msg.ReferenceImage))
	case msg.BedClear && p.PopupState() != popup.Absent:
		p.mu.Lock()
		p.popup.Remove()
		p.mu.Unlock()
		p.logger.Info("bed clear, popup removed")
	case msg.Error != nil:
		p.showPopup(popup.Content{
			Title:    popup.TitleError,
			Body:     popup.ErrorBody(msg.Error.String(), false),
			Severity: types.SeverityError,
		})
	default:
		p.logger.Debug("push message without action", slog.Bool("bed_clear", msg.BedClear))
		return
	}
	p.emit()
}
