package panel

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"bedready-go/internal/backend"
	"bedready-go/internal/mask"
	"bedready-go/internal/octoprint"
	"bedready-go/internal/popup"
	"bedready-go/internal/settings"
	"bedready-go/internal/types"
)

type fakeBackend struct {
	mu        sync.Mutex
	list      []string
	listErr   error
	take      backend.TakeResult
	takeErr   error
	deleteErr error
	check     types.ComparisonResult
	checkErr  error

	calls     []string
	takeName  string
	takeMask  backend.MaskOptions
	reference string
	during    func()
}

func (f *fakeBackend) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	during := f.during
	f.mu.Unlock()
	if during != nil {
		during()
	}
}

func (f *fakeBackend) ListSnapshots(context.Context) ([]string, error) {
	f.record("list_snapshots")
	return append([]string{}, f.list...), f.listErr
}

func (f *fakeBackend) TakeSnapshot(_ context.Context, name string, m backend.MaskOptions) (backend.TakeResult, error) {
	f.record("take_snapshot")
	f.takeName = name
	f.takeMask = m
	return f.take, f.takeErr
}

func (f *fakeBackend) DeleteSnapshot(context.Context, string) error {
	f.record("delete_snapshot")
	return f.deleteErr
}

func (f *fakeBackend) CheckBed(_ context.Context, reference string, _ backend.MaskOptions) (types.ComparisonResult, error) {
	f.record("check_bed")
	f.reference = reference
	return f.check, f.checkErr
}

func (f *fakeBackend) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestPanel(t *testing.T, b *fakeBackend, s settings.Settings) (*Panel, *settings.Memory) {
	t.Helper()
	store := settings.NewMemory(s)
	p := New(b, store, Options{
		Plugin:    "bedready",
		ImageBase: "images/",
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:       func() time.Time { return time.Date(2024, 3, 5, 14, 7, 9, 123000000, time.UTC) },
	})
	return p, store
}

func defaultSettings() settings.Settings {
	v := settings.Defaults()
	v.ReferenceImage = "reference_a.jpg"
	return settings.Settings{Plugin: v, WebcamSnapshotURL: "http://cam/snapshot"}
}

func push(t *testing.T, p *Panel, plugin string, msg any) {
	t.Helper()
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal push message: %v", err)
	}
	p.HandlePushMessage(plugin, data)
}

func TestInitializeLoadsSnapshotsAndSettings(t *testing.T) {
	b := &fakeBackend{list: []string{"reference_a.jpg", "reference_b.jpg"}}
	s := defaultSettings()
	s.Plugin.EnableMask = true
	p, _ := newTestPanel(t, b, s)

	if err := p.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	st := p.State()
	if len(st.Snapshots) != 2 || st.Snapshots[1] != "reference_b.jpg" {
		t.Fatalf("unexpected snapshots %#v", st.Snapshots)
	}
	if !st.SnapshotValid {
		t.Fatal("expected snapshot url to be valid")
	}
	if !st.Mask.Active || st.Mask.ImageURL != "images/reference_a.jpg" {
		t.Fatalf("expected mask editor bound to the reference image, got %#v", st.Mask)
	}
}

func TestInitializeFailureShowsNotice(t *testing.T) {
	b := &fakeBackend{listErr: &octoprint.APIError{Status: 500, Message: "boom"}}
	p, _ := newTestPanel(t, b, defaultSettings())

	if err := p.Initialize(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	st := p.State()
	if len(st.Notices) != 1 || st.Notices[0].Text != "Failed to load snapshots: boom" {
		t.Fatalf("unexpected notices %#v", st.Notices)
	}
	if st.Popup != nil {
		t.Fatal("transport failures should not open the popup")
	}
}

func TestInitializeFailureStillBindsMask(t *testing.T) {
	b := &fakeBackend{listErr: &octoprint.APIError{Status: 500, Message: "boom"}}
	s := defaultSettings()
	s.Plugin.EnableMask = true
	p, _ := newTestPanel(t, b, s)

	var emitted []types.PanelState
	p.Subscribe(func(st types.PanelState) { emitted = append(emitted, st) })

	if err := p.Initialize(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if st := p.State(); !st.Mask.Active {
		t.Fatalf("mask editor should be attached after a failed list, got %#v", st.Mask)
	}
	if len(emitted) == 0 || !emitted[len(emitted)-1].Mask.Active {
		t.Fatal("final emitted state should carry the attached mask")
	}
}

func TestTakeSnapshotReplacesCollection(t *testing.T) {
	b := &fakeBackend{take: backend.TakeResult{Snapshots: []string{"reference_b.jpg", "reference_c.jpg"}}}
	s := defaultSettings()
	s.Plugin.EnableMask = true
	s.Plugin.MaskPoints = "1,1 9,1 9,9"
	p, _ := newTestPanel(t, b, s)
	p.mu.Lock()
	p.snapshots = []string{"reference_a.jpg"}
	p.settings = s
	p.mu.Unlock()

	var busySeen bool
	b.during = func() { busySeen = p.State().TakingSnapshot }

	if err := p.TakeSnapshot(context.Background()); err != nil {
		t.Fatalf("TakeSnapshot: %v", err)
	}
	if !busySeen {
		t.Fatal("busy flag should be set while the request is in flight")
	}
	st := p.State()
	if st.TakingSnapshot {
		t.Fatal("busy flag should be cleared")
	}
	if strings.Join(st.Snapshots, ",") != "reference_b.jpg,reference_c.jpg" {
		t.Fatalf("collection should equal the server list, got %#v", st.Snapshots)
	}
	if b.takeName != "reference_2024-03-05T14:07:09.123Z.jpg" {
		t.Fatalf("unexpected snapshot name %q", b.takeName)
	}
	if !b.takeMask.Enabled || b.takeMask.Points != "1,1 9,1 9,9" {
		t.Fatalf("unexpected mask options %#v", b.takeMask)
	}
}

func TestTakeSnapshotApplicationErrorShowsPopup(t *testing.T) {
	b := &fakeBackend{take: backend.TakeResult{Error: "missing or incorrect snapshot url"}}
	p, _ := newTestPanel(t, b, defaultSettings())
	p.mu.Lock()
	p.snapshots = []string{"reference_a.jpg"}
	p.mu.Unlock()

	err := p.TakeSnapshot(context.Background())
	var appErr *AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected AppError, got %v", err)
	}
	st := p.State()
	if st.TakingSnapshot {
		t.Fatal("busy flag should be cleared")
	}
	if st.Popup == nil || st.Popup.Title != popup.TitleError || st.Popup.Severity != types.SeverityError {
		t.Fatalf("unexpected popup %#v", st.Popup)
	}
	if !strings.Contains(st.Popup.Body, "<pre>missing or incorrect snapshot url</pre>") {
		t.Fatalf("unexpected popup body %q", st.Popup.Body)
	}
	if len(st.Snapshots) != 1 {
		t.Fatalf("collection should be untouched, got %#v", st.Snapshots)
	}
}

func TestTakeSnapshotTransportFailure(t *testing.T) {
	b := &fakeBackend{takeErr: &octoprint.APIError{Status: 500, Message: "disk full"}}
	p, _ := newTestPanel(t, b, defaultSettings())

	if err := p.TakeSnapshot(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	st := p.State()
	if st.TakingSnapshot {
		t.Fatal("busy flag should be cleared on failure")
	}
	if len(st.Notices) != 1 || st.Notices[0].Text != "There was an error saving the snapshot: disk full" {
		t.Fatalf("unexpected notices %#v", st.Notices)
	}
}

func TestDeleteSnapshotRemovesExactlyOne(t *testing.T) {
	b := &fakeBackend{}
	p, _ := newTestPanel(t, b, defaultSettings())
	p.mu.Lock()
	p.snapshots = []string{"a.jpg", "b.jpg", "a.jpg"}
	p.mu.Unlock()

	if err := p.DeleteSnapshot(context.Background(), "a.jpg"); err != nil {
		t.Fatalf("DeleteSnapshot: %v", err)
	}
	st := p.State()
	if strings.Join(st.Snapshots, ",") != "b.jpg,a.jpg" {
		t.Fatalf("unexpected snapshots %#v", st.Snapshots)
	}
	if len(st.Notices) != 1 || st.Notices[0].Title != "Snapshot Deleted" || st.Notices[0].Text != "a.jpg" {
		t.Fatalf("unexpected notices %#v", st.Notices)
	}
}

func TestDeleteSnapshotFailureKeepsCollection(t *testing.T) {
	b := &fakeBackend{deleteErr: &octoprint.APIError{Status: 500, Message: "Path is not a file"}}
	p, _ := newTestPanel(t, b, defaultSettings())
	p.mu.Lock()
	p.snapshots = []string{"a.jpg", "b.jpg"}
	p.mu.Unlock()

	for i := 0; i < 2; i++ {
		if err := p.DeleteSnapshot(context.Background(), "a.jpg"); err == nil {
			t.Fatal("expected error")
		}
	}
	st := p.State()
	if len(st.Snapshots) != 2 {
		t.Fatalf("failed deletes must not remove entries, got %#v", st.Snapshots)
	}
	if len(st.Notices) != 2 || !strings.HasSuffix(st.Notices[1].Text, "Path is not a file") {
		t.Fatalf("unexpected notices %#v", st.Notices)
	}
}

func TestSetDefaultSnapshotSendsNothing(t *testing.T) {
	b := &fakeBackend{}
	p, store := newTestPanel(t, b, defaultSettings())

	p.SetDefaultSnapshot("reference_z.jpg")
	if got := p.Settings().ReferenceImage; got != "reference_z.jpg" {
		t.Fatalf("unexpected reference image %q", got)
	}
	if b.callCount() != 0 || store.Saves() != 0 {
		t.Fatalf("expected no requests, got %d backend calls and %d saves", b.callCount(), store.Saves())
	}
	if got := p.State().Mask.ImageURL; got != "images/reference_z.jpg" {
		t.Fatalf("unexpected displayed image %q", got)
	}
}

func TestTestSnapshotSeverityFollowsThreshold(t *testing.T) {
	cases := []struct {
		name       string
		similarity float64
		want       types.Severity
	}{
		{"below", 0.97, types.SeverityError},
		{"equal", 0.98, types.SeveritySuccess},
		{"above", 0.995, types.SeveritySuccess},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := &fakeBackend{check: types.ComparisonResult{
				Similarity:     tc.similarity,
				ReferenceImage: "reference_a.jpg",
				TestImage:      "comparison.jpg?20240305140709",
			}}
			s := defaultSettings()
			p, _ := newTestPanel(t, b, s)
			p.mu.Lock()
			p.settings = s
			p.mu.Unlock()

			if _, err := p.TestSnapshot(context.Background()); err != nil {
				t.Fatalf("TestSnapshot: %v", err)
			}
			st := p.State()
			if st.TakingSnapshot {
				t.Fatal("busy flag should be cleared")
			}
			if st.Popup == nil || st.Popup.Title != popup.TitleTest {
				t.Fatalf("unexpected popup %#v", st.Popup)
			}
			if st.Popup.Severity != tc.want {
				t.Fatalf("similarity %v: got severity %q want %q", tc.similarity, st.Popup.Severity, tc.want)
			}
			if !strings.Contains(st.Popup.Body, popup.FormatPercentage(tc.similarity)+"%") {
				t.Fatalf("percentage missing from body %q", st.Popup.Body)
			}
			if b.reference != "reference_a.jpg" {
				t.Fatalf("unexpected reference sent %q", b.reference)
			}
		})
	}
}

func TestTestSnapshotTransportFailureClearsBusy(t *testing.T) {
	b := &fakeBackend{checkErr: errors.New("connection refused")}
	p, _ := newTestPanel(t, b, defaultSettings())

	if _, err := p.TestSnapshot(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	st := p.State()
	if st.TakingSnapshot {
		t.Fatal("busy flag should be cleared")
	}
	if len(st.Notices) != 1 {
		t.Fatalf("expected one notice, got %#v", st.Notices)
	}
}

func TestPushNotReadyShowsPercentage(t *testing.T) {
	p, _ := newTestPanel(t, &fakeBackend{}, defaultSettings())
	push(t, p, "bedready", map[string]any{
		"similarity":      0.42,
		"bed_clear":       false,
		"reference_image": "reference_a.jpg",
		"test_image":      "comparison.jpg?1",
	})

	st := p.State()
	if st.Popup == nil {
		t.Fatal("expected popup")
	}
	if st.Popup.Title != popup.TitleNotReady || st.Popup.Severity != types.SeverityError || st.Popup.State != "open" {
		t.Fatalf("unexpected popup %#v", st.Popup)
	}
	for _, want := range []string{"42.00%", "paused", "images/reference_a.jpg", "images/comparison.jpg?1"} {
		if !strings.Contains(st.Popup.Body, want) {
			t.Fatalf("popup body %q missing %q", st.Popup.Body, want)
		}
	}
}

func TestPushBedClearRemovesPopup(t *testing.T) {
	p, _ := newTestPanel(t, &fakeBackend{}, defaultSettings())
	push(t, p, "bedready", map[string]any{"error": "camera offline"})
	if p.PopupState() != popup.Open {
		t.Fatalf("expected open popup, got %v", p.PopupState())
	}

	push(t, p, "bedready", map[string]any{"bed_clear": true})
	if p.PopupState() != popup.Absent || p.State().Popup != nil {
		t.Fatalf("expected absent popup, got %v", p.PopupState())
	}

	push(t, p, "bedready", map[string]any{"bed_clear": true})
	if p.PopupState() != popup.Absent {
		t.Fatalf("bed clear without popup should stay absent, got %v", p.PopupState())
	}
}

func TestPushUpdatesInPlaceAndReopens(t *testing.T) {
	p, _ := newTestPanel(t, &fakeBackend{}, defaultSettings())
	push(t, p, "bedready", map[string]any{"similarity": 0.5, "bed_clear": false})
	first := p.State().Popup.ID

	if !p.DismissPopup() || p.PopupState() != popup.Closed {
		t.Fatalf("expected closed popup, got %v", p.PopupState())
	}

	push(t, p, "bedready", map[string]any{"similarity": 0.6, "bed_clear": false})
	st := p.State()
	if st.Popup.ID != first {
		t.Fatalf("expected the same popup to be updated, got %q and %q", first, st.Popup.ID)
	}
	if st.Popup.State != "open" || !strings.Contains(st.Popup.Body, "60.00%") {
		t.Fatalf("expected reopened popup with new content, got %#v", st.Popup)
	}
}

func TestPushErrorObjectForm(t *testing.T) {
	p, _ := newTestPanel(t, &fakeBackend{}, defaultSettings())
	push(t, p, "bedready", map[string]any{"error": map[string]any{"error": "unable to download snapshot."}})

	st := p.State()
	if st.Popup == nil || st.Popup.Title != popup.TitleError {
		t.Fatalf("unexpected popup %#v", st.Popup)
	}
	if !strings.Contains(st.Popup.Body, "There was an error: unable to download snapshot.") {
		t.Fatalf("unexpected body %q", st.Popup.Body)
	}
}

func TestPushForOtherPluginIgnored(t *testing.T) {
	p, _ := newTestPanel(t, &fakeBackend{}, defaultSettings())
	var emitted int
	p.Subscribe(func(types.PanelState) { emitted++ })

	push(t, p, "octolapse", map[string]any{"similarity": 0.1, "bed_clear": false})
	p.HandlePushMessage("bedready", json.RawMessage(`not json`))
	if p.PopupState() != popup.Absent || emitted != 0 {
		t.Fatalf("expected no change, got popup %v and %d emits", p.PopupState(), emitted)
	}
}

func TestToggleMaskTwiceActsOnce(t *testing.T) {
	s := defaultSettings()
	s.Plugin.EnableMask = true
	p, _ := newTestPanel(t, &fakeBackend{}, s)
	p.mu.Lock()
	p.settings = s
	p.mu.Unlock()

	var emitted int
	p.Subscribe(func(types.PanelState) { emitted++ })

	if got := p.ToggleMask(); got != mask.Attached {
		t.Fatalf("first toggle: %v", got)
	}
	if got := p.ToggleMask(); got != mask.Unchanged {
		t.Fatalf("second toggle: %v", got)
	}
	if emitted != 1 {
		t.Fatalf("expected one state change, got %d", emitted)
	}

	if got := p.SetMaskEnabled(false); got != mask.Detached {
		t.Fatalf("disable: %v", got)
	}
	if got := p.ToggleMask(); got != mask.Unchanged {
		t.Fatalf("second disable: %v", got)
	}
	if p.State().Mask.Active {
		t.Fatal("editor should be inactive")
	}
}

func TestUpdateMaskNormalizesPoints(t *testing.T) {
	s := defaultSettings()
	s.Plugin.EnableMask = true
	p, _ := newTestPanel(t, &fakeBackend{}, s)
	p.mu.Lock()
	p.settings = s
	p.mu.Unlock()
	p.ToggleMask()

	if err := p.UpdateMask("10.4,20.6 100.5,20 100,200.2"); err != nil {
		t.Fatalf("UpdateMask: %v", err)
	}
	if got := p.Settings().MaskPoints; got != "10,21 101,20 100,200" {
		t.Fatalf("unexpected mask points %q", got)
	}
	if err := p.UpdateMask("garbage"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestSaveSettingsWritesStore(t *testing.T) {
	p, store := newTestPanel(t, &fakeBackend{}, defaultSettings())
	p.SetDefaultSnapshot("reference_q.jpg")
	if err := p.SaveSettings(context.Background()); err != nil {
		t.Fatalf("SaveSettings: %v", err)
	}
	got, _ := store.Load(context.Background())
	if got.Plugin.ReferenceImage != "reference_q.jpg" || store.Saves() != 1 {
		t.Fatalf("unexpected stored settings %#v (saves=%d)", got.Plugin, store.Saves())
	}
}

func TestRemovePopupReturnsToAbsent(t *testing.T) {
	p, _ := newTestPanel(t, &fakeBackend{}, defaultSettings())
	push(t, p, "bedready", map[string]any{"similarity": 0.1})
	p.DismissPopup()
	if !p.RemovePopup() || p.PopupState() != popup.Absent {
		t.Fatalf("expected absent popup, got %v", p.PopupState())
	}
}

func TestNoticesAreBounded(t *testing.T) {
	b := &fakeBackend{deleteErr: errors.New("nope")}
	p, _ := newTestPanel(t, b, defaultSettings())
	for i := 0; i < maxNotices+5; i++ {
		_ = p.DeleteSnapshot(context.Background(), "x.jpg")
	}
	if got := len(p.State().Notices); got != maxNotices {
		t.Fatalf("expected %d notices, got %d", maxNotices, got)
	}
}
