package types

import "time"

type Severity string

const (
	SeverityError   Severity = "error"
	SeveritySuccess Severity = "success"
	SeverityInfo    Severity = "info"
)

// PopupView is the renderer-facing copy of the panel popup.
type PopupView struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Body     string   `json:"body"`
	Severity Severity `json:"severity"`
	State    string   `json:"state"`
}

type Notice struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Text     string    `json:"text"`
	Severity Severity  `json:"severity"`
	Time     time.Time `json:"time"`
}

type MaskView struct {
	Active   bool   `json:"active"`
	ImageURL string `json:"image_url"`
	Points   string `json:"points"`
}

type SettingsView struct {
	ReferenceImage     string  `json:"reference_image"`
	MatchPercentage    float64 `json:"match_percentage"`
	CancelPrint        bool    `json:"cancel_print"`
	EnableMask         bool    `json:"enable_mask"`
	MaskPoints         string  `json:"mask_points"`
	ReferenceTimestamp string  `json:"reference_timestamp"`
}

// PanelState is broadcast to every view renderer after each change.
type PanelState struct {
	Type           string       `json:"type"`
	Snapshots      []string     `json:"snapshots"`
	TakingSnapshot bool         `json:"taking_snapshot"`
	SnapshotValid  bool         `json:"snapshot_valid"`
	Popup          *PopupView   `json:"popup,omitempty"`
	Notices        []Notice     `json:"notices"`
	Settings       SettingsView `json:"settings"`
	Mask           MaskView     `json:"mask"`
}
