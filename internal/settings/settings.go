// Package settings reads and writes the plugin configuration owned by the
// printer host. The panel keeps a local copy and saves it back explicitly.
package settings

import (
	"context"
	"strings"
	"sync"
)

// Values are the BedReady plugin settings.
type Values struct {
	ReferenceImage     string  `json:"reference_image" yaml:"reference_image"`
	MatchPercentage    float64 `json:"match_percentage" yaml:"match_percentage"`
	CancelPrint        bool    `json:"cancel_print" yaml:"cancel_print"`
	EnableMask         bool    `json:"enable_mask" yaml:"enable_mask"`
	MaskPoints         string  `json:"mask_points" yaml:"mask_points"`
	ReferenceTimestamp string  `json:"reference_timestamp,omitempty" yaml:"reference_timestamp,omitempty"`
}

// Defaults mirror the backend plugin defaults.
func Defaults() Values {
	return Values{
		MatchPercentage: 0.98,
		MaskPoints:      "20,20:620,20:580,400:80,400",
	}
}

// Settings is what the panel reads at startup: the plugin values plus the
// host's webcam snapshot URL, which the panel never writes.
type Settings struct {
	Plugin            Values
	WebcamSnapshotURL string
}

// SnapshotValid reports whether the host can take snapshots at all.
func (s Settings) SnapshotValid() bool {
	return strings.HasPrefix(s.WebcamSnapshotURL, "http")
}

type Store interface {
	Load(ctx context.Context) (Settings, error)
	Save(ctx context.Context, v Values) error
}

// Memory is an in-process Store.
type Memory struct {
	mu       sync.Mutex
	settings Settings
	saves    int
}

func NewMemory(s Settings) *Memory {
	return &Memory{settings: s}
}

func (m *Memory) Load(context.Context) (Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings, nil
}

func (m *Memory) Save(_ context.Context, v Values) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings.Plugin = v
	m.saves++
	return nil
}

// Saves reports how many times Save was called.
func (m *Memory) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
