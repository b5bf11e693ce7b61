// Package simulator stands in for the printer host when the panel runs in
// debug mode: an in-memory snapshot store that answers the plugin commands,
// and a push stream that alternates paused and cleared notifications.
package simulator

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"sync"
	"time"

	"bedready-go/internal/backend"
	"bedready-go/internal/types"
)

var ErrInjected = errors.New("simulated transport failure")

// Backend answers the four plugin commands from memory.
type Backend struct {
	mu          sync.Mutex
	snapshots   []string
	threshold   float64
	failureRate float64
	rng         *rand.Rand
}

func NewBackend(threshold, failureRate float64, seed int64) *Backend {
	return &Backend{
		snapshots:   []string{},
		threshold:   threshold,
		failureRate: failureRate,
		rng:         rand.New(rand.NewSource(seed)),
	}
}

func (b *Backend) fail() bool {
	return b.failureRate > 0 && b.rng.Float64() < b.failureRate
}

func (b *Backend) ListSnapshots(context.Context) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail() {
		return nil, ErrInjected
	}
	return append([]string{}, b.snapshots...), nil
}

func (b *Backend) TakeSnapshot(_ context.Context, name string, _ backend.MaskOptions) (backend.TakeResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail() {
		return backend.TakeResult{}, ErrInjected
	}
	if name == "" {
		return backend.TakeResult{Error: "missing snapshot name"}, nil
	}
	b.snapshots = append(b.snapshots, name)
	return backend.TakeResult{Snapshots: append([]string{}, b.snapshots...)}, nil
}

func (b *Backend) DeleteSnapshot(_ context.Context, filename string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail() {
		return ErrInjected
	}
	for i, name := range b.snapshots {
		if name == filename {
			b.snapshots = append(b.snapshots[:i], b.snapshots[i+1:]...)
			return nil
		}
	}
	return errors.New("Path is not a file")
}

// CheckBed draws a similarity around the threshold so both outcomes show up.
func (b *Backend) CheckBed(_ context.Context, reference string, _ backend.MaskOptions) (types.ComparisonResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail() {
		return types.ComparisonResult{}, ErrInjected
	}
	if reference == "" {
		return types.ComparisonResult{Error: "no reference image selected"}, nil
	}
	sim := b.similarity()
	bedClear := sim >= b.threshold
	return types.ComparisonResult{
		Similarity:     sim,
		BedClear:       &bedClear,
		ReferenceImage: reference,
		TestImage:      "comparison.jpg?" + time.Now().Format("20060102150405"),
	}, nil
}

func (b *Backend) similarity() float64 {
	sim := b.threshold + (b.rng.Float64()-0.5)*0.1
	if sim > 1 {
		sim = 1
	}
	if sim < 0 {
		sim = 0
	}
	return sim
}

// Stream emits a paused message followed by a cleared one, one per tick.
func Stream(ctx context.Context, plugin string, interval time.Duration, reference string) <-chan types.PluginMessage {
	out := make(chan types.PluginMessage)
	go func() {
		defer close(out)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		rng := rand.New(rand.NewSource(time.Now().UnixNano()))
		paused := false
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				var msg types.PushMessage
				if paused {
					msg = types.PushMessage{BedClear: true}
				} else {
					sim := 0.5 + rng.Float64()*0.4
					msg = types.PushMessage{
						Similarity:     &sim,
						ReferenceImage: reference,
						TestImage:      "comparison.jpg?" + time.Now().Format("20060102150405"),
					}
				}
				paused = !paused

				data, err := json.Marshal(msg)
				if err != nil {
					continue
				}
				select {
				case <-ctx.Done():
					return
				case out <- types.PluginMessage{Plugin: plugin, Data: data}:
				}
			}
		}
	}()
	return out
}
