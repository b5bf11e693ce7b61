package mask

import "sync"

// Action is what a toggle did to the editor.
type Action int

const (
	Unchanged Action = iota
	Attached
	Detached
)

func (a Action) String() string {
	switch a {
	case Attached:
		return "attached"
	case Detached:
		return "detached"
	default:
		return "unchanged"
	}
}

// Editor is the polygon editing overlay bound to the reference image.
// While inactive the plain reference image is shown instead.
type Editor struct {
	mu       sync.Mutex
	active   bool
	imageURL string
	polygon  Polygon
}

// Toggle attaches the editor when enabled and inactive, detaches it when
// disabled and active, and does nothing otherwise.
func (e *Editor) Toggle(enabled bool, imageURL string, points string) Action {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch {
	case enabled && !e.active:
		poly, err := Parse(points)
		if err != nil {
			poly = nil
		}
		e.active = true
		e.imageURL = imageURL
		e.polygon = poly
		return Attached
	case !enabled && e.active:
		e.active = false
		e.imageURL = imageURL
		e.polygon = nil
		return Detached
	default:
		e.imageURL = imageURL
		return Unchanged
	}
}

// Bind points the editor (or the plain image shown instead) at a new
// reference image without changing whether it is active.
func (e *Editor) Bind(imageURL string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.imageURL = imageURL
}

// SetPath replaces the polygon being edited. It is ignored while inactive.
func (e *Editor) SetPath(poly Polygon) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.active {
		return false
	}
	e.polygon = append(Polygon(nil), poly...)
	return true
}

func (e *Editor) Active() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

func (e *Editor) ImageURL() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.imageURL
}

func (e *Editor) Polygon() Polygon {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append(Polygon(nil), e.polygon...)
}
