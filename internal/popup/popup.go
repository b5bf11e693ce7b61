// Package popup implements the panel's single notification popup.
//
// A popup is absent until first shown. Showing it again updates the content
// in place and reopens it if the user had closed it. Removal always returns
// it to absent.
package popup

import (
	"html/template"

	"github.com/google/uuid"

	"bedready-go/internal/types"
)

type State int

const (
	Absent State = iota
	Open
	Closed
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case Closed:
		return "closed"
	default:
		return "absent"
	}
}

// Content is what a popup displays.
type Content struct {
	Title    string
	Body     template.HTML
	Severity types.Severity
}

type popup struct {
	id      string
	content Content
	state   State
}

// Manager owns at most one popup. It is not safe for concurrent use; the
// panel serializes access.
type Manager struct {
	current *popup
}

// Show creates the popup or updates it in place. It reports whether a new
// popup was created.
func (m *Manager) Show(c Content) bool {
	c.Body = Sanitize(c.Body)
	if m.current == nil {
		m.current = &popup{id: uuid.NewString(), content: c, state: Open}
		return true
	}
	m.current.content = c
	if m.current.state == Closed {
		m.current.state = Open
	}
	return false
}

// Dismiss is the user closing the popup. Only an open popup can be closed.
func (m *Manager) Dismiss() bool {
	if m.current == nil || m.current.state != Open {
		return false
	}
	m.current.state = Closed
	return true
}

// Remove drops the popup whatever its state and reports whether one existed.
func (m *Manager) Remove() bool {
	if m.current == nil {
		return false
	}
	m.current = nil
	return true
}

func (m *Manager) State() State {
	if m.current == nil {
		return Absent
	}
	return m.current.state
}

// View returns a copy for renderers, or nil when absent.
func (m *Manager) View() *types.PopupView {
	if m.current == nil {
		return nil
	}
	return &types.PopupView{
		ID:       m.current.id,
		Title:    m.current.content.Title,
		Body:     string(m.current.content.Body),
		Severity: m.current.content.Severity,
		State:    m.current.state.String(),
	}
}
