// Package interaction tracks what the local user is doing with the canvas:
// drawing with a tool, holding a selection, or dragging an element.
package interaction

import (
	"fmt"

	"github.com/prabin-acharya/atlas-map/pkg/canvas"
)

type Mode uint8

const (
	Idle Mode = iota
	Drawing
	Selected
	Dragging
)

func (m Mode) String() string {
	switch m {
	case Idle:
		return "idle"
	case Drawing:
		return "drawing"
	case Selected:
		return "selected"
	case Dragging:
		return "dragging"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// State is a snapshot of the machine. Tool is set only while Drawing and
// ElementID only while Selected or Dragging.
type State struct {
	Mode      Mode
	Tool      canvas.Kind
	ElementID string
}

func (s State) String() string {
	switch s.Mode {
	case Drawing:
		return fmt.Sprintf("drawing(%s)", s.Tool)
	case Selected, Dragging:
		return fmt.Sprintf("%s(%s)", s.Mode, s.ElementID)
	default:
		return s.Mode.String()
	}
}

// Machine is the interaction state machine. Transitions that are not legal
// from the current state are ignored and reported as false.
type Machine struct {
	state State
}

func (m *Machine) State() State { return m.state }

// MapDraggable reports whether the map surface may pan. It only may when the
// user is neither drawing nor holding an element.
func (m *Machine) MapDraggable() bool { return m.state.Mode == Idle }

// SelectTool enters Drawing with the given tool, dropping any selection.
// canvas.KindUnknown is the same as Complete.
func (m *Machine) SelectTool(k canvas.Kind) {
	if !k.Valid() {
		m.state = State{}
		return
	}
	m.state = State{Mode: Drawing, Tool: k}
}

// Complete returns to Idle after a gesture finished or was abandoned.
func (m *Machine) Complete() bool {
	if m.state.Mode != Drawing {
		return false
	}
	m.state = State{}
	return true
}

// ClickElement selects an element. Clicks on elements while drawing belong to
// the gesture and do not select.
func (m *Machine) ClickElement(id string) bool {
	if m.state.Mode == Drawing || m.state.Mode == Dragging || id == "" {
		return false
	}
	m.state = State{Mode: Selected, ElementID: id}
	return true
}

// PointerDown starts dragging when it lands on the selected element.
func (m *Machine) PointerDown(id string) bool {
	if m.state.Mode != Selected || id != m.state.ElementID {
		return false
	}
	m.state.Mode = Dragging
	return true
}

// PointerUp ends a drag, keeping the element selected.
func (m *Machine) PointerUp() bool {
	if m.state.Mode != Dragging {
		return false
	}
	m.state.Mode = Selected
	return true
}

// Deselect handles a click on empty map with no tool active.
func (m *Machine) Deselect() bool {
	if m.state.Mode != Selected {
		return false
	}
	m.state = State{}
	return true
}

// ElementRemoved clears the selection when the selected element is deleted,
// locally or by a remote peer.
func (m *Machine) ElementRemoved(id string) bool {
	if (m.state.Mode != Selected && m.state.Mode != Dragging) || m.state.ElementID != id {
		return false
	}
	m.state = State{}
	return true
}
