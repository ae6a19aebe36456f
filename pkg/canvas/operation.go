package canvas

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformed marks an operation that must be rejected without touching state.
var ErrMalformed = errors.New("malformed operation")

type OpType uint8

const (
	OpAdd OpType = iota + 1
	OpUpdate
	OpDelete
)

func (t OpType) String() string {
	switch t {
	case OpAdd:
		return "add"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return fmt.Sprintf("op(%d)", uint8(t))
	}
}

// Patch holds the fields an Update changes. Nil fields are left alone.
type Patch struct {
	Coords []Point
	Text   *string
	Size   *Size
}

func (p Patch) Empty() bool {
	return p.Coords == nil && p.Text == nil && p.Size == nil
}

func (p Patch) clone() Patch {
	out := Patch{Coords: clonePoints(p.Coords)}
	if p.Text != nil {
		t := *p.Text
		out.Text = &t
	}
	if p.Size != nil {
		s := *p.Size
		out.Size = &s
	}
	return out
}

type wirePatch struct {
	Coords json.RawMessage `json:"coords,omitempty"`
	Text   *string         `json:"text,omitempty"`
	Size   *Size           `json:"size,omitempty"`
}

func (p Patch) MarshalJSON() ([]byte, error) {
	w := wirePatch{Text: p.Text, Size: p.Size}
	if p.Coords != nil {
		raw, err := encodeCoords(p.Coords, true)
		if err != nil {
			return nil, err
		}
		w.Coords = raw
	}
	return json.Marshal(w)
}

func (p *Patch) UnmarshalJSON(b []byte) error {
	var w wirePatch
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	coords, err := decodeCoords(w.Coords)
	if err != nil {
		return err
	}
	*p = Patch{Coords: coords, Text: w.Text, Size: w.Size}
	return nil
}

// Merge applies the patch to e and returns the result. e is not modified.
func (p Patch) Merge(e Element) (Element, error) {
	out := e.Clone()
	if p.Coords != nil {
		if err := checkArity(e.Kind, p.Coords); err != nil {
			return e, fmt.Errorf("%w: update %s: %v", ErrMalformed, e.ID, err)
		}
		out.Coords = clonePoints(p.Coords)
	}
	if p.Text != nil {
		if e.Kind != Text {
			return e, fmt.Errorf("%w: update %s: text on a %s", ErrMalformed, e.ID, e.Kind)
		}
		t := *p.Text
		out.Text = &t
	}
	if p.Size != nil {
		if e.Kind != Image || out.Image == nil {
			return e, fmt.Errorf("%w: update %s: size on a %s", ErrMalformed, e.ID, e.Kind)
		}
		out.Image.Size = *p.Size
	}
	return out, nil
}

// Operation is one Add, Update or Delete against a single element. Origin is
// the connection that produced it and is never stored on the element.
type Operation struct {
	Type      OpType
	ElementID string
	Kind      Kind
	Element   *Element
	Patch     *Patch
	Origin    string
	// Drag marks intermediate, high-frequency Updates. Only the terminal
	// Update of a drag is persisted.
	Drag bool
}

func AddOp(e Element) Operation {
	c := e.Clone()
	return Operation{Type: OpAdd, ElementID: e.ID, Kind: e.Kind, Element: &c}
}

func UpdateOp(id string, kind Kind, p Patch) Operation {
	c := p.clone()
	return Operation{Type: OpUpdate, ElementID: id, Kind: kind, Patch: &c}
}

func DragOp(id string, kind Kind, p Patch) Operation {
	op := UpdateOp(id, kind, p)
	op.Drag = true
	return op
}

func DeleteOp(id string, kind Kind) Operation {
	return Operation{Type: OpDelete, ElementID: id, Kind: kind}
}

// Validate performs the checks that do not need the current state.
func (o Operation) Validate() error {
	if o.ElementID == "" {
		return fmt.Errorf("%w: element id is required", ErrMalformed)
	}
	switch o.Type {
	case OpAdd:
		if o.Element == nil {
			return fmt.Errorf("%w: add %s without element", ErrMalformed, o.ElementID)
		}
		if o.Element.ID != o.ElementID {
			return fmt.Errorf("%w: add %s carries element %s", ErrMalformed, o.ElementID, o.Element.ID)
		}
		return o.Element.Validate()
	case OpUpdate:
		if o.Patch == nil || o.Patch.Empty() {
			return fmt.Errorf("%w: update %s changes nothing", ErrMalformed, o.ElementID)
		}
		return nil
	case OpDelete:
		return nil
	default:
		return fmt.Errorf("%w: unknown op type %d", ErrMalformed, o.Type)
	}
}
