package canvas

import (
	"encoding/json"
	"fmt"
)

// ImageRef is the overlay part of an Image element. URL may be a data: URL
// so that a dropped file reaches peers inline. Size is in base units, see
// ZoomScale.
type ImageRef struct {
	URL  string `json:"url"`
	Size Size   `json:"size"`
}

// Element is a single annotation on the canvas and the unit of replication
// and persistence.
type Element struct {
	ID     string
	Kind   Kind
	Coords []Point
	Text   *string
	Image  *ImageRef
}

// NewElement builds an element of the given kind with a fresh id.
func NewElement(kind Kind, coords ...Point) Element {
	e := Element{ID: NewID(kind), Kind: kind, Coords: clonePoints(coords)}
	if kind == Text {
		empty := ""
		e.Text = &empty
	}
	return e
}

// NewImage builds an image overlay centred on at.
func NewImage(at Point, url string, base Size) Element {
	return Element{
		ID:     NewID(Image),
		Kind:   Image,
		Coords: []Point{at},
		Image:  &ImageRef{URL: url, Size: base},
	}
}

// Position is the anchor point: the only point for point kinds, the last
// point for multi-point kinds.
func (e Element) Position() Point {
	if len(e.Coords) == 0 {
		return Point{}
	}
	return e.Coords[len(e.Coords)-1]
}

func (e Element) Clone() Element {
	out := e
	out.Coords = clonePoints(e.Coords)
	if e.Text != nil {
		t := *e.Text
		out.Text = &t
	}
	if e.Image != nil {
		img := *e.Image
		out.Image = &img
	}
	return out
}

// Validate checks the structural invariants for the element's kind.
func (e Element) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("%w: element id is required", ErrMalformed)
	}
	if !e.Kind.Valid() {
		return fmt.Errorf("%w: element %s has no valid kind", ErrMalformed, e.ID)
	}
	if err := checkArity(e.Kind, e.Coords); err != nil {
		return fmt.Errorf("%w: element %s: %v", ErrMalformed, e.ID, err)
	}
	if e.Text != nil && e.Kind != Text {
		return fmt.Errorf("%w: element %s: text on a %s", ErrMalformed, e.ID, e.Kind)
	}
	if e.Kind == Text && e.Text == nil {
		return fmt.Errorf("%w: element %s: text element without text", ErrMalformed, e.ID)
	}
	if e.Image != nil && e.Kind != Image {
		return fmt.Errorf("%w: element %s: image fields on a %s", ErrMalformed, e.ID, e.Kind)
	}
	if e.Kind == Image && e.Image == nil {
		return fmt.Errorf("%w: element %s: image element without image", ErrMalformed, e.ID)
	}
	return nil
}

func checkArity(k Kind, coords []Point) error {
	switch {
	case len(coords) < k.MinPoints():
		return fmt.Errorf("%s needs at least %d points, got %d", k, k.MinPoints(), len(coords))
	case !k.MultiPoint() && len(coords) != 1:
		return fmt.Errorf("%s takes exactly one point, got %d", k, len(coords))
	}
	return nil
}

type wireElement struct {
	ID     string          `json:"id"`
	Kind   Kind            `json:"kind"`
	Coords json.RawMessage `json:"coords"`
	Text   *string         `json:"text,omitempty"`
	URL    string          `json:"url,omitempty"`
	Size   *Size           `json:"size,omitempty"`
}

func (e Element) MarshalJSON() ([]byte, error) {
	coords, err := encodeCoords(e.Coords, !e.Kind.MultiPoint())
	if err != nil {
		return nil, err
	}
	w := wireElement{ID: e.ID, Kind: e.Kind, Coords: coords, Text: e.Text}
	if e.Image != nil {
		size := e.Image.Size
		w.URL, w.Size = e.Image.URL, &size
	}
	return json.Marshal(w)
}

// UnmarshalJSON accepts both the current shape and legacy rows whose kind is
// only recoverable from the id prefix.
func (e *Element) UnmarshalJSON(b []byte) error {
	var w wireElement
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	coords, err := decodeCoords(w.Coords)
	if err != nil {
		return err
	}
	kind := w.Kind
	if kind == KindUnknown && w.ID != "" {
		if kind, err = KindFromID(w.ID); err != nil {
			return err
		}
	}
	*e = Element{ID: w.ID, Kind: kind, Coords: coords, Text: w.Text}
	if w.URL != "" || w.Size != nil || kind == Image {
		img := &ImageRef{URL: w.URL}
		if w.Size != nil {
			img.Size = *w.Size
		}
		e.Image = img
	}
	return nil
}
