// Package gesture turns pointer input into completed canvas elements.
//
// Multi-click tools (polyline, polygon) finish when a click lands close to an
// earlier point. Closeness is measured in degrees scaled by zoom so the
// "click near the point to finish" gesture feels the same at every zoom level.
package gesture

import (
	"math"

	"github.com/prabin-acharya/atlas-map/pkg/canvas"
)

// ClosureFactor is the closure threshold at zoom level 22.
const ClosureFactor = 6.5e-6

// ClosureThreshold returns the largest lat and lng delta, in degrees, that
// still counts as clicking on an existing point at the given zoom level.
func ClosureThreshold(zoom float64) float64 {
	return ClosureFactor * math.Pow(2, 22-zoom)
}

// Closes reports whether b is within the closure threshold of a on both axes.
func Closes(a, b canvas.Point, zoom float64) bool {
	t := ClosureThreshold(zoom)
	return math.Abs(a.Lat-b.Lat) < t && math.Abs(a.Lng-b.Lng) < t
}

// Interpreter accumulates the candidate path of the gesture in progress. It is
// not safe for concurrent use; it lives on the UI event timeline.
type Interpreter struct {
	tool      canvas.Kind
	zoom      float64
	path      []canvas.Point
	capturing bool
}

func New(zoom float64) *Interpreter {
	return &Interpreter{zoom: zoom}
}

// SetTool switches the drawing tool, abandoning any gesture in progress.
// canvas.KindUnknown means no tool.
func (in *Interpreter) SetTool(k canvas.Kind) {
	in.tool = k
	in.Reset()
}

func (in *Interpreter) Tool() canvas.Kind { return in.tool }

func (in *Interpreter) SetZoom(zoom float64) { in.zoom = zoom }

func (in *Interpreter) Zoom() float64 { return in.zoom }

// Reset discards the candidate path without producing an element.
func (in *Interpreter) Reset() {
	in.path = nil
	in.capturing = false
}

// Path returns a copy of the candidate path, for previews.
func (in *Interpreter) Path() []canvas.Point {
	out := make([]canvas.Point, len(in.path))
	copy(out, in.path)
	return out
}

// Capturing is true while a gesture has started and not yet finished.
func (in *Interpreter) Capturing() bool { return in.capturing }

func (in *Interpreter) finish(e canvas.Element) (canvas.Element, bool) {
	in.tool = canvas.KindUnknown
	in.Reset()
	return e, true
}

// Click handles a map click. It returns the completed element when the click
// finishes a gesture.
func (in *Interpreter) Click(p canvas.Point) (canvas.Element, bool) {
	switch in.tool {
	case canvas.Marker, canvas.Text:
		return in.finish(canvas.NewElement(in.tool, p))

	case canvas.Polyline, canvas.Polygon:
		in.capturing = true
		if len(in.path) > 1 {
			anchor := in.path[len(in.path)-1]
			if in.tool == canvas.Polygon {
				anchor = in.path[0]
			}
			if Closes(anchor, p, in.zoom) {
				// The closing click itself is not part of the shape.
				return in.finish(canvas.NewElement(in.tool, in.path...))
			}
		}
		in.path = append(in.path, p)
	}
	return canvas.Element{}, false
}

// PointerDown starts a freehand capture.
func (in *Interpreter) PointerDown(p canvas.Point) {
	if in.tool != canvas.Freehand {
		return
	}
	in.capturing = true
	in.path = []canvas.Point{p}
}

// PointerMove extends a freehand capture.
func (in *Interpreter) PointerMove(p canvas.Point) {
	if in.tool != canvas.Freehand || !in.capturing {
		return
	}
	in.path = append(in.path, p)
}

// PointerUp finishes a freehand capture with whatever was sampled. It must
// also be called for pointer-up events outside the canvas. A capture holding a
// single sample becomes a two-point stroke on that sample; a pointer-up with
// no capture in progress produces nothing.
func (in *Interpreter) PointerUp() (canvas.Element, bool) {
	if in.tool != canvas.Freehand || !in.capturing || len(in.path) == 0 {
		return canvas.Element{}, false
	}
	path := in.path
	if len(path) == 1 {
		path = append(path, path[0])
	}
	return in.finish(canvas.NewElement(canvas.Freehand, path...))
}
