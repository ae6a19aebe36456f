package gesture

import (
	"errors"

	"github.com/prabin-acharya/atlas-map/pkg/canvas"
)

const (
	// ImageBoxDelta is the half-width, in degrees, of the box an overlay is
	// centred in when dropped.
	ImageBoxDelta = 0.136
	// ImageScreenHeight is the on-screen height of a freshly dropped overlay.
	ImageScreenHeight = 200
)

var ErrBadViewport = errors.New("viewport has no area")

// Viewport describes what the map widget currently shows.
type Viewport struct {
	Bounds canvas.Bounds
	Width  float64
	Height float64
	Zoom   float64
}

// PointAt converts a pixel offset from the viewport's top-left corner to a map point.
func (v Viewport) PointAt(offsetX, offsetY float64) (canvas.Point, error) {
	if v.Width <= 0 || v.Height <= 0 {
		return canvas.Point{}, ErrBadViewport
	}
	fx, fy := offsetX/v.Width, offsetY/v.Height
	return canvas.Point{
		Lat: v.Bounds.North - (v.Bounds.North-v.Bounds.South)*fy,
		Lng: v.Bounds.West + (v.Bounds.East-v.Bounds.West)*fx,
	}, nil
}

// BaseSize normalizes the initial on-screen size of an overlay with the given
// width/height ratio to zoom level 1 units.
func BaseSize(aspect, zoom float64) canvas.Size {
	screen := canvas.Size{Width: ImageScreenHeight * aspect, Height: ImageScreenHeight}
	return screen.Scale(1 / canvas.ZoomScale(zoom))
}

// ScreenSize is the on-screen size of an overlay at the given zoom level.
func ScreenSize(base canvas.Size, zoom float64) canvas.Size {
	return base.Scale(canvas.ZoomScale(zoom))
}

// PlaceImage builds the Image element for a drop at the given pixel offset.
func PlaceImage(v Viewport, offsetX, offsetY float64, url string, aspect float64) (canvas.Element, error) {
	if aspect <= 0 {
		return canvas.Element{}, errors.New("image aspect ratio must be positive")
	}
	at, err := v.PointAt(offsetX, offsetY)
	if err != nil {
		return canvas.Element{}, err
	}
	centre := canvas.Around(at, ImageBoxDelta).Center()
	return canvas.NewImage(centre, url, BaseSize(aspect, v.Zoom)), nil
}
