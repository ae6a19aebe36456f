package canvas

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
)

// Point is a latitude/longitude pair. Elements are stored in map coordinates,
// never pixels, so they stay valid across zoom and pan.
type Point struct {
	Lat float64 `json:"lat" msgpack:"lat"`
	Lng float64 `json:"lng" msgpack:"lng"`
}

// Bounds is a lat/lng box, as reported by a map viewport.
type Bounds struct {
	North float64 `json:"north"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	West  float64 `json:"west"`
}

func (b Bounds) Center() Point {
	return Point{Lat: (b.North + b.South) / 2, Lng: (b.East + b.West) / 2}
}

// Around returns a box extending delta degrees from p in each direction.
func Around(p Point, delta float64) Bounds {
	return Bounds{North: p.Lat + delta, South: p.Lat - delta, East: p.Lng + delta, West: p.Lng - delta}
}

// Size of an image overlay.
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (s Size) Scale(f float64) Size {
	return Size{Width: s.Width * f, Height: s.Height * f}
}

// ZoomScale is the factor between base (zoom level 1) units and on-screen
// units at the given zoom level.
func ZoomScale(zoom float64) float64 {
	return math.Pow(2, zoom-1)
}

// encodeCoords writes a single point as an object and anything else as an
// array, which is the shape clients exchange.
func encodeCoords(pts []Point, single bool) ([]byte, error) {
	if single && len(pts) == 1 {
		return json.Marshal(pts[0])
	}
	if pts == nil {
		pts = []Point{}
	}
	return json.Marshal(pts)
}

func decodeCoords(raw json.RawMessage) ([]Point, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	switch raw[0] {
	case '[':
		var pts []Point
		if err := json.Unmarshal(raw, &pts); err != nil {
			return nil, fmt.Errorf("failed to decode coords: %w", err)
		}
		return pts, nil
	case '{':
		var p Point
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("failed to decode coords: %w", err)
		}
		return []Point{p}, nil
	default:
		return nil, fmt.Errorf("failed to decode coords: unexpected %q", raw[0])
	}
}

func clonePoints(pts []Point) []Point {
	if pts == nil {
		return nil
	}
	out := make([]Point, len(pts))
	copy(out, pts)
	return out
}
