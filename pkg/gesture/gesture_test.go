package gesture

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prabin-acharya/atlas-map/pkg/canvas"
)

func pt(lat, lng float64) canvas.Point { return canvas.Point{Lat: lat, Lng: lng} }

func TestClosureThresholdScalesWithZoom(t *testing.T) {
	assert.InDelta(t, 6.5e-6, ClosureThreshold(22), 1e-12)
	assert.InDelta(t, 0.026624, ClosureThreshold(10), 1e-9)
	assert.InDelta(t, ClosureThreshold(10)*2, ClosureThreshold(9), 1e-12)

	// The same raw delta closes when zoomed out and does not when zoomed in.
	a, b := pt(0, 0), pt(0.02, 0.02)
	assert.True(t, Closes(a, b, 10))
	assert.False(t, Closes(a, b, 12))

	// Both axes must be within the threshold.
	assert.False(t, Closes(pt(0, 0), pt(0.001, 1), 10))
}

func TestPolygonClosesOnFirstPoint(t *testing.T) {
	in := New(10)
	in.SetTool(canvas.Polygon)

	for _, p := range []canvas.Point{pt(18, 73), pt(18.5, 73), pt(18.5, 73.5)} {
		_, done := in.Click(p)
		require.False(t, done)
	}
	assert.True(t, in.Capturing())

	e, done := in.Click(pt(18.01, 73.01))
	require.True(t, done)
	assert.Equal(t, canvas.Polygon, e.Kind)
	assert.Equal(t, []canvas.Point{pt(18, 73), pt(18.5, 73), pt(18.5, 73.5)}, e.Coords)
	assert.NoError(t, e.Validate())
	assert.Equal(t, canvas.KindUnknown, in.Tool())
	assert.False(t, in.Capturing())
	assert.Empty(t, in.Path())
}

func TestPolylineClosesOnPreviousPoint(t *testing.T) {
	in := New(10)
	in.SetTool(canvas.Polyline)

	in.Click(pt(0, 0))
	in.Click(pt(1, 1))

	// Near the first point, but polylines only look at the previous one.
	_, done := in.Click(pt(0.001, 0.001))
	require.False(t, done)

	e, done := in.Click(pt(0.002, 0.002))
	require.True(t, done)
	assert.Equal(t, canvas.Polyline, e.Kind)
	assert.Equal(t, []canvas.Point{pt(0, 0), pt(1, 1), pt(0.001, 0.001)}, e.Coords)
}

func TestPolylineNeedsTwoPointsBeforeClosing(t *testing.T) {
	in := New(10)
	in.SetTool(canvas.Polyline)
	in.Click(pt(0, 0))
	_, done := in.Click(pt(0, 0))
	assert.False(t, done, "a double click on the first point must not finish a one-point line")
	assert.Len(t, in.Path(), 2)
}

func TestSwitchingToolAbandonsPath(t *testing.T) {
	in := New(10)
	in.SetTool(canvas.Polygon)
	in.Click(pt(0, 0))
	in.Click(pt(1, 0))
	in.SetTool(canvas.Marker)
	assert.Empty(t, in.Path())
	assert.False(t, in.Capturing())
}

func TestMarkerAndTextCompleteOnClick(t *testing.T) {
	in := New(10)
	in.SetTool(canvas.Marker)
	e, done := in.Click(pt(18.52, 73.86))
	require.True(t, done)
	assert.Equal(t, canvas.Marker, e.Kind)
	assert.Equal(t, pt(18.52, 73.86), e.Position())

	_, done = in.Click(pt(1, 1))
	assert.False(t, done, "tool resets after placing")

	in.SetTool(canvas.Text)
	e, done = in.Click(pt(1, 2))
	require.True(t, done)
	require.NotNil(t, e.Text)
	assert.Equal(t, "", *e.Text)
}

func TestFreehandCapture(t *testing.T) {
	in := New(10)
	in.SetTool(canvas.Freehand)

	in.PointerMove(pt(5, 5))
	_, done := in.PointerUp()
	assert.False(t, done, "pointer-up without a capture is abandoned")

	in.SetTool(canvas.Freehand)
	in.PointerDown(pt(0, 0))
	assert.True(t, in.Capturing())
	in.PointerMove(pt(0, 1))
	in.PointerMove(pt(0, 2))

	e, done := in.PointerUp()
	require.True(t, done)
	assert.Equal(t, canvas.Freehand, e.Kind)
	assert.Equal(t, []canvas.Point{pt(0, 0), pt(0, 1), pt(0, 2)}, e.Coords)
	assert.False(t, in.Capturing())
}

func TestFreehandSingleSample(t *testing.T) {
	in := New(10)
	in.SetTool(canvas.Freehand)
	in.PointerDown(pt(3, 4))

	e, done := in.PointerUp()
	require.True(t, done)
	assert.Equal(t, []canvas.Point{pt(3, 4), pt(3, 4)}, e.Coords)
	assert.NoError(t, e.Validate())
}

func TestPlaceImage(t *testing.T) {
	v := Viewport{
		Bounds: canvas.Bounds{North: 10, South: 0, East: 20, West: 10},
		Width:  100,
		Height: 200,
		Zoom:   3,
	}
	e, err := PlaceImage(v, 50, 50, "blob:img", 1.5)
	require.NoError(t, err)
	assert.Equal(t, canvas.Image, e.Kind)
	assert.InDelta(t, 7.5, e.Position().Lat, 1e-9)
	assert.InDelta(t, 15, e.Position().Lng, 1e-9)
	require.NotNil(t, e.Image)
	assert.Equal(t, canvas.Size{Width: 75, Height: 50}, e.Image.Size)
	assert.Equal(t, canvas.Size{Width: 300, Height: 200}, ScreenSize(e.Image.Size, 3))
	assert.Equal(t, canvas.Size{Width: 600, Height: 400}, ScreenSize(e.Image.Size, 4))

	_, err = PlaceImage(Viewport{}, 0, 0, "x", 1)
	assert.ErrorIs(t, err, ErrBadViewport)
	_, err = PlaceImage(v, 0, 0, "x", 0)
	assert.Error(t, err)
}
