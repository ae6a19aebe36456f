package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prabin-acharya/atlas-map/pkg/canvas"
	"github.com/prabin-acharya/atlas-map/pkg/gesture"
	"github.com/prabin-acharya/atlas-map/pkg/interaction"
	"github.com/prabin-acharya/atlas-map/pkg/transport"
)

type recordingPersister struct {
	mu  sync.Mutex
	ops []canvas.Operation
}

func (p *recordingPersister) Load(context.Context) ([]canvas.Element, error) { return nil, nil }

func (p *recordingPersister) Mirror(op canvas.Operation, _ float64) {
	if op.Drag {
		return
	}
	p.mu.Lock()
	p.ops = append(p.ops, op)
	p.mu.Unlock()
}

func (p *recordingPersister) Ops() []canvas.Operation {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]canvas.Operation(nil), p.ops...)
}

func start(t *testing.T, hub *transport.Hub, id string, cfg Config) *Session {
	t.Helper()
	cfg.Channel = hub.JoinAs(id)
	s, err := New(cfg)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	select {
	case <-s.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("session never became ready")
	}
	return s
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond, msg)
}

func only(t *testing.T, s canvas.Store) canvas.Element {
	t.Helper()
	elements := s.Elements()
	require.Len(t, elements, 1)
	return elements[0]
}

func TestMarkerPlacementReturnsToIdle(t *testing.T) {
	hub := transport.NewHub()
	a := start(t, hub, "A", Config{})
	b := start(t, hub, "B", Config{})

	a.SelectTool(canvas.Marker)
	assert.False(t, a.MapDraggable())
	a.MapClick(canvas.Point{Lat: 18.52, Lng: 73.86})

	assert.Equal(t, interaction.State{}, a.Interaction())
	assert.True(t, a.MapDraggable())

	eventually(t, func() bool { return b.Elements().Len() == 1 }, "B never saw the marker")
	m := only(t, b.Elements())
	assert.Equal(t, canvas.Marker, m.Kind)
	assert.Equal(t, canvas.Point{Lat: 18.52, Lng: 73.86}, m.Position())

	// A second click places nothing: the tool was released.
	a.MapClick(canvas.Point{Lat: 1, Lng: 1})
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, a.Elements().Len())
}

func TestPolygonClosesNearFirstPoint(t *testing.T) {
	hub := transport.NewHub()
	a := start(t, hub, "A", Config{Zoom: 10})
	b := start(t, hub, "B", Config{Zoom: 10})

	a.SelectTool(canvas.Polygon)
	a.MapClick(canvas.Point{Lat: 0, Lng: 0})
	a.MapClick(canvas.Point{Lat: 0, Lng: 1})
	a.MapClick(canvas.Point{Lat: 1, Lng: 1})
	assert.Len(t, a.Preview(), 3)
	assert.False(t, a.MapDraggable())

	a.MapClick(canvas.Point{Lat: 0.01, Lng: 0.01})
	assert.Equal(t, interaction.Idle, a.Interaction().Mode)
	assert.Empty(t, a.Preview())
	assert.True(t, a.MapDraggable())

	eventually(t, func() bool { return b.Elements().Len() == 1 }, "B never saw the polygon")
	p := only(t, b.Elements())
	assert.Equal(t, canvas.Polygon, p.Kind)
	assert.Equal(t, []canvas.Point{{Lat: 0, Lng: 0}, {Lat: 0, Lng: 1}, {Lat: 1, Lng: 1}}, p.Coords)
}

func TestFreehandStroke(t *testing.T) {
	hub := transport.NewHub()
	a := start(t, hub, "A", Config{})

	a.SelectTool(canvas.Freehand)
	a.PointerDown(canvas.Point{Lat: 1, Lng: 1}, "")
	a.PointerMove(canvas.Point{Lat: 1.1, Lng: 1.1})
	assert.False(t, a.MapDraggable())
	a.PointerMove(canvas.Point{Lat: 1.2, Lng: 1.3})
	a.PointerUp()

	eventually(t, func() bool { return a.Elements().Len() == 1 }, "stroke not added")
	f := only(t, a.Elements())
	assert.Equal(t, canvas.Freehand, f.Kind)
	assert.Len(t, f.Coords, 3)
	assert.True(t, a.MapDraggable())
}

func TestDragPersistsOnlyTheFinalPosition(t *testing.T) {
	hub := transport.NewHub()
	p := &recordingPersister{}
	a := start(t, hub, "A", Config{Persister: p})
	b := start(t, hub, "B", Config{})

	a.SelectTool(canvas.Polyline)
	a.MapClick(canvas.Point{Lat: 0, Lng: 0})
	a.MapClick(canvas.Point{Lat: 1, Lng: 1})
	a.MapClick(canvas.Point{Lat: 1.0001, Lng: 1.0001})
	eventually(t, func() bool { return a.Elements().Len() == 1 }, "polyline not added")
	line := only(t, a.Elements())

	a.ClickElement(line.ID)
	assert.Equal(t, interaction.Selected, a.Interaction().Mode)
	assert.False(t, a.MapDraggable())

	a.PointerDown(canvas.Point{Lat: 0.5, Lng: 0.5}, line.ID)
	assert.Equal(t, interaction.Dragging, a.Interaction().Mode)
	a.PointerMove(canvas.Point{Lat: 1.5, Lng: 0.5})
	a.PointerMove(canvas.Point{Lat: 2.5, Lng: 0.5})

	want := []canvas.Point{{Lat: 2, Lng: 0}, {Lat: 3, Lng: 1}}
	eventually(t, func() bool {
		got, ok := b.Elements().Get(line.ID)
		return ok && assert.ObjectsAreEqual(want, got.Coords)
	}, "B never saw the drag")

	a.PointerUp()
	assert.Equal(t, interaction.Selected, a.Interaction().Mode)

	eventually(t, func() bool { return len(p.Ops()) == 2 }, "expected add and terminal update")
	ops := p.Ops()
	assert.Equal(t, canvas.OpAdd, ops[0].Type)
	assert.Equal(t, canvas.OpUpdate, ops[1].Type)
	assert.Equal(t, want, ops[1].Patch.Coords)
}

func TestRemoteDeleteClearsSelection(t *testing.T) {
	hub := transport.NewHub()
	a := start(t, hub, "A", Config{})
	b := start(t, hub, "B", Config{})

	a.SelectTool(canvas.Text)
	a.MapClick(canvas.Point{Lat: 4, Lng: 4})
	eventually(t, func() bool { return b.Elements().Len() == 1 }, "B never saw the label")
	label := only(t, b.Elements())

	require.NoError(t, a.EditText(label.ID, "meet here"))
	eventually(t, func() bool {
		got, _ := b.Elements().Get(label.ID)
		return got.Text != nil && *got.Text == "meet here"
	}, "B never saw the edit")

	a.ClickElement(label.ID)
	require.Equal(t, interaction.Selected, a.Interaction().Mode)

	b.RightClickElement(label.ID)
	eventually(t, func() bool { return a.Elements().Len() == 0 }, "A never saw the delete")
	assert.Equal(t, interaction.Idle, a.Interaction().Mode)
	assert.True(t, a.MapDraggable())
}

func TestImageDropAndResize(t *testing.T) {
	hub := transport.NewHub()
	a := start(t, hub, "A", Config{Zoom: 3})

	v := gesture.Viewport{
		Bounds: canvas.Bounds{North: 10, South: 0, East: 10, West: 0},
		Width:  100, Height: 100, Zoom: 3,
	}
	e, err := a.DropImage(v, 50, 50, "https://example.com/pin.png", 2)
	require.NoError(t, err)
	eventually(t, func() bool { return a.Elements().Len() == 1 }, "image not added")
	assert.Equal(t, canvas.Size{Width: 100, Height: 50}, e.Image.Size)

	require.NoError(t, a.ResizeImage(e.ID, canvas.Size{Width: 800, Height: 400}))
	eventually(t, func() bool {
		got, _ := a.Elements().Get(e.ID)
		return got.Image.Size == canvas.Size{Width: 200, Height: 100}
	}, "resize not applied")

	assert.ErrorIs(t, a.EditText(e.ID, "nope"), canvas.ErrMalformed)
}

func TestImageDropReleasesTool(t *testing.T) {
	hub := transport.NewHub()
	a := start(t, hub, "A", Config{Zoom: 3})

	a.SelectTool(canvas.Image)
	assert.Equal(t, interaction.Drawing, a.Interaction().Mode)
	assert.False(t, a.MapDraggable())

	v := gesture.Viewport{
		Bounds: canvas.Bounds{North: 10, South: 0, East: 10, West: 0},
		Width:  100, Height: 100, Zoom: 3,
	}
	_, err := a.DropImage(v, 20, 80, "https://example.com/pin.png", 1)
	require.NoError(t, err)

	assert.Equal(t, interaction.State{}, a.Interaction())
	assert.True(t, a.MapDraggable())
	eventually(t, func() bool { return a.Elements().Len() == 1 }, "image not added")

	// The tool was released, so clicks place nothing.
	a.MapClick(canvas.Point{Lat: 1, Lng: 1})
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, a.Elements().Len())
}

func TestCursorsBetweenSessions(t *testing.T) {
	hub := transport.NewHub()
	a := start(t, hub, "A", Config{})
	b := start(t, hub, "B", Config{})

	ctx := context.Background()
	require.NoError(t, a.MoveCursor(ctx, canvas.Point{Lat: 18.5, Lng: 73.8}))
	eventually(t, func() bool { return len(b.Cursors()) == 1 }, "B never saw A's cursor")
	assert.Equal(t, "A", b.Cursors()[0].Conn)
	assert.Empty(t, a.Cursors(), "own cursor is not shown")

	require.NoError(t, a.LeaveCursor(ctx))
	eventually(t, func() bool { return len(b.Cursors()) == 0 }, "leave not applied")
}
