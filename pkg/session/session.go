// Package session is what a map UI talks to. It turns pointer and tool events
// into element operations, keeps the interaction state, and exposes the
// replicated store and remote cursors of one collaborative session.
//
// UI methods are meant to be called from a single event timeline. They never
// wait on the network.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/prabin-acharya/atlas-map/pkg/bridge"
	"github.com/prabin-acharya/atlas-map/pkg/canvas"
	"github.com/prabin-acharya/atlas-map/pkg/gesture"
	"github.com/prabin-acharya/atlas-map/pkg/interaction"
	"github.com/prabin-acharya/atlas-map/pkg/presence"
	"github.com/prabin-acharya/atlas-map/pkg/transport"
)

type Config struct {
	// Channel is the session channel. The session owns it from New onwards.
	Channel   transport.Channel
	Persister bridge.Persister
	Logger    *slog.Logger
	Zoom      float64
	// OnChange runs after every store transition, on the replication goroutine.
	OnChange func(bridge.Change)
	// OnCursors runs whenever the remote cursor set changes.
	OnCursors func()
}

func (c *Config) Validate() error {
	if c.Channel == nil {
		return errors.New("channel is required")
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Zoom <= 0 {
		c.Zoom = 10
	}
	return nil
}

type drag struct {
	element canvas.Element
	start   canvas.Point
	coords  []canvas.Point
	moved   bool
}

type Session struct {
	log      *slog.Logger
	ch       transport.Channel
	router   *transport.Router
	bridge   *bridge.Bridge
	tracker  *presence.Tracker
	cursors  transport.Channel
	pointer  *presence.Broadcaster
	onChange func(bridge.Change)

	mu      sync.Mutex
	machine interaction.Machine
	gesture *gesture.Interpreter
	drag    *drag
}

func New(cfg Config) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	s := &Session{
		log:      cfg.Logger,
		ch:       cfg.Channel,
		router:   transport.NewRouter(cfg.Channel),
		onChange: cfg.OnChange,
		gesture:  gesture.New(cfg.Zoom),
	}
	elements := s.router.Route(bridge.IsElementEvent)
	s.cursors = s.router.Route(presence.IsEvent)

	b, err := bridge.New(bridge.Config{
		Channel:   elements,
		Persister: cfg.Persister,
		Logger:    cfg.Logger,
		OnChange:  s.changed,
		Zoom:      cfg.Zoom,
	})
	if err != nil {
		return nil, err
	}
	s.bridge = b
	s.tracker = presence.NewTracker(cfg.Channel.ConnectionID, cfg.OnCursors)
	s.pointer = presence.NewBroadcaster(cfg.Channel)
	return s, nil
}

// Run replicates the session until ctx is done or the channel closes. The
// channel is closed on return.
func (s *Session) Run(ctx context.Context) error {
	defer s.ch.Close()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.router.Run(ctx) })
	g.Go(func() error { return s.bridge.Run(ctx) })
	g.Go(func() error { return s.tracker.Run(ctx, s.cursors) })
	return g.Wait()
}

// Ready is closed once the persisted baseline is in the store.
func (s *Session) Ready() <-chan struct{} { return s.bridge.Ready() }

func (s *Session) ConnectionID() string { return s.ch.ConnectionID() }

// Elements is the current store snapshot.
func (s *Session) Elements() canvas.Store { return s.bridge.State() }

func (s *Session) Stats() bridge.Stats { return s.bridge.Stats() }

// Cursors lists the remote cursors to draw.
func (s *Session) Cursors() []presence.Cursor { return s.tracker.Visible() }

func (s *Session) Interaction() interaction.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.machine.State()
}

// Preview is the path of the gesture in progress.
func (s *Session) Preview() []canvas.Point {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gesture.Path()
}

// MapDraggable reports whether the map may pan: nothing is being drawn,
// captured, selected or dragged.
func (s *Session) MapDraggable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.machine.MapDraggable() && !s.gesture.Capturing()
}

func (s *Session) SelectTool(k canvas.Kind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drag = nil
	s.machine.SelectTool(k)
	s.gesture.SetTool(s.machine.State().Tool)
}

func (s *Session) SetZoom(zoom float64) {
	s.mu.Lock()
	s.gesture.SetZoom(zoom)
	s.mu.Unlock()
	s.bridge.SetZoom(zoom)
}

// MapClick handles a click on the map surface (not on an element).
func (s *Session) MapClick(p canvas.Point) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.machine.State().Mode != interaction.Drawing {
		s.machine.Deselect()
		return
	}
	if e, ok := s.gesture.Click(p); ok {
		s.add(e)
	}
}

// PointerDown handles a press on the map. elementID is the element under
// the pointer, if any.
func (s *Session) PointerDown(p canvas.Point, elementID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if elementID != "" && s.machine.PointerDown(elementID) {
		e, ok := s.bridge.State().Get(elementID)
		if !ok {
			s.machine.ElementRemoved(elementID)
			return
		}
		s.drag = &drag{element: e, start: p, coords: e.Coords}
		return
	}
	s.gesture.PointerDown(p)
}

func (s *Session) PointerMove(p canvas.Point) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.drag != nil {
		d := s.drag
		d.coords = translate(d.element.Coords, p.Lat-d.start.Lat, p.Lng-d.start.Lng)
		d.moved = true
		s.bridge.Submit(canvas.DragOp(d.element.ID, d.element.Kind, canvas.Patch{Coords: d.coords}))
		return
	}
	s.gesture.PointerMove(p)
}

// PointerUp must be called for every pointer release, including ones outside
// the map surface.
func (s *Session) PointerUp() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d := s.drag; d != nil {
		s.drag = nil
		s.machine.PointerUp()
		if d.moved {
			s.bridge.Submit(canvas.UpdateOp(d.element.ID, d.element.Kind, canvas.Patch{Coords: d.coords}))
		}
		return
	}
	if e, ok := s.gesture.PointerUp(); ok {
		s.add(e)
	}
}

func (s *Session) ClickElement(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.machine.ClickElement(id)
}

// RightClickElement deletes the element under the pointer.
func (s *Session) RightClickElement(id string) {
	s.Delete(id)
}

func (s *Session) Delete(id string) {
	e, ok := s.bridge.State().Get(id)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.drag != nil && s.drag.element.ID == id {
		s.drag = nil
	}
	s.machine.ElementRemoved(id)
	s.bridge.Submit(canvas.DeleteOp(id, e.Kind))
}

// EditText replaces the content of a text label.
func (s *Session) EditText(id, text string) error {
	e, ok := s.bridge.State().Get(id)
	if !ok {
		return nil
	}
	if e.Kind != canvas.Text {
		return fmt.Errorf("%w: %s is not a text label", canvas.ErrMalformed, id)
	}
	s.bridge.Submit(canvas.UpdateOp(id, e.Kind, canvas.Patch{Text: &text}))
	return nil
}

// DropImage places an image overlay where it was dropped and releases the
// active tool.
func (s *Session) DropImage(v gesture.Viewport, offsetX, offsetY float64, url string, aspect float64) (canvas.Element, error) {
	e, err := gesture.PlaceImage(v, offsetX, offsetY, url, aspect)
	if err != nil {
		return canvas.Element{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.add(e)
	return e, nil
}

// ResizeImage records a new on-screen size at the current zoom level.
func (s *Session) ResizeImage(id string, screen canvas.Size) error {
	e, ok := s.bridge.State().Get(id)
	if !ok {
		return nil
	}
	if e.Kind != canvas.Image {
		return fmt.Errorf("%w: %s is not an image", canvas.ErrMalformed, id)
	}
	base := screen.Scale(1 / canvas.ZoomScale(s.bridge.Zoom()))
	s.bridge.Submit(canvas.UpdateOp(id, e.Kind, canvas.Patch{Size: &base}))
	return nil
}

// MoveCursor shares the local pointer position.
func (s *Session) MoveCursor(ctx context.Context, p canvas.Point) error {
	return s.pointer.Move(ctx, p)
}

// LeaveCursor hides the local pointer from peers.
func (s *Session) LeaveCursor(ctx context.Context) error {
	return s.pointer.Leave(ctx)
}

// add submits a completed gesture. Callers hold s.mu.
func (s *Session) add(e canvas.Element) {
	s.machine.Complete()
	s.gesture.SetTool(canvas.KindUnknown)
	s.bridge.Submit(canvas.AddOp(e))
}

func (s *Session) changed(c bridge.Change) {
	if c.Op.Type == canvas.OpDelete {
		s.mu.Lock()
		if s.drag != nil && s.drag.element.ID == c.Op.ElementID {
			s.drag = nil
		}
		s.machine.ElementRemoved(c.Op.ElementID)
		s.mu.Unlock()
	}
	if s.onChange != nil {
		s.onChange(c)
	}
}

func translate(pts []canvas.Point, dLat, dLng float64) []canvas.Point {
	out := make([]canvas.Point, len(pts))
	for i, p := range pts {
		out[i] = canvas.Point{Lat: p.Lat + dLat, Lng: p.Lng + dLng}
	}
	return out
}
