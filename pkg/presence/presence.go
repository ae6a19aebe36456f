// Package presence shares pointer positions between the members of a session.
// Cursors are ephemeral: they are never persisted and never enter the element
// store.
package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/prabin-acharya/atlas-map/pkg/canvas"
	"github.com/prabin-acharya/atlas-map/pkg/transport"
)

const Event = "cursor"

type State string

const (
	Move  State = "move"
	Leave State = "leave"
)

// LeavePosition is sent with a Leave. Receivers hide the cursor and never
// show this position.
var LeavePosition = canvas.Point{Lat: 18, Lng: 73}

type Cursor struct {
	Conn     string
	Position canvas.Point
	State    State
	Seen     time.Time
}

type payload struct {
	Position canvas.Point `json:"position"`
	State    State        `json:"state"`
}

// IsEvent reports whether the tracker consumes messages with this event.
func IsEvent(event string) bool {
	return event == Event || event == transport.EventMemberLeave
}

// Decode reads a cursor message.
func Decode(m transport.Message) (Cursor, error) {
	if m.Event != Event {
		return Cursor{}, fmt.Errorf("not a cursor event: %q", m.Event)
	}
	var p payload
	if err := json.Unmarshal(m.Data, &p); err != nil {
		return Cursor{}, fmt.Errorf("failed to decode cursor: %w", err)
	}
	switch p.State {
	case Move, Leave:
	default:
		return Cursor{}, fmt.Errorf("unknown cursor state %q", p.State)
	}
	return Cursor{Conn: m.Origin, Position: p.Position, State: p.State}, nil
}

// Broadcaster publishes the local pointer.
type Broadcaster struct {
	ch transport.Channel
}

func NewBroadcaster(ch transport.Channel) *Broadcaster {
	return &Broadcaster{ch: ch}
}

func (b *Broadcaster) Move(ctx context.Context, p canvas.Point) error {
	return b.send(ctx, payload{Position: p, State: Move})
}

func (b *Broadcaster) Leave(ctx context.Context) error {
	return b.send(ctx, payload{Position: LeavePosition, State: Leave})
}

func (b *Broadcaster) send(ctx context.Context, p payload) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	if err := b.ch.Publish(ctx, transport.Message{Event: Event, Data: data}); err != nil {
		return fmt.Errorf("failed to publish cursor: %w", err)
	}
	return nil
}

// Tracker keeps the latest cursor of every remote member.
type Tracker struct {
	local    func() string
	now      func() time.Time
	onChange func()

	mu      sync.Mutex
	cursors map[string]Cursor
}

// NewTracker ignores cursors published by the connection local names. local
// is read on every message since a reconnecting channel may be handed a new
// id. onChange may be nil and is called without the tracker lock held.
func NewTracker(local func() string, onChange func()) *Tracker {
	return &Tracker{local: local, now: time.Now, onChange: onChange, cursors: map[string]Cursor{}}
}

// Apply consumes a cursor or member-leave message and reports whether the
// tracked set changed.
func (t *Tracker) Apply(m transport.Message) bool {
	if m.Origin == "" {
		return false
	}
	if m.Event == transport.EventMemberLeave {
		return t.Forget(m.Origin)
	}
	if m.Origin == t.local() {
		return false
	}
	c, err := Decode(m)
	if err != nil {
		return false
	}
	c.Seen = t.now()
	t.mu.Lock()
	t.cursors[c.Conn] = c
	t.mu.Unlock()
	t.changed()
	return true
}

// Forget drops a member entirely.
func (t *Tracker) Forget(conn string) bool {
	t.mu.Lock()
	_, ok := t.cursors[conn]
	delete(t.cursors, conn)
	t.mu.Unlock()
	if ok {
		t.changed()
	}
	return ok
}

// Visible lists the cursors to render, ordered by connection id.
func (t *Tracker) Visible() []Cursor {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Cursor, 0, len(t.cursors))
	for _, c := range t.cursors {
		if c.State == Move {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Conn < out[j].Conn })
	return out
}

// Known is the number of members with a cursor entry, hidden or not.
func (t *Tracker) Known() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.cursors)
}

// Run applies messages from ch until it closes or ctx is done.
func (t *Tracker) Run(ctx context.Context, ch transport.Channel) error {
	msgs := ch.Messages()
	for {
		select {
		case m, ok := <-msgs:
			if !ok {
				return transport.ErrClosed
			}
			t.Apply(m)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (t *Tracker) changed() {
	if t.onChange != nil {
		t.onChange()
	}
}
