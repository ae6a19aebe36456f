package transport

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/prabin-acharya/atlas-map/pkg/queue"
)

// Hub fans messages out between in-process channels of one session. It gives
// the same guarantees as the relay: every member, the publisher included,
// sees every message in publish order.
type Hub struct {
	mu      sync.Mutex
	members map[string]*MemoryChannel
}

func NewHub() *Hub {
	return &Hub{members: map[string]*MemoryChannel{}}
}

// Join connects a new member with a random connection id.
func (h *Hub) Join() *MemoryChannel {
	return h.JoinAs(uuid.NewString())
}

// JoinAs connects a new member with the given connection id.
func (h *Hub) JoinAs(id string) *MemoryChannel {
	c := &MemoryChannel{
		id:    id,
		hub:   h,
		inbox: queue.New[Message](),
		out:   make(chan Message),
		done:  make(chan struct{}),
	}
	h.mu.Lock()
	h.members[id] = c
	h.mu.Unlock()
	go c.pump()
	return c
}

func (h *Hub) broadcast(m Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, member := range h.members {
		member.inbox.Push(m)
	}
}

func (h *Hub) leave(c *MemoryChannel) bool {
	h.mu.Lock()
	_, ok := h.members[c.id]
	delete(h.members, c.id)
	h.mu.Unlock()
	if ok {
		h.broadcast(Message{Event: EventMemberLeave, Origin: c.id})
	}
	return ok
}

// Len is the number of connected members.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.members)
}

// MemoryChannel is a Channel connected to a Hub.
type MemoryChannel struct {
	id    string
	hub   *Hub
	inbox *queue.Queue[Message]
	out   chan Message
	done  chan struct{}
}

func (c *MemoryChannel) pump() {
	defer close(c.out)
	for {
		m, err := c.inbox.Pop(context.Background())
		if err != nil {
			return
		}
		select {
		case c.out <- m:
		case <-c.done:
			return
		}
	}
}

func (c *MemoryChannel) ConnectionID() string { return c.id }

func (c *MemoryChannel) Publish(ctx context.Context, m Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.inbox.Closed() {
		return ErrClosed
	}
	m.Origin = c.id
	c.hub.broadcast(m)
	return nil
}

func (c *MemoryChannel) Messages() <-chan Message { return c.out }

// Close leaves the hub and closes Messages. Undelivered messages are dropped.
func (c *MemoryChannel) Close() error {
	if !c.hub.leave(c) {
		return ErrClosed
	}
	c.inbox.Close()
	close(c.done)
	return nil
}
