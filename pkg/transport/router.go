package transport

import (
	"context"
	"sync"

	"github.com/prabin-acharya/atlas-map/pkg/queue"
)

// Router splits one session channel between several consumers, e.g. element
// replication and cursors sharing a single socket. Each route keeps its own
// unbounded buffer so a consumer that has not started reading yet does not
// hold up the others. Delivery order is preserved within a route.
type Router struct {
	src Channel

	mu     sync.Mutex
	routes []*route
}

type route struct {
	match func(event string) bool
	q     *queue.Queue[Message]
	out   chan Message
	done  chan struct{}
}

func NewRouter(src Channel) *Router {
	return &Router{src: src}
}

// Route returns a Channel that receives the messages whose event matches.
// Publishing on it publishes on the underlying channel. Routes must be
// created before Run.
func (r *Router) Route(match func(event string) bool) Channel {
	rt := &route{match: match, q: queue.New[Message](), out: make(chan Message), done: make(chan struct{})}
	r.mu.Lock()
	r.routes = append(r.routes, rt)
	r.mu.Unlock()
	go func() {
		defer close(rt.out)
		for {
			m, err := rt.q.Pop(context.Background())
			if err != nil {
				return
			}
			select {
			case rt.out <- m:
			case <-rt.done:
				return
			}
		}
	}()
	return &routedChannel{src: r.src, out: rt.out}
}

// Run dispatches until the source channel closes or ctx is done. It closes
// every route when it returns; messages not yet read from a route are
// dropped. Run must be called once.
func (r *Router) Run(ctx context.Context) error {
	r.mu.Lock()
	routes := append([]*route(nil), r.routes...)
	r.mu.Unlock()
	defer func() {
		for _, rt := range routes {
			rt.q.Close()
			close(rt.done)
		}
	}()

	msgs := r.src.Messages()
	for {
		select {
		case m, ok := <-msgs:
			if !ok {
				return nil
			}
			for _, rt := range routes {
				if rt.match(m.Event) {
					rt.q.Push(m)
				}
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

type routedChannel struct {
	src Channel
	out chan Message
}

func (c *routedChannel) ConnectionID() string { return c.src.ConnectionID() }

func (c *routedChannel) Publish(ctx context.Context, m Message) error {
	return c.src.Publish(ctx, m)
}

func (c *routedChannel) Messages() <-chan Message { return c.out }

// Close is a no-op; the router owns the underlying channel.
func (c *routedChannel) Close() error { return nil }
