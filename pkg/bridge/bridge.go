// Package bridge keeps a session's element store in step with the
// replication channel.
//
// Local operations are applied first and published afterwards, so the local
// user never waits on the network. Remote operations are applied as they are
// delivered, except for the ones this connection published itself: the relay
// echoes every message back to its sender and those are dropped rather than
// applied a second time.
//
// All state transitions happen on the goroutine running Run. Local intents
// and inbound messages are serialized there, so the store is never locked.
// Readers get immutable snapshots from State.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"

	"github.com/prabin-acharya/atlas-map/pkg/canvas"
	"github.com/prabin-acharya/atlas-map/pkg/queue"
	"github.com/prabin-acharya/atlas-map/pkg/transport"
)

// Persister is the durable side of the bridge. Load provides the baseline a
// session starts from; Mirror receives every locally applied operation and
// must not block.
type Persister interface {
	Load(ctx context.Context) ([]canvas.Element, error)
	Mirror(op canvas.Operation, zoom float64)
}

// Change describes one state transition.
type Change struct {
	State  canvas.Store
	Op     canvas.Operation
	Remote bool
}

type Config struct {
	Channel   transport.Channel
	Persister Persister
	Logger    *slog.Logger
	// OnChange runs on the bridge goroutine after every applied operation.
	// It must not block.
	OnChange func(Change)
	// Zoom is the initial zoom level reported with map metadata.
	Zoom float64
}

func (c *Config) Validate() error {
	if c.Channel == nil {
		return errors.New("channel is required")
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// Stats counts what the bridge has done since it started.
type Stats struct {
	LocalOps      uint64
	RemoteOps     uint64
	Published     uint64
	PublishErrors uint64
	EchoesDropped uint64
	Rejected      uint64
	Loaded        uint64
}

type Bridge struct {
	ch        transport.Channel
	persister Persister
	log       *slog.Logger
	onChange  func(Change)

	intents  *queue.Queue[canvas.Operation]
	outbound *queue.Queue[transport.Message]

	state atomic.Pointer[canvas.Store]
	zoom  atomic.Uint64
	ready chan struct{}

	stats Stats
}

func New(cfg Config) (*Bridge, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	b := &Bridge{
		ch:        cfg.Channel,
		persister: cfg.Persister,
		log:       cfg.Logger,
		onChange:  cfg.OnChange,
		intents:   queue.New[canvas.Operation](),
		outbound:  queue.New[transport.Message](),
		ready:     make(chan struct{}),
	}
	empty := canvas.NewStore()
	b.state.Store(&empty)
	b.SetZoom(cfg.Zoom)
	return b, nil
}

// State is the current store snapshot.
func (b *Bridge) State() canvas.Store {
	return *b.state.Load()
}

// Ready is closed once the persisted baseline has been applied.
func (b *Bridge) Ready() <-chan struct{} { return b.ready }

// ConnectionID is the origin stamped on this bridge's operations.
func (b *Bridge) ConnectionID() string { return b.ch.ConnectionID() }

func (b *Bridge) SetZoom(zoom float64) { b.zoom.Store(math.Float64bits(zoom)) }

func (b *Bridge) Zoom() float64 { return math.Float64frombits(b.zoom.Load()) }

// Submit queues a locally produced operation. It never blocks.
func (b *Bridge) Submit(op canvas.Operation) {
	if !b.intents.Push(op) {
		b.log.Warn("bridge stopped, dropping operation", "op", op.Type, "id", op.ElementID)
	}
}

func (b *Bridge) Stats() Stats {
	return Stats{
		LocalOps:      atomic.LoadUint64(&b.stats.LocalOps),
		RemoteOps:     atomic.LoadUint64(&b.stats.RemoteOps),
		Published:     atomic.LoadUint64(&b.stats.Published),
		PublishErrors: atomic.LoadUint64(&b.stats.PublishErrors),
		EchoesDropped: atomic.LoadUint64(&b.stats.EchoesDropped),
		Rejected:      atomic.LoadUint64(&b.stats.Rejected),
		Loaded:        atomic.LoadUint64(&b.stats.Loaded),
	}
}

// Run loads the baseline, then processes local intents and inbound messages
// until ctx is done or the channel closes.
func (b *Bridge) Run(ctx context.Context) error {
	defer b.intents.Close()
	defer b.outbound.Close()

	go b.publishLoop(ctx)

	b.bootstrap(ctx)
	close(b.ready)
	b.log.Info("bridge live", "conn", b.ch.ConnectionID(), "elements", b.State().Len())

	msgs := b.ch.Messages()
	for {
		select {
		case <-b.intents.Ready():
			for _, op := range b.intents.Drain() {
				b.applyLocal(op)
			}
		case m, ok := <-msgs:
			if !ok {
				return transport.ErrClosed
			}
			b.applyRemote(m)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (b *Bridge) bootstrap(ctx context.Context) {
	if b.persister == nil {
		return
	}
	elements, err := b.persister.Load(ctx)
	if err != nil {
		// Realtime still works; only the history is missing until a reload.
		b.log.Error("failed to load persisted elements", "err", err)
		return
	}
	for _, e := range elements {
		op := canvas.AddOp(e)
		if !b.apply(op, false) {
			continue
		}
		atomic.AddUint64(&b.stats.Loaded, 1)
	}
}

func (b *Bridge) apply(op canvas.Operation, remote bool) bool {
	next, err := canvas.Apply(b.State(), op)
	if err != nil {
		atomic.AddUint64(&b.stats.Rejected, 1)
		b.log.Warn("rejected operation", "op", op.Type, "id", op.ElementID, "origin", op.Origin, "err", err)
		return false
	}
	b.state.Store(&next)
	if b.onChange != nil {
		b.onChange(Change{State: next, Op: op, Remote: remote})
	}
	return true
}

func (b *Bridge) applyLocal(op canvas.Operation) {
	op.Origin = b.ch.ConnectionID()
	if op.Type != canvas.OpAdd {
		if _, ok := b.State().Get(op.ElementID); !ok {
			// Removed by a peer while the local gesture was in flight.
			b.log.Debug("local operation on missing element", "op", op.Type, "id", op.ElementID)
			return
		}
	}
	if !b.apply(op, false) {
		return
	}
	atomic.AddUint64(&b.stats.LocalOps, 1)

	m, err := Encode(op)
	if err != nil {
		b.log.Error("failed to encode operation", "id", op.ElementID, "err", err)
	} else {
		b.outbound.Push(m)
	}
	if b.persister != nil {
		b.persister.Mirror(op, b.Zoom())
	}
}

func (b *Bridge) applyRemote(m transport.Message) {
	if !IsElementEvent(m.Event) {
		return
	}
	if m.Origin == b.ch.ConnectionID() {
		atomic.AddUint64(&b.stats.EchoesDropped, 1)
		return
	}
	op, err := Decode(m)
	if err != nil {
		atomic.AddUint64(&b.stats.Rejected, 1)
		b.log.Warn("dropping undecodable message", "event", m.Event, "origin", m.Origin, "err", err)
		return
	}
	if b.apply(op, true) {
		atomic.AddUint64(&b.stats.RemoteOps, 1)
	}
}

// publishLoop sends outbound messages in order. Failures are logged and the
// message is dropped; peers catch up on the next publish or a reload.
func (b *Bridge) publishLoop(ctx context.Context) {
	for {
		m, err := b.outbound.Pop(ctx)
		if err != nil {
			return
		}
		if err := b.ch.Publish(ctx, m); err != nil {
			atomic.AddUint64(&b.stats.PublishErrors, 1)
			b.log.Warn("failed to publish", "event", m.Event, "err", err)
			continue
		}
		atomic.AddUint64(&b.stats.Published, 1)
	}
}
