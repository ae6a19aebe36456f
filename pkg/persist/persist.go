// Package persist mirrors a client's local operations to the persistence
// service and loads the baseline a session starts from.
//
// Writes are fire and forget: Mirror never blocks the caller, a single worker
// sends them in order, and a failed write is logged and dropped.
package persist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/prabin-acharya/atlas-map/pkg/canvas"
	"github.com/prabin-acharya/atlas-map/pkg/queue"
	"github.com/prabin-acharya/atlas-map/pkg/storage"
)

// DefaultMap is the viewport of a session nobody has drawn on yet.
var DefaultMap = storage.MapMeta{Center: canvas.Point{Lat: 18.52043, Lng: 73.856743}, ZoomLevel: 10}

type Config struct {
	Backend   Backend
	SessionID string
	UserID    string
	Logger    *slog.Logger
	// Timeout bounds each write. Zero means 10s.
	Timeout time.Duration
}

func (c *Config) Validate() error {
	if c.Backend == nil {
		return errors.New("backend is required")
	}
	if c.SessionID == "" {
		return errors.New("session id is required")
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	return nil
}

type write struct {
	op   canvas.Operation
	zoom float64
}

type Stats struct {
	Written uint64
	Failed  uint64
	Skipped uint64
}

type Adapter struct {
	cfg    Config
	writes *queue.Queue[write]
	meta   atomic.Pointer[storage.MapMeta]

	written, failed, skipped atomic.Uint64
}

func New(cfg Config) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	a := &Adapter{cfg: cfg, writes: queue.New[write]()}
	m := DefaultMap
	a.meta.Store(&m)
	return a, nil
}

// Load fetches the session's persisted elements. The map viewport that comes
// with them is available from Map afterwards.
func (a *Adapter) Load(ctx context.Context) ([]canvas.Element, error) {
	elements, m, err := a.cfg.Backend.Elements(ctx, a.cfg.SessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", a.cfg.SessionID, err)
	}
	if m != nil {
		a.meta.Store(m)
	}
	return elements, nil
}

// Map is the last known viewport: loaded, or written by a local Add.
func (a *Adapter) Map() storage.MapMeta {
	return *a.meta.Load()
}

// Mirror queues op for persistence. Intermediate drag updates are skipped;
// the Update that ends a drag is written.
func (a *Adapter) Mirror(op canvas.Operation, zoom float64) {
	if op.Drag {
		a.skipped.Add(1)
		return
	}
	if !a.writes.Push(write{op: op, zoom: zoom}) {
		a.cfg.Logger.Warn("persistence stopped, dropping write", "op", op.Type, "id", op.ElementID)
	}
}

func (a *Adapter) Stats() Stats {
	return Stats{Written: a.written.Load(), Failed: a.failed.Load(), Skipped: a.skipped.Load()}
}

// Pending is the number of queued writes.
func (a *Adapter) Pending() int { return a.writes.Len() }

// Run sends queued writes until ctx is done or Close is called.
func (a *Adapter) Run(ctx context.Context) error {
	for {
		w, err := a.writes.Pop(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrClosed) {
				return nil
			}
			return err
		}
		if err := a.send(ctx, w); err != nil {
			a.failed.Add(1)
			a.cfg.Logger.Error("failed to persist operation", "op", w.op.Type, "id", w.op.ElementID, "err", err)
			continue
		}
		a.written.Add(1)
	}
}

// Close stops accepting writes. Run returns once the queue is drained.
func (a *Adapter) Close() { a.writes.Close() }

func (a *Adapter) send(ctx context.Context, w write) error {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	b := a.cfg.Backend
	op := w.op
	switch op.Type {
	case canvas.OpAdd:
		if err := b.CreateElement(ctx, a.cfg.SessionID, a.cfg.UserID, *op.Element); err != nil {
			return err
		}
		m := storage.MapMeta{Center: op.Element.Position(), ZoomLevel: w.zoom}
		if err := b.UpdateMap(ctx, a.cfg.SessionID, m); err != nil {
			return fmt.Errorf("failed to update map: %w", err)
		}
		a.meta.Store(&m)
		return nil
	case canvas.OpUpdate:
		return b.UpdateElement(ctx, op.ElementID, *op.Patch)
	case canvas.OpDelete:
		return b.DeleteElement(ctx, op.ElementID)
	default:
		return fmt.Errorf("%w: unknown op type %d", canvas.ErrMalformed, op.Type)
	}
}
