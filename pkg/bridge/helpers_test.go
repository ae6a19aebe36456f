package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/prabin-acharya/atlas-map/pkg/canvas"
	"github.com/prabin-acharya/atlas-map/pkg/transport"
)

// fakeChannel records publishes and lets tests inject deliveries.
type fakeChannel struct {
	id string
	in chan transport.Message

	mu        sync.Mutex
	published []transport.Message
	fail      bool
}

func newFakeChannel(id string) *fakeChannel {
	return &fakeChannel{id: id, in: make(chan transport.Message, 64)}
}

func (f *fakeChannel) ConnectionID() string { return f.id }

func (f *fakeChannel) Publish(_ context.Context, m transport.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("network down")
	}
	f.published = append(f.published, m)
	return nil
}

func (f *fakeChannel) Messages() <-chan transport.Message { return f.in }

func (f *fakeChannel) Close() error {
	close(f.in)
	return nil
}

func (f *fakeChannel) Published() []transport.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]transport.Message(nil), f.published...)
}

func (f *fakeChannel) setFail(fail bool) {
	f.mu.Lock()
	f.fail = fail
	f.mu.Unlock()
}

type mirrored struct {
	op   canvas.Operation
	zoom float64
}

type fakePersister struct {
	elements []canvas.Element
	loadErr  error

	mu       sync.Mutex
	mirrored []mirrored
}

func (p *fakePersister) Load(context.Context) ([]canvas.Element, error) {
	return p.elements, p.loadErr
}

func (p *fakePersister) Mirror(op canvas.Operation, zoom float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mirrored = append(p.mirrored, mirrored{op: op, zoom: zoom})
}

func (p *fakePersister) Mirrored() []mirrored {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]mirrored(nil), p.mirrored...)
}

// changeLog collects OnChange callbacks.
type changeLog struct {
	mu      sync.Mutex
	changes []Change
}

func (c *changeLog) record(ch Change) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.changes = append(c.changes, ch)
}

func (c *changeLog) all() []Change {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Change(nil), c.changes...)
}

func startBridge(t *testing.T, cfg Config) *Bridge {
	t.Helper()
	b, err := New(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = b.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	select {
	case <-b.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("bridge never became ready")
	}
	return b
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond, msg)
}

// settle gives the bridge goroutine a chance to process anything queued.
func settle() { time.Sleep(50 * time.Millisecond) }

func mustEncode(t *testing.T, op canvas.Operation) transport.Message {
	t.Helper()
	m, err := Encode(op)
	require.NoError(t, err)
	return m
}
