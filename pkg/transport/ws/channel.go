// Package ws is a transport.Channel over a websocket to the relay server.
package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/prabin-acharya/atlas-map/pkg/transport"
)

// ConnectionParam is the query parameter a client uses to ask the relay to
// keep its connection id across reconnects.
const ConnectionParam = "connectionId"

type Config struct {
	// URL of the session socket, e.g. ws://host/sessions/<id>/ws.
	URL    string
	Codec  transport.Codec
	Logger *slog.Logger
	Dialer *websocket.Dialer
	// WriteTimeout bounds a single frame write.
	WriteTimeout time.Duration
	// NewBackOff builds the reconnect schedule. Defaults to an exponential
	// backoff that never gives up.
	NewBackOff func() backoff.BackOff
}

func (c *Config) withDefaults() {
	if c.Codec == nil {
		c.Codec = transport.JSONCodec{}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Dialer == nil {
		c.Dialer = websocket.DefaultDialer
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.NewBackOff == nil {
		c.NewBackOff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.MaxElapsedTime = 0
			return b
		}
	}
}

// Channel keeps a websocket to the relay open, redialling when it drops.
type Channel struct {
	cfg Config
	id  string
	log *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	msgs   chan transport.Message

	mu   sync.Mutex
	conn *websocket.Conn
}

// Dial connects to the relay and waits for its hello frame. The first
// connection must succeed; later drops are retried in the background.
func Dial(ctx context.Context, cfg Config) (*Channel, error) {
	cfg.withDefaults()
	c := &Channel{
		cfg:  cfg,
		id:   uuid.NewString(),
		done: make(chan struct{}),
		msgs: make(chan transport.Message, 256),
	}
	c.log = cfg.Logger.With("conn", c.id)

	conn, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	c.ctx, c.cancel = context.WithCancel(context.Background())
	go c.run(conn)
	return c, nil
}

func (c *Channel) connect(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse url: %w", err)
	}
	q := u.Query()
	q.Set(ConnectionParam, c.ConnectionID())
	q.Set("codec", c.cfg.Codec.Name())
	u.RawQuery = q.Encode()

	conn, _, err := c.cfg.Dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial: %w", err)
	}

	hello, err := c.read(conn)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to read hello: %w", err)
	}
	if hello.Event != transport.EventHello {
		_ = conn.Close()
		return nil, fmt.Errorf("expected hello, got %q", hello.Event)
	}
	c.mu.Lock()
	if hello.Origin != "" && hello.Origin != c.id {
		// The relay refused our id (e.g. still held by a stale socket).
		c.id = hello.Origin
	}
	c.mu.Unlock()
	return conn, nil
}

func (c *Channel) read(conn *websocket.Conn) (transport.Message, error) {
	_, p, err := conn.ReadMessage()
	if err != nil {
		return transport.Message{}, err
	}
	return c.cfg.Codec.Decode(p)
}

func (c *Channel) run(conn *websocket.Conn) {
	defer close(c.done)
	defer close(c.msgs)
	for {
		c.readLoop(conn)

		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		_ = conn.Close()

		if c.ctx.Err() != nil {
			return
		}
		next, err := c.redial()
		if err != nil {
			return
		}
		conn = next
	}
}

func (c *Channel) readLoop(conn *websocket.Conn) {
	for {
		m, err := c.read(conn)
		if err != nil {
			var closeErr *websocket.CloseError
			if c.ctx.Err() == nil && !errors.As(err, &closeErr) {
				c.log.Warn("relay read failed", "err", err)
			}
			return
		}
		if m.Event == transport.EventHello {
			continue
		}
		select {
		case c.msgs <- m:
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Channel) redial() (*websocket.Conn, error) {
	var conn *websocket.Conn
	op := func() error {
		next, err := c.connect(c.ctx)
		if err != nil {
			return err
		}
		conn = next
		return nil
	}
	notify := func(err error, wait time.Duration) {
		c.log.Warn("relay reconnect failed", "err", err, "retry_in", wait)
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(c.cfg.NewBackOff(), c.ctx), notify); err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.log.Info("relay reconnected")
	return conn, nil
}

func (c *Channel) ConnectionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// Publish writes one frame. It fails fast while disconnected; callers decide
// whether the message matters enough to resend.
func (c *Channel) Publish(ctx context.Context, m transport.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.ctx.Err() != nil {
		return transport.ErrClosed
	}
	raw, err := c.cfg.Codec.Encode(m)
	if err != nil {
		return err
	}
	frameType := websocket.TextMessage
	if c.cfg.Codec.Binary() {
		frameType = websocket.BinaryMessage
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return transport.ErrNotConnected
	}
	deadline := time.Now().Add(c.cfg.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}
	if err := c.conn.WriteMessage(frameType, raw); err != nil {
		return fmt.Errorf("failed to write %s: %w", m.Event, err)
	}
	return nil
}

func (c *Channel) Messages() <-chan transport.Message { return c.msgs }

// Close shuts the socket and stops reconnecting. Messages is closed once the
// background loop exits.
func (c *Channel) Close() error {
	if c.ctx.Err() != nil {
		return transport.ErrClosed
	}
	c.cancel()
	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = c.conn.Close()
	}
	c.mu.Unlock()
	<-c.done
	return nil
}
