// Package transport is the pub/sub layer between clients of one session.
//
// A Channel delivers every message published to the session, the publisher's
// own included, in publish order. Each message is stamped with the origin
// connection id by whatever fans it out, so receivers can recognise and drop
// their own echoes.
package transport

import (
	"context"
	"errors"
)

var (
	ErrClosed       = errors.New("channel closed")
	ErrNotConnected = errors.New("channel not connected")
)

// Events used by the transport itself.
const (
	// EventHello tells a freshly connected client its connection id.
	EventHello = "hello"
	// EventMemberLeave announces that a connection left the session. Origin
	// is the connection that left.
	EventMemberLeave = "member-leave"
)

// Message is one delivery on a session channel. Data is opaque to the
// transport; the JSON codec requires it to be valid JSON.
type Message struct {
	Event  string
	Origin string
	Data   []byte
}

// Channel is a session-scoped publish/subscribe connection.
type Channel interface {
	// ConnectionID is the id the fan-out stamps on this connection's messages.
	ConnectionID() string
	Publish(ctx context.Context, msg Message) error
	// Messages is closed when the channel is closed.
	Messages() <-chan Message
	Close() error
}
