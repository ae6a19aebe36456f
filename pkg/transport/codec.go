package transport

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec converts messages to and from websocket frames.
type Codec interface {
	Name() string
	Encode(Message) ([]byte, error)
	Decode([]byte) (Message, error)
	// Binary reports whether frames should be sent as binary websocket messages.
	Binary() bool
}

// CodecByName returns the codec registered under name. An empty name selects JSON.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSONCodec{}, nil
	case "msgpack":
		return MsgpackCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}

// JSONCodec is the default text frame format: {"event","origin","data"}.
type JSONCodec struct{}

type jsonFrame struct {
	Event  string          `json:"event"`
	Origin string          `json:"origin,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

func (JSONCodec) Name() string { return "json" }

func (JSONCodec) Binary() bool { return false }

func (JSONCodec) Encode(m Message) ([]byte, error) {
	b, err := json.Marshal(jsonFrame{Event: m.Event, Origin: m.Origin, Data: m.Data})
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s frame: %w", m.Event, err)
	}
	return b, nil
}

func (JSONCodec) Decode(b []byte) (Message, error) {
	var f jsonFrame
	if err := json.Unmarshal(b, &f); err != nil {
		return Message{}, fmt.Errorf("failed to decode frame: %w", err)
	}
	if f.Event == "" {
		return Message{}, fmt.Errorf("failed to decode frame: missing event")
	}
	m := Message{Event: f.Event, Origin: f.Origin}
	if len(f.Data) > 0 && !bytes.Equal(f.Data, []byte("null")) {
		m.Data = []byte(f.Data)
	}
	return m, nil
}

// MsgpackCodec sends frames as binary msgpack maps with the same keys.
type MsgpackCodec struct{}

type msgpackFrame struct {
	Event  string `msgpack:"event"`
	Origin string `msgpack:"origin,omitempty"`
	Data   []byte `msgpack:"data,omitempty"`
}

func (MsgpackCodec) Name() string { return "msgpack" }

func (MsgpackCodec) Binary() bool { return true }

func (MsgpackCodec) Encode(m Message) ([]byte, error) {
	b, err := msgpack.Marshal(msgpackFrame{Event: m.Event, Origin: m.Origin, Data: m.Data})
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s frame: %w", m.Event, err)
	}
	return b, nil
}

func (MsgpackCodec) Decode(b []byte) (Message, error) {
	var f msgpackFrame
	if err := msgpack.Unmarshal(b, &f); err != nil {
		return Message{}, fmt.Errorf("failed to decode frame: %w", err)
	}
	if f.Event == "" {
		return Message{}, fmt.Errorf("failed to decode frame: missing event")
	}
	return Message{Event: f.Event, Origin: f.Origin, Data: f.Data}, nil
}
