package bridge

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/prabin-acharya/atlas-map/pkg/canvas"
	"github.com/prabin-acharya/atlas-map/pkg/transport"
)

// Replication event names: new-<kind>, update-<kind>, drag-<kind> and a
// single delete-element.
const (
	newPrefix    = "new-"
	updatePrefix = "update-"
	dragPrefix   = "drag-"
	EventDelete  = "delete-element"
)

// EventName is the event an operation is published under.
func EventName(op canvas.Operation) string {
	switch op.Type {
	case canvas.OpAdd:
		return newPrefix + op.Kind.String()
	case canvas.OpUpdate:
		if op.Drag {
			return dragPrefix + op.Kind.String()
		}
		return updatePrefix + op.Kind.String()
	default:
		return EventDelete
	}
}

// IsElementEvent reports whether an event carries an element operation.
func IsElementEvent(event string) bool {
	if event == EventDelete {
		return true
	}
	for _, prefix := range []string{newPrefix, updatePrefix, dragPrefix} {
		if rest, ok := strings.CutPrefix(event, prefix); ok {
			_, err := canvas.ParseKind(rest)
			return err == nil
		}
	}
	return false
}

type idPayload struct {
	ID string `json:"id"`
}

// Encode serializes op for the replication channel.
func Encode(op canvas.Operation) (transport.Message, error) {
	if err := op.Validate(); err != nil {
		return transport.Message{}, err
	}
	var (
		data []byte
		err  error
	)
	switch op.Type {
	case canvas.OpAdd:
		data, err = json.Marshal(op.Element)
	case canvas.OpUpdate:
		data, err = encodeUpdate(op.ElementID, *op.Patch)
	case canvas.OpDelete:
		data, err = json.Marshal(idPayload{ID: op.ElementID})
	}
	if err != nil {
		return transport.Message{}, fmt.Errorf("failed to encode %s %s: %w", op.Type, op.ElementID, err)
	}
	return transport.Message{Event: EventName(op), Origin: op.Origin, Data: data}, nil
}

func encodeUpdate(id string, p canvas.Patch) ([]byte, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	idRaw, err := json.Marshal(id)
	if err != nil {
		return nil, err
	}
	fields["id"] = idRaw
	return json.Marshal(fields)
}

// Decode parses a replication message back into an operation. The operation's
// origin is the message's origin.
func Decode(m transport.Message) (canvas.Operation, error) {
	var ref idPayload
	if err := json.Unmarshal(m.Data, &ref); err != nil {
		return canvas.Operation{}, fmt.Errorf("%w: %s payload: %v", canvas.ErrMalformed, m.Event, err)
	}

	var op canvas.Operation
	switch {
	case m.Event == EventDelete:
		kind, _ := canvas.KindFromID(ref.ID)
		op = canvas.DeleteOp(ref.ID, kind)

	case strings.HasPrefix(m.Event, newPrefix):
		kind, err := canvas.ParseKind(strings.TrimPrefix(m.Event, newPrefix))
		if err != nil {
			return canvas.Operation{}, fmt.Errorf("%w: %v", canvas.ErrMalformed, err)
		}
		var e canvas.Element
		if err := json.Unmarshal(m.Data, &e); err != nil {
			return canvas.Operation{}, fmt.Errorf("%w: %s payload: %v", canvas.ErrMalformed, m.Event, err)
		}
		if e.Kind != kind {
			return canvas.Operation{}, fmt.Errorf("%w: %s carries a %s", canvas.ErrMalformed, m.Event, e.Kind)
		}
		op = canvas.AddOp(e)

	case strings.HasPrefix(m.Event, updatePrefix), strings.HasPrefix(m.Event, dragPrefix):
		drag := strings.HasPrefix(m.Event, dragPrefix)
		name := strings.TrimPrefix(strings.TrimPrefix(m.Event, updatePrefix), dragPrefix)
		kind, err := canvas.ParseKind(name)
		if err != nil {
			return canvas.Operation{}, fmt.Errorf("%w: %v", canvas.ErrMalformed, err)
		}
		var p canvas.Patch
		if err := json.Unmarshal(m.Data, &p); err != nil {
			return canvas.Operation{}, fmt.Errorf("%w: %s payload: %v", canvas.ErrMalformed, m.Event, err)
		}
		op = canvas.UpdateOp(ref.ID, kind, p)
		op.Drag = drag

	default:
		return canvas.Operation{}, fmt.Errorf("%w: unknown event %q", canvas.ErrMalformed, m.Event)
	}

	op.Origin = m.Origin
	if err := op.Validate(); err != nil {
		return canvas.Operation{}, err
	}
	return op, nil
}
