package relay

import (
	"encoding/json"
	"fmt"

	"github.com/chanscribe/chanscribe/internal/bus"
)

// Envelope is the wire form of a gateway event: a type tag and the event
// body. The gateway process serializes bus events into this shape; the
// relay turns them back into typed events for the reconcile engine.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Decode unmarshals an envelope's payload into the event type named by its
// tag. Unknown tags are an error so a gateway/relay version skew surfaces
// loudly instead of dropping events silently.
func Decode(raw []byte) (bus.Event, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	var evt bus.Event
	switch env.Type {
	case bus.TypeMessageCreated:
		var e bus.MessageCreated
		if err := json.Unmarshal(env.Payload, &e); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		evt = e
	case bus.TypeMessageEdited:
		var e bus.MessageEdited
		if err := json.Unmarshal(env.Payload, &e); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		evt = e
	case bus.TypeMessageDeleted:
		var e bus.MessageDeleted
		if err := json.Unmarshal(env.Payload, &e); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		evt = e
	case bus.TypeMessagesBulkDeleted:
		var e bus.MessagesBulkDeleted
		if err := json.Unmarshal(env.Payload, &e); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		evt = e
	case bus.TypeReactionAdded:
		var e bus.ReactionAdded
		if err := json.Unmarshal(env.Payload, &e); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		evt = e
	case bus.TypeReactionRemoved:
		var e bus.ReactionRemoved
		if err := json.Unmarshal(env.Payload, &e); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		evt = e
	case bus.TypeChannelCreated:
		var e bus.ChannelCreated
		if err := json.Unmarshal(env.Payload, &e); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		evt = e
	case bus.TypeScopeJoined:
		var e bus.ScopeJoined
		if err := json.Unmarshal(env.Payload, &e); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		evt = e
	default:
		return nil, fmt.Errorf("decode envelope: unknown event type %q", env.Type)
	}
	return evt, nil
}

// Encode wraps a bus event in an envelope and marshals it. Used by tests
// and by in-process gateways publishing to the relay topic.
func Encode(evt bus.Event) ([]byte, error) {
	payload, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", evt.EventType(), err)
	}
	return json.Marshal(Envelope{Type: evt.EventType(), Payload: payload})
}
