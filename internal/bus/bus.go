// Package bus carries platform lifecycle events from event sources to the
// reconciliation engine.
package bus

import (
	"context"
	"encoding/json"
	"time"
)

// Event type names as carried on the wire and in envelopes.
const (
	TypeMessageCreated      = "message_created"
	TypeMessageEdited       = "message_edited"
	TypeMessageDeleted      = "message_deleted"
	TypeMessagesBulkDeleted = "messages_bulk_deleted"
	TypeReactionAdded       = "reaction_added"
	TypeReactionRemoved     = "reaction_removed"
	TypeChannelCreated      = "channel_created"
	TypeScopeJoined         = "scope_joined"
)

// MessageCreated announces a newly observed message. For backfilled
// messages ReactionsSnapshot carries the reaction state already visible at
// fetch time and EditedAt the known edit timestamp, so replay converges to
// the same row live delivery would have produced.
type MessageCreated struct {
	ID          int64           `json:"id"`
	ChannelID   int64           `json:"channel_id"`
	ScopeID     int64           `json:"scope_id,omitempty"`
	AuthorID    int64           `json:"author_id"`
	Bot         bool            `json:"bot"`
	Content     string          `json:"content"`
	Attachments []string        `json:"attachments,omitempty"`
	Embed       json.RawMessage `json:"embed,omitempty"`
	// EmbedRich reports whether the embed is a primary rich content block;
	// thumbnail-only blocks are not mirrored.
	EmbedRich         bool               `json:"embed_rich,omitempty"`
	ReactionsSnapshot map[string][]int64 `json:"reactions_snapshot,omitempty"`
	EditedAt          *time.Time         `json:"edited_at,omitempty"`
}

// MessageEdited carries the fields an edit touched. Nil fields were not part
// of the event and must not overwrite stored values.
type MessageEdited struct {
	ID        int64           `json:"id"`
	ChannelID int64           `json:"channel_id"`
	Content   *string         `json:"content,omitempty"`
	Embed     json.RawMessage `json:"embed,omitempty"`
	EmbedRich bool            `json:"embed_rich,omitempty"`
	EditedAt  *time.Time      `json:"edited_at,omitempty"`
}

// MessageDeleted marks one message deleted.
type MessageDeleted struct {
	ID        int64 `json:"id"`
	ChannelID int64 `json:"channel_id"`
}

// MessagesBulkDeleted marks a batch of messages deleted.
type MessagesBulkDeleted struct {
	IDs       []int64 `json:"ids"`
	ChannelID int64   `json:"channel_id"`
}

// ReactionAdded records one reactor applying one reaction key.
type ReactionAdded struct {
	MessageID int64  `json:"message_id"`
	ChannelID int64  `json:"channel_id"`
	ReactorID int64  `json:"reactor_id"`
	Key       string `json:"key"`
}

// ReactionRemoved records one reactor withdrawing one reaction key.
type ReactionRemoved struct {
	MessageID int64  `json:"message_id"`
	ChannelID int64  `json:"channel_id"`
	ReactorID int64  `json:"reactor_id"`
	Key       string `json:"key"`
}

// ChannelCreated announces a new channel inside a scope.
type ChannelCreated struct {
	ChannelID int64 `json:"channel_id"`
	ScopeID   int64 `json:"scope_id"`
}

// ScopeJoined announces visibility into a scope and its current channels.
type ScopeJoined struct {
	ScopeID    int64   `json:"scope_id"`
	ChannelIDs []int64 `json:"channel_ids"`
}

// Event is the union of platform lifecycle events.
type Event interface {
	EventType() string
}

func (MessageCreated) EventType() string      { return TypeMessageCreated }
func (MessageEdited) EventType() string       { return TypeMessageEdited }
func (MessageDeleted) EventType() string      { return TypeMessageDeleted }
func (MessagesBulkDeleted) EventType() string { return TypeMessagesBulkDeleted }
func (ReactionAdded) EventType() string       { return TypeReactionAdded }
func (ReactionRemoved) EventType() string     { return TypeReactionRemoved }
func (ChannelCreated) EventType() string      { return TypeChannelCreated }
func (ScopeJoined) EventType() string         { return TypeScopeJoined }

// EventBus decouples event sources from the reconciliation engine.
type EventBus struct {
	events chan Event
}

// NewEventBus creates a bus with a bounded in-flight buffer.
func NewEventBus() *EventBus {
	return &EventBus{events: make(chan Event, 100)}
}

// Publish enqueues an event for dispatch. Blocks when the buffer is full,
// which back-pressures the source against a slow store.
func (b *EventBus) Publish(evt Event) {
	b.events <- evt
}

// Consume blocks until an event is available or the context is cancelled.
func (b *EventBus) Consume(ctx context.Context) (Event, error) {
	select {
	case evt := <-b.events:
		return evt, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Size returns the number of pending events.
func (b *EventBus) Size() int {
	return len(b.events)
}
