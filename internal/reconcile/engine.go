// Package reconcile translates the platform's unordered, at-least-once event
// stream into idempotent log-store operations. Live delivery and historical
// backfill enter through the same handlers, so the stored state converges to
// the same rows either way.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chanscribe/chanscribe/internal/bus"
	"github.com/chanscribe/chanscribe/internal/mirror"
)

// Engine applies platform lifecycle events to the mirror store.
//
// Per-id state machine: Unknown -> Present via create, Present -> Present via
// edit/reaction, Present -> Deleted via delete, no transition leaves Deleted.
// Events other than create that target an Unknown id are dropped with a
// debug log; a later create or backfill supplies the row they were for.
type Engine struct {
	store *mirror.Store
}

// New creates an Engine over the given store.
func New(store *mirror.Store) *Engine {
	return &Engine{store: store}
}

// HandleMessageCreated normalizes and inserts a newly observed message. On
// an unprovisioned channel the channel is registered and the insert retried
// exactly once; this is the defensive fallback behind the explicit
// provisioning done by HandleChannelCreated / HandleScopeJoined.
func (e *Engine) HandleMessageCreated(ctx context.Context, evt bus.MessageCreated) error {
	entry := &mirror.LogEntry{
		ChannelID: evt.ChannelID,
		ID:        evt.ID,
		AuthorID:  evt.AuthorID,
		Bot:       evt.Bot,
		Content:   evt.Content,
		EditedAt:  evt.EditedAt,
	}

	// One attachment per message by convention; extras are an anomaly worth
	// flagging, never a failure.
	if len(evt.Attachments) > 0 {
		entry.Attachment = evt.Attachments[0]
		if len(evt.Attachments) > 1 {
			slog.Warn("message carries multiple attachments, keeping first",
				"channel", evt.ChannelID, "id", evt.ID, "count", len(evt.Attachments))
		}
	}

	// Only primary rich content blocks are mirrored; thumbnail-only embeds
	// are presentation noise.
	if evt.EmbedRich && len(evt.Embed) > 0 {
		entry.Embed = evt.Embed
	}

	// Backfilled messages arrive with their current reaction state attached.
	for key, reactors := range evt.ReactionsSnapshot {
		for _, reactor := range reactors {
			entry.Reactions = entry.Reactions.Add(key, reactor)
		}
	}

	err := e.store.Insert(ctx, entry)
	if errors.Is(err, mirror.ErrChannelUnknown) {
		slog.Debug("lazy provisioning channel", "channel", evt.ChannelID, "scope", evt.ScopeID)
		if err := e.store.EnsureChannel(ctx, evt.ChannelID, evt.ScopeID); err != nil {
			return fmt.Errorf("provision channel %d: %w", evt.ChannelID, err)
		}
		err = e.store.Insert(ctx, entry)
	}
	return err
}

// HandleMessageEdited applies an edit with per-field latest-wins semantics:
// fields the event did not carry keep their stored values. The event's own
// timestamp is preferred; processing time is a known-imprecise fallback.
func (e *Engine) HandleMessageEdited(ctx context.Context, evt bus.MessageEdited) error {
	editedAt := time.Now().UTC()
	if evt.EditedAt != nil {
		editedAt = evt.EditedAt.UTC()
	}
	var embed []byte
	if evt.EmbedRich && len(evt.Embed) > 0 {
		embed = evt.Embed
	}
	return e.store.MarkEdited(ctx, evt.ChannelID, evt.ID, evt.Content, embed, editedAt)
}

// HandleMessageDeleted soft-deletes one message.
func (e *Engine) HandleMessageDeleted(ctx context.Context, evt bus.MessageDeleted) error {
	return e.store.MarkDeleted(ctx, evt.ChannelID, evt.ID)
}

// HandleMessagesBulkDeleted soft-deletes a batch, skipping unknown ids.
func (e *Engine) HandleMessagesBulkDeleted(ctx context.Context, evt bus.MessagesBulkDeleted) error {
	return e.store.MarkDeletedBulk(ctx, evt.ChannelID, evt.IDs)
}

// HandleReactionAdded appends a reactor to the message's reaction document.
func (e *Engine) HandleReactionAdded(ctx context.Context, evt bus.ReactionAdded) error {
	return e.store.ApplyReactionDelta(ctx, evt.ChannelID, evt.MessageID, evt.Key, evt.ReactorID, true)
}

// HandleReactionRemoved withdraws a reactor; removal of a reaction we never
// saw added is a no-op, since upstream state may have moved between the add
// and the remove being observed.
func (e *Engine) HandleReactionRemoved(ctx context.Context, evt bus.ReactionRemoved) error {
	return e.store.ApplyReactionDelta(ctx, evt.ChannelID, evt.MessageID, evt.Key, evt.ReactorID, false)
}

// HandleChannelCreated provisions the log for a new channel.
func (e *Engine) HandleChannelCreated(ctx context.Context, evt bus.ChannelCreated) error {
	return e.store.EnsureChannel(ctx, evt.ChannelID, evt.ScopeID)
}

// HandleScopeJoined provisions logs for every channel visible in a newly
// joined scope.
func (e *Engine) HandleScopeJoined(ctx context.Context, evt bus.ScopeJoined) error {
	for _, channelID := range evt.ChannelIDs {
		if err := e.store.EnsureChannel(ctx, channelID, evt.ScopeID); err != nil {
			return err
		}
	}
	return nil
}

// Dispatch routes one event to its handler.
func (e *Engine) Dispatch(ctx context.Context, evt bus.Event) error {
	switch ev := evt.(type) {
	case bus.MessageCreated:
		return e.HandleMessageCreated(ctx, ev)
	case bus.MessageEdited:
		return e.HandleMessageEdited(ctx, ev)
	case bus.MessageDeleted:
		return e.HandleMessageDeleted(ctx, ev)
	case bus.MessagesBulkDeleted:
		return e.HandleMessagesBulkDeleted(ctx, ev)
	case bus.ReactionAdded:
		return e.HandleReactionAdded(ctx, ev)
	case bus.ReactionRemoved:
		return e.HandleReactionRemoved(ctx, ev)
	case bus.ChannelCreated:
		return e.HandleChannelCreated(ctx, ev)
	case bus.ScopeJoined:
		return e.HandleScopeJoined(ctx, ev)
	default:
		return fmt.Errorf("unhandled event type %q", evt.EventType())
	}
}

// Run consumes events from the bus until the context is cancelled. Storage
// failures are logged and the event dropped; at-least-once upstream delivery
// is expected to redeliver, so there is no internal retry loop here.
func (e *Engine) Run(ctx context.Context, b *bus.EventBus) error {
	slog.Info("reconciliation loop started")
	for {
		evt, err := b.Consume(ctx)
		if err != nil {
			return err
		}
		if err := e.Dispatch(ctx, evt); err != nil {
			slog.Error("failed to apply event", "type", evt.EventType(), "error", err)
		}
	}
}
