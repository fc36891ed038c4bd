// Package backfill replays historical messages through the same reconcile
// path as live events, so pre-deployment history lands in the store without
// a second write path. Replays are idempotent: duplicates are absorbed by
// the store's conflict handling, so a run can be repeated or resumed safely.
package backfill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/chanscribe/chanscribe/internal/bus"
	"github.com/chanscribe/chanscribe/internal/mirror"
	"github.com/chanscribe/chanscribe/internal/reconcile"
)

// ErrPermissionDenied is returned by a History source when a channel's
// history cannot be read. The driver skips such channels and keeps going.
var ErrPermissionDenied = errors.New("history access denied")

// History fetches a channel's message history from the chat platform,
// oldest first.
type History interface {
	ChannelHistory(ctx context.Context, channelID int64, opts Options) ([]bus.MessageCreated, error)
}

// Options bound a history fetch.
type Options struct {
	// Limit caps the number of messages fetched per channel. Zero means
	// no cap.
	Limit int
	// After restricts the fetch to messages newer than this time. Zero
	// means from the beginning of the channel.
	After time.Time
}

// Summary reports what a backfill run did.
type Summary struct {
	RunID     string
	Processed int
	Skipped   int
}

// Driver replays channel history into the mirror store.
type Driver struct {
	store   *mirror.Store
	engine  *reconcile.Engine
	history History
}

// NewDriver creates a backfill Driver replaying through engine.
func NewDriver(store *mirror.Store, engine *reconcile.Engine, history History) *Driver {
	return &Driver{store: store, engine: engine, history: history}
}

// Run backfills the given channels of a scope. Nil channelIDs means every
// registered channel of the scope. Channels whose history is inaccessible
// are counted as skipped; any other error aborts the run.
func (d *Driver) Run(ctx context.Context, scopeID int64, channelIDs []int64, opts Options) (Summary, error) {
	summary := Summary{RunID: uuid.NewString()}

	if channelIDs == nil {
		var err error
		channelIDs, err = d.store.ScopeChannels(ctx, scopeID)
		if err != nil {
			return summary, fmt.Errorf("backfill %s: %w", summary.RunID, err)
		}
	}

	slog.Info("backfill started", "run_id", summary.RunID, "scope_id", scopeID, "channels", len(channelIDs))
	for _, channelID := range channelIDs {
		if err := ctx.Err(); err != nil {
			return summary, fmt.Errorf("backfill %s: %w", summary.RunID, err)
		}
		if err := d.store.EnsureChannel(ctx, channelID, scopeID); err != nil {
			return summary, fmt.Errorf("backfill %s: %w", summary.RunID, err)
		}

		msgs, err := d.history.ChannelHistory(ctx, channelID, opts)
		if errors.Is(err, ErrPermissionDenied) {
			slog.Warn("backfill skipping channel", "run_id", summary.RunID, "channel_id", channelID)
			summary.Skipped++
			continue
		}
		if err != nil {
			return summary, fmt.Errorf("backfill %s channel %d: %w", summary.RunID, channelID, err)
		}

		for _, msg := range msgs {
			if err := ctx.Err(); err != nil {
				return summary, fmt.Errorf("backfill %s: %w", summary.RunID, err)
			}
			if err := d.engine.HandleMessageCreated(ctx, msg); err != nil {
				return summary, fmt.Errorf("backfill %s message %d: %w", summary.RunID, msg.ID, err)
			}
			summary.Processed++
		}
	}
	slog.Info("backfill finished", "run_id", summary.RunID, "processed", summary.Processed, "skipped", summary.Skipped)
	return summary, nil
}
