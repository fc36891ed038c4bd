package mirror

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "mirror.db")
	s, err := Open(dbPath, Options{})
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

func mustEnsure(t *testing.T, s *Store, channelID, scopeID int64) {
	t.Helper()
	if err := s.EnsureChannel(context.Background(), channelID, scopeID); err != nil {
		t.Fatalf("ensure channel: %v", err)
	}
}

func TestInsertUnknownChannel(t *testing.T) {
	s := newTestStore(t)
	err := s.Insert(context.Background(), &LogEntry{ChannelID: 1, ID: 100, AuthorID: 5})
	if !errors.Is(err, ErrChannelUnknown) {
		t.Fatalf("expected ErrChannelUnknown, got %v", err)
	}
}

func TestInsertIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustEnsure(t, s, 1, 10)

	entry := &LogEntry{ChannelID: 1, ID: 100, AuthorID: 5, Content: "hi"}
	if err := s.Insert(ctx, entry); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	// A replayed duplicate must be a no-op, not an error, and must not
	// overwrite the stored row.
	dup := &LogEntry{ChannelID: 1, ID: 100, AuthorID: 9, Content: "other"}
	if err := s.Insert(ctx, dup); err != nil {
		t.Fatalf("duplicate insert: %v", err)
	}

	got, err := s.GetEntry(ctx, 1, 100)
	if err != nil {
		t.Fatalf("get entry: %v", err)
	}
	if got.AuthorID != 5 || got.Content != "hi" {
		t.Fatalf("duplicate insert overwrote row: %+v", got)
	}
	n, err := s.CountMessages(ctx, 1)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 row, got %d", n)
	}
}

func TestEnsureChannelIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustEnsure(t, s, 1, 10)
	mustEnsure(t, s, 1, 10)

	chans, err := s.ScopeChannels(ctx, 10)
	if err != nil {
		t.Fatalf("scope channels: %v", err)
	}
	if len(chans) != 1 || chans[0] != 1 {
		t.Fatalf("expected [1], got %v", chans)
	}
}

func TestMarkEditedFieldPreservation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustEnsure(t, s, 1, 10)

	embed := json.RawMessage(`{"title":"t"}`)
	if err := s.Insert(ctx, &LogEntry{ChannelID: 1, ID: 100, AuthorID: 5, Content: "hi", Embed: embed}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	// Edit with nil content must leave content untouched.
	at := time.Date(2023, 4, 1, 12, 0, 0, 0, time.UTC)
	if err := s.MarkEdited(ctx, 1, 100, nil, nil, at); err != nil {
		t.Fatalf("edit: %v", err)
	}
	got, err := s.GetEntry(ctx, 1, 100)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Content != "hi" {
		t.Fatalf("nil content edit changed content to %q", got.Content)
	}
	if string(got.Embed) != string(embed) {
		t.Fatalf("nil embed edit changed embed to %s", got.Embed)
	}
	if got.EditedAt == nil || !got.EditedAt.Equal(at) {
		t.Fatalf("edited_at not set: %v", got.EditedAt)
	}

	// Scenario: content replaced, everything else unchanged.
	newContent := "bye"
	if err := s.MarkEdited(ctx, 1, 100, &newContent, nil, at.Add(time.Minute)); err != nil {
		t.Fatalf("edit: %v", err)
	}
	got, err = s.GetEntry(ctx, 1, 100)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Content != "bye" {
		t.Fatalf("content not updated: %q", got.Content)
	}
	if got.ID != 100 || got.AuthorID != 5 {
		t.Fatalf("edit touched identity fields: %+v", got)
	}
}

func TestMarkEditedUnknownID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustEnsure(t, s, 1, 10)

	content := "x"
	if err := s.MarkEdited(ctx, 1, 999, &content, nil, time.Now()); err != nil {
		t.Fatalf("edit of unknown id should be a no-op: %v", err)
	}
	if _, err := s.GetEntry(ctx, 1, 999); err != sql.ErrNoRows {
		t.Fatalf("edit of unknown id must not create a row, got %v", err)
	}
}

func TestMarkDeletedMonotonic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustEnsure(t, s, 1, 10)
	if err := s.Insert(ctx, &LogEntry{ChannelID: 1, ID: 100, AuthorID: 5}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if err := s.MarkDeleted(ctx, 1, 100); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.MarkDeleted(ctx, 1, 100); err != nil {
		t.Fatalf("repeat delete: %v", err)
	}
	if err := s.MarkDeletedBulk(ctx, 1, []int64{100, 999}); err != nil {
		t.Fatalf("bulk delete: %v", err)
	}

	got, err := s.GetEntry(ctx, 1, 100)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Deleted {
		t.Fatalf("deleted flag reverted")
	}
	// Unknown id in the bulk must not materialize a row.
	if _, err := s.GetEntry(ctx, 1, 999); err != sql.ErrNoRows {
		t.Fatalf("bulk delete created a row for unknown id: %v", err)
	}
}

func TestDeleteUnknownID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustEnsure(t, s, 1, 10)

	if err := s.MarkDeleted(ctx, 1, 7); err != nil {
		t.Fatalf("delete of never-created id should be a no-op: %v", err)
	}
	if _, err := s.GetEntry(ctx, 1, 7); err != sql.ErrNoRows {
		t.Fatalf("delete of unknown id must not create a row, got %v", err)
	}
}

func TestReactionDeltaScenario(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustEnsure(t, s, 1, 10)
	if err := s.Insert(ctx, &LogEntry{ChannelID: 1, ID: 5, AuthorID: 2}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	const thumbsUp = "\U0001F44D"
	if err := s.ApplyReactionDelta(ctx, 1, 5, thumbsUp, 100, true); err != nil {
		t.Fatalf("add A: %v", err)
	}
	if err := s.ApplyReactionDelta(ctx, 1, 5, thumbsUp, 200, true); err != nil {
		t.Fatalf("add B: %v", err)
	}
	if err := s.ApplyReactionDelta(ctx, 1, 5, thumbsUp, 100, false); err != nil {
		t.Fatalf("remove A: %v", err)
	}

	got, err := s.GetEntry(ctx, 1, 5)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	ids := got.Reactions[thumbsUp]
	if len(ids) != 1 || ids[0] != 200 {
		t.Fatalf("expected {B} under %q, got %v", thumbsUp, ids)
	}
}

func TestReactionDeltaEdgeCases(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustEnsure(t, s, 1, 10)
	if err := s.Insert(ctx, &LogEntry{ChannelID: 1, ID: 5, AuthorID: 2}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	// Remove against a null document, and against an absent key, are no-ops.
	if err := s.ApplyReactionDelta(ctx, 1, 5, "x", 100, false); err != nil {
		t.Fatalf("remove on null document: %v", err)
	}
	if err := s.ApplyReactionDelta(ctx, 1, 5, "y", 100, true); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.ApplyReactionDelta(ctx, 1, 5, "x", 100, false); err != nil {
		t.Fatalf("remove absent key: %v", err)
	}
	// Delta for a row that does not exist is dropped, not an error.
	if err := s.ApplyReactionDelta(ctx, 1, 404, "y", 100, true); err != nil {
		t.Fatalf("delta on unknown row: %v", err)
	}

	got, err := s.GetEntry(ctx, 1, 5)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Reactions) != 1 || len(got.Reactions["y"]) != 1 {
		t.Fatalf("unexpected tally: %v", got.Reactions)
	}

	// Removing the last reactor drops the key and nulls the document.
	if err := s.ApplyReactionDelta(ctx, 1, 5, "y", 100, false); err != nil {
		t.Fatalf("remove last: %v", err)
	}
	got, err = s.GetEntry(ctx, 1, 5)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Reactions.Empty() {
		t.Fatalf("expected empty tally, got %v", got.Reactions)
	}
}

func TestExclusionSetLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	set, err := s.ExcludedChannels(ctx, 10)
	if err != nil {
		t.Fatalf("empty exclusions: %v", err)
	}
	if len(set) != 0 {
		t.Fatalf("expected empty set, got %v", set)
	}

	if err := s.SetChannelExcluded(ctx, 10, 3, true); err != nil {
		t.Fatalf("exclude: %v", err)
	}
	if err := s.SetChannelExcluded(ctx, 10, 3, true); err != nil {
		t.Fatalf("repeat exclude: %v", err)
	}
	set, err = s.ExcludedChannels(ctx, 10)
	if err != nil {
		t.Fatalf("exclusions: %v", err)
	}
	if !set[3] || len(set) != 1 {
		t.Fatalf("expected {3}, got %v", set)
	}

	// Exclusion is reversible without data loss.
	if err := s.SetChannelExcluded(ctx, 10, 3, false); err != nil {
		t.Fatalf("include: %v", err)
	}
	set, err = s.ExcludedChannels(ctx, 10)
	if err != nil {
		t.Fatalf("exclusions: %v", err)
	}
	if len(set) != 0 {
		t.Fatalf("expected empty set after undo, got %v", set)
	}
}

func TestSettings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.GetSetting(ctx, "missing"); err != sql.ErrNoRows {
		t.Fatalf("expected ErrNoRows for missing key, got %v", err)
	}
	if err := s.SetSetting(ctx, "k", "v1"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.SetSetting(ctx, "k", "v2"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	val, err := s.GetSetting(ctx, "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if val != "v2" {
		t.Fatalf("expected v2, got %q", val)
	}
}
