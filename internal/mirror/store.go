// Package mirror persists the per-channel message logs and the settings
// store they share. All writes are idempotent so at-least-once delivery and
// historical replay converge to the same rows.
package mirror

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	_ "modernc.org/sqlite"
)

// ErrChannelUnknown signals that a write targeted a channel that has not
// been provisioned yet. Callers ensure the channel and retry exactly once.
var ErrChannelUnknown = errors.New("channel not provisioned")

// Store is the durable message-log store. The embedded *sql.DB is the
// bounded connection pool; operations on distinct rows may run concurrently.
type Store struct {
	db *sql.DB
}

// Options tunes the store pool.
type Options struct {
	MaxConns      int
	BusyTimeoutMS int
}

// Open opens (creating if needed) the mirror database at dbPath.
func Open(dbPath string, opts Options) (*Store, error) {
	if opts.BusyTimeoutMS <= 0 {
		opts.BusyTimeoutMS = 5000
	}
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)", dbPath, opts.BusyTimeoutMS)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open mirror db: %w", err)
	}
	if opts.MaxConns > 0 {
		db.SetMaxOpenConns(opts.MaxConns)
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// DB returns the underlying *sql.DB for shared read access (e.g. stats).
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureChannel registers a channel under a scope. Safe to call repeatedly;
// a channel already registered keeps its original scope.
func (s *Store) EnsureChannel(ctx context.Context, channelID, scopeID int64) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO channels (channel_id, scope_id) VALUES (?, ?)
		ON CONFLICT(channel_id) DO NOTHING`, channelID, scopeID)
	if err != nil {
		return fmt.Errorf("ensure channel %d: %w", channelID, err)
	}
	return nil
}

// channelExists reports whether a channel has been provisioned.
func (s *Store) channelExists(ctx context.Context, channelID int64) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM channels WHERE channel_id = ?`, channelID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Insert stores a new LogEntry. A duplicate (channel, id) is the expected
// replay case and succeeds as a no-op. Returns ErrChannelUnknown when the
// channel has not been provisioned.
func (s *Store) Insert(ctx context.Context, entry *LogEntry) error {
	ok, err := s.channelExists(ctx, entry.ChannelID)
	if err != nil {
		return fmt.Errorf("insert %d/%d: %w", entry.ChannelID, entry.ID, err)
	}
	if !ok {
		return fmt.Errorf("insert %d/%d: %w", entry.ChannelID, entry.ID, ErrChannelUnknown)
	}

	reactions, err := marshalTally(entry.Reactions)
	if err != nil {
		return fmt.Errorf("insert %d/%d: marshal reactions: %w", entry.ChannelID, entry.ID, err)
	}
	var embed any
	if len(entry.Embed) > 0 {
		embed = string(entry.Embed)
	}
	var attachment any
	if entry.Attachment != "" {
		attachment = entry.Attachment
	}
	var editedAt any
	if entry.EditedAt != nil {
		editedAt = entry.EditedAt.UTC()
	}

	res, err := s.db.ExecContext(ctx, `INSERT INTO messages
		(channel_id, id, author_id, bot, content, deleted, edited_at, attachment, embed, reactions)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?, ?)
		ON CONFLICT(channel_id, id) DO NOTHING`,
		entry.ChannelID, entry.ID, entry.AuthorID, entry.Bot, entry.Content,
		editedAt, attachment, embed, reactions)
	if err != nil {
		return fmt.Errorf("insert %d/%d: %w", entry.ChannelID, entry.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		slog.Debug("duplicate insert ignored", "channel", entry.ChannelID, "id", entry.ID)
	}
	return nil
}

// MarkEdited applies an edit to a stored row. Nil content/embed preserve the
// stored values (per-field latest-wins). Unknown ids are a no-op.
func (s *Store) MarkEdited(ctx context.Context, channelID, id int64, content *string, embed json.RawMessage, editedAt time.Time) error {
	var embedArg any
	if len(embed) > 0 {
		embedArg = string(embed)
	}
	var contentArg any
	if content != nil {
		contentArg = *content
	}
	res, err := s.db.ExecContext(ctx, `UPDATE messages SET
		content = COALESCE(?, content),
		embed = COALESCE(?, embed),
		edited_at = ?
		WHERE channel_id = ? AND id = ?`,
		contentArg, embedArg, editedAt.UTC(), channelID, id)
	if err != nil {
		return fmt.Errorf("mark edited %d/%d: %w", channelID, id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		slog.Debug("edit for unknown message dropped", "channel", channelID, "id", id)
	}
	return nil
}

// MarkDeleted soft-deletes a row. The flag only moves false to true; unknown
// ids are a no-op.
func (s *Store) MarkDeleted(ctx context.Context, channelID, id int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE messages SET deleted = 1 WHERE channel_id = ? AND id = ?`, channelID, id)
	if err != nil {
		return fmt.Errorf("mark deleted %d/%d: %w", channelID, id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		slog.Debug("delete for unknown message dropped", "channel", channelID, "id", id)
	}
	return nil
}

// MarkDeletedBulk soft-deletes a batch of rows in one transaction. Unknown
// ids are silently skipped per id.
func (s *Store) MarkDeletedBulk(ctx context.Context, channelID int64, ids []int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("bulk delete in %d: %w", channelID, err)
	}
	defer tx.Rollback()
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `UPDATE messages SET deleted = 1 WHERE channel_id = ? AND id = ?`, channelID, id); err != nil {
			return fmt.Errorf("bulk delete %d/%d: %w", channelID, id, err)
		}
	}
	return tx.Commit()
}

// ApplyReactionDelta reads the reactions document for a row, applies one
// add or remove, and writes it back inside a transaction. Rows not found
// and removals of absent keys are no-ops.
func (s *Store) ApplyReactionDelta(ctx context.Context, channelID, id int64, key string, reactorID int64, added bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("reaction delta %d/%d: %w", channelID, id, err)
	}
	defer tx.Rollback()

	var raw sql.NullString
	err = tx.QueryRowContext(ctx, `SELECT reactions FROM messages WHERE channel_id = ? AND id = ?`, channelID, id).Scan(&raw)
	if err == sql.ErrNoRows {
		slog.Debug("reaction for unknown message dropped", "channel", channelID, "id", id, "key", key)
		return nil
	}
	if err != nil {
		return fmt.Errorf("reaction delta %d/%d: %w", channelID, id, err)
	}

	tally, err := unmarshalTally(raw.String)
	if err != nil {
		return fmt.Errorf("reaction delta %d/%d: parse document: %w", channelID, id, err)
	}
	if added {
		tally = tally.Add(key, reactorID)
	} else {
		tally = tally.Remove(key, reactorID)
	}

	val, err := marshalTally(tally)
	if err != nil {
		return fmt.Errorf("reaction delta %d/%d: marshal document: %w", channelID, id, err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE messages SET reactions = ? WHERE channel_id = ? AND id = ?`, val, channelID, id); err != nil {
		return fmt.Errorf("reaction delta %d/%d: %w", channelID, id, err)
	}
	return tx.Commit()
}

// GetEntry returns one stored row, or sql.ErrNoRows.
func (s *Store) GetEntry(ctx context.Context, channelID, id int64) (*LogEntry, error) {
	var e LogEntry
	var editedAt sql.NullTime
	var attachment, embed, reactions sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT channel_id, id, author_id, bot, content, deleted, edited_at, attachment, embed, reactions
		FROM messages WHERE channel_id = ? AND id = ?`, channelID, id).
		Scan(&e.ChannelID, &e.ID, &e.AuthorID, &e.Bot, &e.Content, &e.Deleted, &editedAt, &attachment, &embed, &reactions)
	if err != nil {
		return nil, err
	}
	if editedAt.Valid {
		t := editedAt.Time.UTC()
		e.EditedAt = &t
	}
	e.Attachment = attachment.String
	if embed.Valid && embed.String != "" {
		e.Embed = json.RawMessage(embed.String)
	}
	if e.Reactions, err = unmarshalTally(reactions.String); err != nil {
		return nil, fmt.Errorf("get %d/%d: parse reactions: %w", channelID, id, err)
	}
	return &e, nil
}

// CountMessages returns the number of rows mirrored for a channel,
// soft-deleted rows included.
func (s *Store) CountMessages(ctx context.Context, channelID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE channel_id = ?`, channelID).Scan(&n)
	return n, err
}

// ScopeChannels returns the ids of all channels registered under a scope,
// ascending. Scope-wide aggregate queries parametrize over this set, which
// makes the cross-channel union self-refreshing when channels are added.
func (s *Store) ScopeChannels(ctx context.Context, scopeID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT channel_id FROM channels WHERE scope_id = ? ORDER BY channel_id ASC`, scopeID)
	if err != nil {
		return nil, fmt.Errorf("scope channels %d: %w", scopeID, err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// GetSetting returns a setting value by key.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var val string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&val)
	if err != nil {
		return "", err
	}
	return val, nil
}

// SetSetting persists a setting value.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, datetime('now'))
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value)
	return err
}

func excludedKey(scopeID int64) string {
	return fmt.Sprintf("excluded_channels:%d", scopeID)
}

// ExcludedChannels returns the set of channels excluded from scope-wide
// aggregation. Exclusion lives in settings, not in the log, so it is
// reversible without data loss.
func (s *Store) ExcludedChannels(ctx context.Context, scopeID int64) (map[int64]bool, error) {
	raw, err := s.GetSetting(ctx, excludedKey(scopeID))
	if err == sql.ErrNoRows {
		return map[int64]bool{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("excluded channels %d: %w", scopeID, err)
	}
	var ids []int64
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, fmt.Errorf("excluded channels %d: parse: %w", scopeID, err)
	}
	set := make(map[int64]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set, nil
}

// SetChannelExcluded marks or unmarks a channel as excluded from scope-wide
// aggregation.
func (s *Store) SetChannelExcluded(ctx context.Context, scopeID, channelID int64, excluded bool) error {
	set, err := s.ExcludedChannels(ctx, scopeID)
	if err != nil {
		return err
	}
	if set[channelID] == excluded {
		return nil
	}
	if excluded {
		set[channelID] = true
	} else {
		delete(set, channelID)
	}
	ids := make([]int64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	raw, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("set excluded %d/%d: %w", scopeID, channelID, err)
	}
	return s.SetSetting(ctx, excludedKey(scopeID), string(raw))
}
