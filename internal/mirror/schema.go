package mirror

import (
	"encoding/json"
	"time"
)

// LogEntry is the durable record of one observed message and its lifecycle
// state. Rows are never physically removed; deletion is the Deleted flag.
type LogEntry struct {
	ChannelID  int64           `json:"channel_id"`
	ID         int64           `json:"id"`
	AuthorID   int64           `json:"author_id"`
	Bot        bool            `json:"bot"`
	Content    string          `json:"content"`
	Deleted    bool            `json:"deleted"`
	EditedAt   *time.Time      `json:"edited_at,omitempty"`
	Attachment string          `json:"attachment,omitempty"`
	Embed      json.RawMessage `json:"embed,omitempty"`
	Reactions  ReactionTally   `json:"reactions,omitempty"`
}

// Channel is one registered conversation stream inside a scope.
type Channel struct {
	ChannelID int64     `json:"channel_id"`
	ScopeID   int64     `json:"scope_id"`
	CreatedAt time.Time `json:"created_at"`
}

const Schema = `
CREATE TABLE IF NOT EXISTS channels (
	channel_id INTEGER PRIMARY KEY,
	scope_id INTEGER NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_channels_scope ON channels(scope_id);

CREATE TABLE IF NOT EXISTS messages (
	channel_id INTEGER NOT NULL REFERENCES channels(channel_id),
	id INTEGER NOT NULL,
	author_id INTEGER NOT NULL,
	bot BOOLEAN NOT NULL DEFAULT 0,
	content TEXT NOT NULL DEFAULT '',
	deleted BOOLEAN NOT NULL DEFAULT 0,
	edited_at DATETIME,
	attachment TEXT,
	embed TEXT,
	reactions TEXT,
	PRIMARY KEY (channel_id, id)
);
CREATE INDEX IF NOT EXISTS idx_messages_author ON messages(author_id);

CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value TEXT,
	updated_at DATETIME
);
`
