// Package snowflake derives wall-clock timestamps from platform message ids.
//
// Message ids are 64-bit snowflakes: the high bits carry milliseconds since a
// platform-fixed epoch. Deriving the timestamp from the id keeps temporal
// bucketing consistent with message identity and avoids storing a clock
// column that could drift from it.
package snowflake

import (
	"fmt"
	"time"
)

// Scheme holds the platform constants for id decoding. The defaults match
// the Discord-style layout (ms since 2015-01-01 UTC in bits 22..63), but the
// constants are configuration, not hardcoded, so the derivation survives an
// upstream identifier-scheme change.
type Scheme struct {
	// EpochMS is the scheme epoch in milliseconds since the Unix epoch.
	EpochMS int64 `json:"epochMs" envconfig:"EPOCH_MS"`
	// Shift is the number of low bits below the timestamp field.
	Shift uint `json:"shift" envconfig:"SHIFT"`
}

// Default is the Discord-style scheme.
var Default = Scheme{EpochMS: 1420070400000, Shift: 22}

func (s Scheme) orDefault() Scheme {
	if s.EpochMS == 0 && s.Shift == 0 {
		return Default
	}
	return s
}

// Timestamp returns the wall-clock time embedded in id, in UTC.
func (s Scheme) Timestamp(id int64) time.Time {
	s = s.orDefault()
	ms := (id >> s.Shift) + s.EpochMS
	return time.UnixMilli(ms).UTC()
}

// MinID returns the smallest id a message created at or after t can have.
// Useful as a lower bound in range queries over id-ordered logs.
func (s Scheme) MinID(t time.Time) int64 {
	s = s.orDefault()
	ms := t.UnixMilli() - s.EpochMS
	if ms < 0 {
		ms = 0
	}
	return ms << s.Shift
}

// MaxID returns an exclusive upper id bound for messages created before t.
func (s Scheme) MaxID(t time.Time) int64 {
	return s.orDefault().MinID(t) // timestamps strictly before t decode below this bound
}

// DateExpr returns a SQLite expression deriving the message timestamp from
// an id column. This is the SQL twin of Timestamp: both are generated from
// the same scheme constants so they can never disagree.
func (s Scheme) DateExpr(idColumn string) string {
	s = s.orDefault()
	// datetime accepts unix seconds; the division truncates sub-second millis.
	return fmt.Sprintf("datetime(((%s >> %d) + %d) / 1000, 'unixepoch')", idColumn, s.Shift, s.EpochMS)
}

// SecondsExpr returns a SQLite expression deriving unix seconds from an id
// column, for arithmetic bucketing where DateExpr's string form is awkward.
func (s Scheme) SecondsExpr(idColumn string) string {
	s = s.orDefault()
	return fmt.Sprintf("(((%s >> %d) + %d) / 1000)", idColumn, s.Shift, s.EpochMS)
}
