package backfill

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/chanscribe/chanscribe/internal/bus"
	"github.com/chanscribe/chanscribe/internal/snowflake"
)

// FileHistory serves channel history from a newline-delimited JSON export,
// one message_created body per line. Exports come from the gateway's dump
// tooling; this lets a backfill run without platform API access.
type FileHistory struct {
	byChannel map[int64][]bus.MessageCreated
	scheme    snowflake.Scheme
}

// LoadFileHistory reads an export file into memory. Messages are sorted by
// id per channel so replay happens oldest first.
func LoadFileHistory(path string, scheme snowflake.Scheme) (*FileHistory, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	defer f.Close()

	h := &FileHistory{byChannel: make(map[int64][]bus.MessageCreated), scheme: scheme}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var msg bus.MessageCreated
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, fmt.Errorf("load history: line %d: %w", line, err)
		}
		h.byChannel[msg.ChannelID] = append(h.byChannel[msg.ChannelID], msg)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	for _, msgs := range h.byChannel {
		sort.Slice(msgs, func(i, j int) bool { return msgs[i].ID < msgs[j].ID })
	}
	return h, nil
}

// Channels lists every channel present in the export, ascending.
func (h *FileHistory) Channels() []int64 {
	out := make([]int64, 0, len(h.byChannel))
	for id := range h.byChannel {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ChannelHistory implements History.
func (h *FileHistory) ChannelHistory(ctx context.Context, channelID int64, opts Options) ([]bus.MessageCreated, error) {
	msgs := h.byChannel[channelID]
	if !opts.After.IsZero() {
		cutoff := h.scheme.MinID(opts.After)
		i := sort.Search(len(msgs), func(i int) bool { return msgs[i].ID >= cutoff })
		msgs = msgs[i:]
	}
	if opts.Limit > 0 && len(msgs) > opts.Limit {
		msgs = msgs[:opts.Limit]
	}
	return msgs, nil
}
