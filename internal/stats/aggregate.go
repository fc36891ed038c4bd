// Package stats computes time-bucketed aggregates over the mirrored message
// logs. Results are derived fresh from the store on every call and never
// persisted or cached.
package stats

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/chanscribe/chanscribe/internal/mirror"
	"github.com/chanscribe/chanscribe/internal/snowflake"
)

// Bucket is one fixed-width time bucket of a series.
type Bucket struct {
	Start time.Time `json:"start"`
	Value float64   `json:"value"`
}

// AuthorCounts holds per-author message counts for a query window and for
// all time.
type AuthorCounts struct {
	Window  int `json:"window"`
	AllTime int `json:"all_time"`
}

// Service answers aggregate queries against the mirror store. All temporal
// bucketing derives times from message ids via the scheme, never from a
// stored clock column.
type Service struct {
	store  *mirror.Store
	scheme snowflake.Scheme
	now    func() time.Time
}

// New creates a stats Service.
func New(store *mirror.Store, scheme snowflake.Scheme) *Service {
	return &Service{store: store, scheme: scheme, now: time.Now}
}

// scopeChannelSet resolves the channels a scope-wide query runs over:
// registered channels minus the scope's exclusion set, optionally narrowed
// to an explicit channel list.
func (s *Service) scopeChannelSet(ctx context.Context, scopeID int64, only []int64) ([]int64, error) {
	chans, err := s.store.ScopeChannels(ctx, scopeID)
	if err != nil {
		return nil, err
	}
	excluded, err := s.store.ExcludedChannels(ctx, scopeID)
	if err != nil {
		return nil, err
	}
	allowed := make(map[int64]bool, len(chans))
	for _, id := range chans {
		if !excluded[id] {
			allowed[id] = true
		}
	}
	if only == nil {
		out := make([]int64, 0, len(allowed))
		for _, id := range chans {
			if allowed[id] {
				out = append(out, id)
			}
		}
		return out, nil
	}
	var out []int64
	for _, id := range only {
		if allowed[id] {
			out = append(out, id)
		}
	}
	return out, nil
}

func inPlaceholders(ids []int64) (string, []any) {
	marks := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		marks[i] = "?"
		args[i] = id
	}
	return strings.Join(marks, ","), args
}

// WeekdayHourMatrix groups non-deleted messages in [since, until) by
// (weekday, hour-of-day) and returns the median of per-week counts for each
// cell. Median rather than mean keeps one loud week from skewing the
// pattern. Rows are Monday..Sunday; missing cells are zero.
func (s *Service) WeekdayHourMatrix(ctx context.Context, scopeID int64, since, until time.Time) ([7][24]float64, error) {
	var matrix [7][24]float64
	chans, err := s.scopeChannelSet(ctx, scopeID, nil)
	if err != nil {
		return matrix, fmt.Errorf("weekday-hour matrix: %w", err)
	}
	if len(chans) == 0 {
		return matrix, nil
	}

	marks, args := inPlaceholders(chans)
	dateExpr := s.scheme.DateExpr("id")
	query := fmt.Sprintf(`SELECT
			strftime('%%Y-%%W', %[1]s) AS week,
			CAST(strftime('%%w', %[1]s) AS INTEGER) AS weekday,
			CAST(strftime('%%H', %[1]s) AS INTEGER) AS hour,
			COUNT(*) AS cnt
		FROM messages
		WHERE channel_id IN (%[2]s) AND NOT deleted AND id >= ? AND id < ?
		GROUP BY week, weekday, hour`, dateExpr, marks)
	args = append(args, s.scheme.MinID(since), s.scheme.MaxID(until))

	rows, err := s.store.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return matrix, fmt.Errorf("weekday-hour matrix: %w", err)
	}
	defer rows.Close()

	// cell -> per-week raw counts
	samples := make(map[[2]int][]float64)
	for rows.Next() {
		var week string
		var weekday, hour, cnt int
		if err := rows.Scan(&week, &weekday, &hour, &cnt); err != nil {
			return matrix, err
		}
		// strftime %w is 0=Sunday; fold Sunday onto the last row of a
		// Monday-first week.
		row := (weekday + 6) % 7
		key := [2]int{row, hour}
		samples[key] = append(samples[key], float64(cnt))
	}
	if err := rows.Err(); err != nil {
		return matrix, err
	}

	for key, counts := range samples {
		matrix[key[0]][key[1]] = median(counts)
	}
	return matrix, nil
}

// median of a non-empty sample; even cardinality averages the middle pair.
func median(v []float64) float64 {
	sort.Float64s(v)
	n := len(v)
	if n%2 == 1 {
		return v[n/2]
	}
	return (v[n/2-1] + v[n/2]) / 2
}

// HourlySeries returns one-hour-bucket counts of non-deleted messages per
// channel over [since, now), zero-filled, optionally Gaussian-smoothed.
// Sigma 0 yields raw counts. Nil channelIDs means every non-excluded
// channel of the scope.
func (s *Service) HourlySeries(ctx context.Context, scopeID int64, channelIDs []int64, since time.Time, sigma float64) (map[int64][]Bucket, error) {
	chans, err := s.scopeChannelSet(ctx, scopeID, channelIDs)
	if err != nil {
		return nil, fmt.Errorf("hourly series: %w", err)
	}

	now := s.now().UTC()
	window := now.Sub(since)
	nBuckets := int(window / time.Hour)
	if window%time.Hour != 0 {
		// Trailing partial hour still gets a bucket; every row in
		// [since, now) must land somewhere.
		nBuckets++
	}
	out := make(map[int64][]Bucket, len(chans))
	if nBuckets <= 0 {
		return out, nil
	}

	secsExpr := s.scheme.SecondsExpr("id")
	sinceSecs := since.Unix()
	minID, maxID := s.scheme.MinID(since), s.scheme.MaxID(now)

	for _, channelID := range chans {
		query := fmt.Sprintf(`SELECT (%s - ?) / 3600 AS bucket, COUNT(*) AS cnt
			FROM messages
			WHERE channel_id = ? AND NOT deleted AND id >= ? AND id < ?
			GROUP BY bucket`, secsExpr)
		rows, err := s.store.DB().QueryContext(ctx, query, sinceSecs, channelID, minID, maxID)
		if err != nil {
			return nil, fmt.Errorf("hourly series channel %d: %w", channelID, err)
		}

		raw := make([]float64, nBuckets)
		for rows.Next() {
			var bucket int
			var cnt float64
			if err := rows.Scan(&bucket, &cnt); err != nil {
				rows.Close()
				return nil, err
			}
			if bucket >= 0 && bucket < nBuckets {
				raw[bucket] = cnt
			}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()

		smoothed := GaussianSmooth(raw, sigma)
		series := make([]Bucket, nBuckets)
		for i := range series {
			series[i] = Bucket{Start: since.Add(time.Duration(i) * time.Hour), Value: smoothed[i]}
		}
		out[channelID] = series
	}
	return out, nil
}

// AuthorRollup returns per-author counts of non-deleted messages in
// [since, now) and all-time, across a scope's non-excluded channels.
func (s *Service) AuthorRollup(ctx context.Context, scopeID int64, since time.Time) (map[int64]AuthorCounts, error) {
	chans, err := s.scopeChannelSet(ctx, scopeID, nil)
	if err != nil {
		return nil, fmt.Errorf("author rollup: %w", err)
	}
	out := make(map[int64]AuthorCounts)
	if len(chans) == 0 {
		return out, nil
	}

	marks, baseArgs := inPlaceholders(chans)

	allTime := fmt.Sprintf(`SELECT author_id, COUNT(*) FROM messages
		WHERE channel_id IN (%s) AND NOT deleted GROUP BY author_id`, marks)
	rows, err := s.store.DB().QueryContext(ctx, allTime, baseArgs...)
	if err != nil {
		return nil, fmt.Errorf("author rollup: %w", err)
	}
	for rows.Next() {
		var author int64
		var cnt int
		if err := rows.Scan(&author, &cnt); err != nil {
			rows.Close()
			return nil, err
		}
		out[author] = AuthorCounts{AllTime: cnt}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	windowed := fmt.Sprintf(`SELECT author_id, COUNT(*) FROM messages
		WHERE channel_id IN (%s) AND NOT deleted AND id >= ? GROUP BY author_id`, marks)
	args := append(append([]any{}, baseArgs...), s.scheme.MinID(since))
	rows, err = s.store.DB().QueryContext(ctx, windowed, args...)
	if err != nil {
		return nil, fmt.Errorf("author rollup: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var author int64
		var cnt int
		if err := rows.Scan(&author, &cnt); err != nil {
			return nil, err
		}
		counts := out[author]
		counts.Window = cnt
		out[author] = counts
	}
	return out, rows.Err()
}
