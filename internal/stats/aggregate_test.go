package stats

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/chanscribe/chanscribe/internal/mirror"
	"github.com/chanscribe/chanscribe/internal/snowflake"
)

func newTestService(t *testing.T) (*Service, *mirror.Store) {
	t.Helper()
	store, err := mirror.Open(filepath.Join(t.TempDir(), "stats.db"), mirror.Options{})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return New(store, snowflake.Default), store
}

// seedAt inserts n messages into channelID with ids derived from at, so the
// aggregates see them at that wall time.
func seedAt(t *testing.T, store *mirror.Store, channelID, authorID int64, at time.Time, n int) {
	t.Helper()
	ctx := context.Background()
	base := snowflake.Default.MinID(at)
	for i := 0; i < n; i++ {
		entry := &mirror.LogEntry{
			ChannelID: channelID,
			ID:        base + int64(i),
			AuthorID:  authorID,
			Content:   "x",
		}
		if err := store.Insert(ctx, entry); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
}

func mustEnsureChannel(t *testing.T, store *mirror.Store, channelID, scopeID int64) {
	t.Helper()
	if err := store.EnsureChannel(context.Background(), channelID, scopeID); err != nil {
		t.Fatalf("ensure channel: %v", err)
	}
}

func TestWeekdayHourMatrixEmptyWindow(t *testing.T) {
	svc, store := newTestService(t)
	mustEnsureChannel(t, store, 10, 1)

	matrix, err := svc.WeekdayHourMatrix(context.Background(), 1,
		time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2023, 7, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("matrix: %v", err)
	}
	for row := range matrix {
		for hour := range matrix[row] {
			if matrix[row][hour] != 0 {
				t.Fatalf("expected all-zero matrix, cell [%d][%d] = %v", row, hour, matrix[row][hour])
			}
		}
	}
}

func TestWeekdayHourMatrixMedianAcrossWeeks(t *testing.T) {
	svc, store := newTestService(t)
	mustEnsureChannel(t, store, 10, 1)

	// Three consecutive Mondays with 9am counts 3, 5 and 7; the middle week
	// should win. A single 2pm message on the first Monday sits alone in its
	// cell.
	mondays := []time.Time{
		time.Date(2023, 6, 5, 9, 15, 0, 0, time.UTC),
		time.Date(2023, 6, 12, 9, 15, 0, 0, time.UTC),
		time.Date(2023, 6, 19, 9, 15, 0, 0, time.UTC),
	}
	for i, counts := range []int{3, 5, 7} {
		seedAt(t, store, 10, 100, mondays[i], counts)
	}
	seedAt(t, store, 10, 100, time.Date(2023, 6, 5, 14, 30, 0, 0, time.UTC), 1)

	matrix, err := svc.WeekdayHourMatrix(context.Background(), 1,
		time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2023, 7, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("matrix: %v", err)
	}
	// Monday is row 0.
	if got := matrix[0][9]; got != 5 {
		t.Fatalf("median of [3 5 7]: want 5, got %v", got)
	}
	if got := matrix[0][14]; got != 1 {
		t.Fatalf("single-week cell: want 1, got %v", got)
	}
	if got := matrix[0][10]; got != 0 {
		t.Fatalf("untouched cell: want 0, got %v", got)
	}
}

func TestWeekdayHourMatrixEvenWeekCount(t *testing.T) {
	svc, store := newTestService(t)
	mustEnsureChannel(t, store, 10, 1)

	seedAt(t, store, 10, 100, time.Date(2023, 6, 5, 9, 0, 0, 0, time.UTC), 2)
	seedAt(t, store, 10, 100, time.Date(2023, 6, 12, 9, 0, 0, 0, time.UTC), 5)

	matrix, err := svc.WeekdayHourMatrix(context.Background(), 1,
		time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2023, 7, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("matrix: %v", err)
	}
	if got := matrix[0][9]; got != 3.5 {
		t.Fatalf("median of [2 5]: want 3.5, got %v", got)
	}
}

func TestWeekdayHourMatrixSundayFoldsLast(t *testing.T) {
	svc, store := newTestService(t)
	mustEnsureChannel(t, store, 10, 1)

	// 2023-06-11 is a Sunday.
	seedAt(t, store, 10, 100, time.Date(2023, 6, 11, 20, 0, 0, 0, time.UTC), 4)

	matrix, err := svc.WeekdayHourMatrix(context.Background(), 1,
		time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2023, 7, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("matrix: %v", err)
	}
	if got := matrix[6][20]; got != 4 {
		t.Fatalf("Sunday row: want 4 at [6][20], got %v", got)
	}
	if got := matrix[0][20]; got != 0 {
		t.Fatalf("Sunday leaked into Monday row: %v", got)
	}
}

func TestWeekdayHourMatrixSkipsExcludedAndDeleted(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	mustEnsureChannel(t, store, 10, 1)
	mustEnsureChannel(t, store, 11, 1)

	at := time.Date(2023, 6, 5, 9, 0, 0, 0, time.UTC)
	seedAt(t, store, 10, 100, at, 3)
	seedAt(t, store, 11, 100, at, 3)
	if err := store.MarkDeleted(ctx, 10, snowflake.Default.MinID(at)); err != nil {
		t.Fatalf("mark deleted: %v", err)
	}
	if err := store.SetChannelExcluded(ctx, 1, 11, true); err != nil {
		t.Fatalf("exclude: %v", err)
	}

	matrix, err := svc.WeekdayHourMatrix(ctx, 1,
		time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2023, 7, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("matrix: %v", err)
	}
	if got := matrix[0][9]; got != 2 {
		t.Fatalf("want 2 surviving messages, got %v", got)
	}
}

func TestHourlySeriesRawCounts(t *testing.T) {
	svc, store := newTestService(t)
	mustEnsureChannel(t, store, 10, 1)

	now := time.Date(2023, 6, 10, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }
	since := now.Add(-6 * time.Hour)

	seedAt(t, store, 10, 100, since.Add(30*time.Minute), 2)
	seedAt(t, store, 10, 100, since.Add(2*time.Hour+30*time.Minute), 1)

	series, err := svc.HourlySeries(context.Background(), 1, nil, since, 0)
	if err != nil {
		t.Fatalf("series: %v", err)
	}
	buckets := series[10]
	if len(buckets) != 6 {
		t.Fatalf("want 6 buckets, got %d", len(buckets))
	}
	want := []float64{2, 0, 1, 0, 0, 0}
	for i, b := range buckets {
		if b.Value != want[i] {
			t.Fatalf("bucket %d: want %v, got %v", i, want[i], b.Value)
		}
		if !b.Start.Equal(since.Add(time.Duration(i) * time.Hour)) {
			t.Fatalf("bucket %d start: %v", i, b.Start)
		}
	}
}

func TestHourlySeriesPartialTrailingHour(t *testing.T) {
	svc, store := newTestService(t)
	mustEnsureChannel(t, store, 10, 1)

	// Window is not an hour multiple; the last 30 minutes form a partial
	// bucket that must still be emitted and counted.
	now := time.Date(2023, 6, 10, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }
	since := now.Add(-90 * time.Minute)

	seedAt(t, store, 10, 100, now.Add(-80*time.Minute), 1)
	seedAt(t, store, 10, 100, now.Add(-15*time.Minute), 1)

	series, err := svc.HourlySeries(context.Background(), 1, nil, since, 0)
	if err != nil {
		t.Fatalf("series: %v", err)
	}
	buckets := series[10]
	if len(buckets) != 2 {
		t.Fatalf("want 2 buckets for a 90-minute window, got %d", len(buckets))
	}
	if buckets[0].Value != 1 || buckets[1].Value != 1 {
		t.Fatalf("want [1 1], got [%v %v]", buckets[0].Value, buckets[1].Value)
	}
}

func TestHourlySeriesSmoothedPreservesMass(t *testing.T) {
	svc, store := newTestService(t)
	mustEnsureChannel(t, store, 10, 1)

	now := time.Date(2023, 6, 10, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }
	since := now.Add(-48 * time.Hour)

	seedAt(t, store, 10, 100, since.Add(24*time.Hour), 8)

	series, err := svc.HourlySeries(context.Background(), 1, nil, since, 2)
	if err != nil {
		t.Fatalf("series: %v", err)
	}
	var sum float64
	for _, b := range series[10] {
		sum += b.Value
	}
	if math.Abs(sum-8) > 1e-6 {
		t.Fatalf("smoothing changed total mass: %v", sum)
	}
	if series[10][24].Value >= 8 {
		t.Fatalf("smoothing did not spread the spike: %v", series[10][24].Value)
	}
}

func TestHourlySeriesExplicitChannelsDropExcluded(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	mustEnsureChannel(t, store, 10, 1)
	mustEnsureChannel(t, store, 11, 1)
	if err := store.SetChannelExcluded(ctx, 1, 11, true); err != nil {
		t.Fatalf("exclude: %v", err)
	}

	now := time.Date(2023, 6, 10, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }
	since := now.Add(-2 * time.Hour)
	seedAt(t, store, 10, 100, since.Add(time.Minute), 1)
	seedAt(t, store, 11, 100, since.Add(time.Minute), 1)

	series, err := svc.HourlySeries(ctx, 1, []int64{10, 11}, since, 0)
	if err != nil {
		t.Fatalf("series: %v", err)
	}
	if _, ok := series[11]; ok {
		t.Fatalf("excluded channel present in series")
	}
	if _, ok := series[10]; !ok {
		t.Fatalf("requested channel missing from series")
	}
}

func TestAuthorRollup(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	mustEnsureChannel(t, store, 10, 1)

	old := time.Date(2023, 1, 1, 10, 0, 0, 0, time.UTC)
	recent := time.Date(2023, 6, 8, 10, 0, 0, 0, time.UTC)
	seedAt(t, store, 10, 100, old, 2)
	seedAt(t, store, 10, 100, recent, 3)
	seedAt(t, store, 10, 200, old, 1)

	// Deleted messages never count.
	if err := store.MarkDeleted(ctx, 10, snowflake.Default.MinID(recent)); err != nil {
		t.Fatalf("mark deleted: %v", err)
	}

	since := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	rollup, err := svc.AuthorRollup(ctx, 1, since)
	if err != nil {
		t.Fatalf("rollup: %v", err)
	}
	if got := rollup[100]; got.AllTime != 4 || got.Window != 2 {
		t.Fatalf("author 100: want {2 4}, got {%d %d}", got.Window, got.AllTime)
	}
	if got := rollup[200]; got.AllTime != 1 || got.Window != 0 {
		t.Fatalf("author 200: want {0 1}, got {%d %d}", got.Window, got.AllTime)
	}
}
