package cli

import (
	"fmt"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/chanscribe/chanscribe/internal/config"
	"github.com/chanscribe/chanscribe/internal/stats"
)

var (
	statsScope    int64
	statsDays     int
	statsChannels []int64
	statsSigma    float64
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Query activity aggregates over the mirrored logs",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

var heatmapCmd = &cobra.Command{
	Use:   "heatmap",
	Short: "Weekday x hour activity heatmap (median weekly counts)",
	RunE:  runHeatmap,
}

var seriesCmd = &cobra.Command{
	Use:   "series",
	Short: "Per-channel hourly message counts",
	RunE:  runSeries,
}

var authorsCmd = &cobra.Command{
	Use:   "authors",
	Short: "Per-author message counts, windowed and all-time",
	RunE:  runAuthors,
}

func init() {
	statsCmd.PersistentFlags().Int64Var(&statsScope, "scope", 0, "scope (guild) id")
	statsCmd.PersistentFlags().IntVar(&statsDays, "days", 0, "lookback window in days (default from config)")
	statsCmd.MarkPersistentFlagRequired("scope")
	seriesCmd.Flags().Int64SliceVar(&statsChannels, "channels", nil, "restrict to these channel ids")
	seriesCmd.Flags().Float64Var(&statsSigma, "sigma", -1, "Gaussian smoothing width in hours (0 = raw, default from config)")
	statsCmd.AddCommand(heatmapCmd)
	statsCmd.AddCommand(seriesCmd)
	statsCmd.AddCommand(authorsCmd)
}

func statsService() (*stats.Service, *config.Config, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}
	store, err := openStore(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	return stats.New(store, cfg.IDScheme), cfg, func() { store.Close() }, nil
}

func windowStart(cfg *config.Config) time.Time {
	days := statsDays
	if days <= 0 {
		days = cfg.Stats.WindowDays
	}
	return time.Now().UTC().AddDate(0, 0, -days)
}

func runHeatmap(cmd *cobra.Command, args []string) error {
	svc, cfg, closeStore, err := statsService()
	if err != nil {
		return err
	}
	defer closeStore()

	since := windowStart(cfg)
	until := time.Now().UTC()
	matrix, err := svc.WeekdayHourMatrix(cmd.Context(), statsScope, since, until)
	if err != nil {
		return err
	}

	var peak float64
	for _, row := range matrix {
		for _, v := range row {
			if v > peak {
				peak = v
			}
		}
	}

	days := []string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}
	fmt.Printf("Scope %d, %s to %s\n\n     ", statsScope, since.Format("2006-01-02"), until.Format("2006-01-02"))
	for h := 0; h < 24; h++ {
		fmt.Printf("%4d", h)
	}
	fmt.Println()
	for i, row := range matrix {
		fmt.Printf("%s  ", days[i])
		for _, v := range row {
			cell := fmt.Sprintf("%4.0f", v)
			if peak > 0 && v == peak {
				cell = color.YellowString(cell)
			}
			fmt.Print(cell)
		}
		fmt.Println()
	}
	return nil
}

func runSeries(cmd *cobra.Command, args []string) error {
	svc, cfg, closeStore, err := statsService()
	if err != nil {
		return err
	}
	defer closeStore()

	sigma := statsSigma
	if sigma < 0 {
		sigma = cfg.Stats.Sigma
	}
	series, err := svc.HourlySeries(cmd.Context(), statsScope, statsChannels, windowStart(cfg), sigma)
	if err != nil {
		return err
	}

	channels := make([]int64, 0, len(series))
	for id := range series {
		channels = append(channels, id)
	}
	sort.Slice(channels, func(i, j int) bool { return channels[i] < channels[j] })

	for _, id := range channels {
		buckets := series[id]
		var total, peak float64
		var peakAt time.Time
		for _, b := range buckets {
			total += b.Value
			if b.Value > peak {
				peak, peakAt = b.Value, b.Start
			}
		}
		fmt.Printf("channel %d: %.0f messages over %d hours", id, total, len(buckets))
		if peak > 0 {
			fmt.Printf(", peak %.1f/h at %s", peak, peakAt.Format("2006-01-02 15:04"))
		}
		fmt.Println()
	}
	return nil
}

func runAuthors(cmd *cobra.Command, args []string) error {
	svc, cfg, closeStore, err := statsService()
	if err != nil {
		return err
	}
	defer closeStore()

	rollup, err := svc.AuthorRollup(cmd.Context(), statsScope, windowStart(cfg))
	if err != nil {
		return err
	}

	type entry struct {
		author int64
		counts stats.AuthorCounts
	}
	entries := make([]entry, 0, len(rollup))
	for author, counts := range rollup {
		entries = append(entries, entry{author, counts})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].counts.Window != entries[j].counts.Window {
			return entries[i].counts.Window > entries[j].counts.Window
		}
		return entries[i].author < entries[j].author
	})

	fmt.Printf("%-20s %10s %10s\n", "author", "window", "all-time")
	for _, e := range entries {
		fmt.Printf("%-20d %10d %10d\n", e.author, e.counts.Window, e.counts.AllTime)
	}
	return nil
}
