package cli

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/chanscribe/chanscribe/internal/config"
	"github.com/chanscribe/chanscribe/internal/mirror"
)

var excludeScope int64

var excludeCmd = &cobra.Command{
	Use:   "exclude",
	Short: "Manage a scope's channel exclusion set for stats queries",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

var excludeAddCmd = &cobra.Command{
	Use:   "add <channel-id>",
	Short: "Exclude a channel from aggregate queries",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setExcluded(cmd, args[0], true)
	},
}

var excludeRemoveCmd = &cobra.Command{
	Use:   "remove <channel-id>",
	Short: "Re-include a channel in aggregate queries",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setExcluded(cmd, args[0], false)
	},
}

var excludeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List excluded channels",
	RunE:  runExcludeList,
}

func init() {
	excludeCmd.PersistentFlags().Int64Var(&excludeScope, "scope", 0, "scope (guild) id")
	excludeCmd.MarkPersistentFlagRequired("scope")
	excludeCmd.AddCommand(excludeAddCmd)
	excludeCmd.AddCommand(excludeRemoveCmd)
	excludeCmd.AddCommand(excludeListCmd)
}

func withStore(fn func(store *mirror.Store) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

func setExcluded(cmd *cobra.Command, arg string, excluded bool) error {
	channelID, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return fmt.Errorf("parse channel id: %w", err)
	}
	return withStore(func(store *mirror.Store) error {
		if err := store.SetChannelExcluded(cmd.Context(), excludeScope, channelID, excluded); err != nil {
			return err
		}
		if excluded {
			fmt.Printf("channel %d excluded from scope %d stats\n", channelID, excludeScope)
		} else {
			fmt.Printf("channel %d included in scope %d stats\n", channelID, excludeScope)
		}
		return nil
	})
}

func runExcludeList(cmd *cobra.Command, args []string) error {
	return withStore(func(store *mirror.Store) error {
		excluded, err := store.ExcludedChannels(cmd.Context(), excludeScope)
		if err != nil {
			return err
		}
		if len(excluded) == 0 {
			fmt.Println("no excluded channels")
			return nil
		}
		ids := make([]int64, 0, len(excluded))
		for id := range excluded {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		for _, id := range ids {
			fmt.Println(id)
		}
		return nil
	})
}
