// Package cli implements the chanscribe command line interface.
package cli

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/chanscribe/chanscribe/internal/cli.version=1.2.3"
	version = "0.4.0"
	logo    = "\n" +
		"        _                         _ _\n" +
		"   ___| |__   __ _ _ __  ___  ___ _ __(_) |__   ___\n" +
		"  / __| '_ \\ / _` | '_ \\/ __|/ __| '__| | '_ \\ / _ \\\n" +
		" | (__| | | | (_| | | | \\__ \\ (__| |  | | |_) |  __/\n" +
		"  \\___|_| |_|\\__,_|_| |_|___/\\___|_|  |_|_.__/ \\___|\n"
)

var rootCmd = &cobra.Command{
	Use:   "chanscribe",
	Short: "chanscribe - channel mirroring and activity stats",
	Long:  color.CyanString(logo) + "\nMirrors chat channel message logs into SQLite and answers activity queries over them.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(backfillCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(excludeCmd)
}
