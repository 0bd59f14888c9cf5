// Package main implements the pairsync CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/five82/pairsync/internal/app"
)

var (
	configPath string
	prefsPath  string
	pollEvery  time.Duration
	tabID      string
)

var rootCmd = &cobra.Command{
	Use:           "pairsync",
	Short:         "Track a paired messaging session and its status",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "config file (default ~/.config/pairsync/config.toml)")
	flags.StringVar(&prefsPath, "prefs", "", "preferences file (default ~/.config/pairsync/prefs.toml)")
	flags.DurationVar(&pollEvery, "poll", 0, "override the status poll interval")
	flags.StringVar(&tabID, "tab", "", "snapshot scope; defaults to the id stored in prefs")
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "pairsync: %v\n", err)
		os.Exit(1)
	}
}

// openEngine builds the engine from the persistent flags.
func openEngine() (*app.Engine, error) {
	return app.Open(app.Options{
		ConfigPath: configPath,
		PrefsPath:  prefsPath,
		PollEvery:  pollEvery,
		TabID:      tabID,
	})
}
