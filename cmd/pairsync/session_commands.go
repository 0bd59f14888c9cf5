package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/five82/pairsync/internal/app"
)

const commandTimeout = 20 * time.Second

var watchTick time.Duration

// watch
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the live session monitor",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(e *app.Engine) error {
			return e.Watch(cmd.Context(), watchTick)
		})
	},
}

// status
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Fetch the session status once and print it as JSON",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(e *app.Engine) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
			defer cancel()
			return e.StatusJSON(ctx, cmd.OutOrStdout())
		})
	},
}

// reconnect
var reconnectCmd = &cobra.Command{
	Use:     "reconnect",
	Short:   "Start or resume the session",
	Aliases: []string{"init"},
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(e *app.Engine) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
			defer cancel()
			return e.Reconnect(ctx, cmd.OutOrStdout())
		})
	},
}

// logout
var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "End the session and clear the local snapshot",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(e *app.Engine) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
			defer cancel()
			return e.Logout(ctx, cmd.OutOrStdout())
		})
	},
}

func init() {
	watchCmd.Flags().DurationVar(&watchTick, "tick", time.Second, "monitor refresh interval")
	rootCmd.AddCommand(watchCmd, statusCmd, reconnectCmd, logoutCmd)
}

func withEngine(fn func(*app.Engine) error) error {
	e, err := openEngine()
	if err != nil {
		return err
	}
	runErr := fn(e)
	if err := e.Close(); err != nil && runErr == nil {
		return err
	}
	return runErr
}
