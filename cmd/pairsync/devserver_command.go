package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/five82/pairsync/internal/devserver"
)

var (
	devAddr      string
	devToken     string
	devPairAfter time.Duration
	devDailyCap  int
)

var devserverCmd = &cobra.Command{
	Use:   "devserver",
	Short: "Serve an in-memory backend for local development",
	Args:  cobra.NoArgs,
	RunE:  runDevserver,
}

func init() {
	flags := devserverCmd.Flags()
	flags.StringVar(&devAddr, "addr", "127.0.0.1:7390", "listen address")
	flags.StringVar(&devToken, "token", "", "bearer token required by every route except /health")
	flags.DurationVar(&devPairAfter, "pair-after", 0, "pair automatically this long after a QR is issued")
	flags.IntVar(&devDailyCap, "daily-cap", 0, "report usage stats with this daily cap")
	rootCmd.AddCommand(devserverCmd)
}

func runDevserver(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	srv := &http.Server{
		Addr: devAddr,
		Handler: devserver.New(devserver.Options{
			Token:     devToken,
			PairAfter: devPairAfter,
			DailyCap:  devDailyCap,
			Logger:    logger,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("devserver listening", "addr", devAddr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("devserver: %w", err)
	case <-cmd.Context().Done():
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	logger.Info("devserver shutting down")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("devserver shutdown: %w", err)
	}
	return nil
}
