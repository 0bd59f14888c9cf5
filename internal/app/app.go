package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/five82/pairsync/internal/backend"
	"github.com/five82/pairsync/internal/config"
	"github.com/five82/pairsync/internal/prefs"
	"github.com/five82/pairsync/internal/progress"
	"github.com/five82/pairsync/internal/session"
	"github.com/five82/pairsync/internal/snapshot"
	"github.com/five82/pairsync/internal/status"
)

// Options configure the engine.
type Options struct {
	ConfigPath string
	PrefsPath  string        // empty uses default ~/.config/pairsync/prefs.toml
	PollEvery  time.Duration // zero uses the configured poll_interval
	TabID      string        // empty uses the id stored in prefs

	// LogWriter receives the JSON log. Nil opens the configured log file.
	LogWriter io.Writer
}

// Engine is the composition root: one backend client, one session machine,
// one status reconciler and one progress tracker sharing a snapshot store.
type Engine struct {
	Config   config.Config
	Prefs    prefs.Prefs
	Logger   *slog.Logger
	Client   *backend.Client
	Session  *session.Machine
	Status   *status.Reconciler
	Progress *progress.Tracker

	prefsPath string
	closers   []func() error
}

// Open loads configuration and wires every component. The caller must Close
// the engine.
func Open(opts Options) (*Engine, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if opts.PollEvery > 0 {
		cfg.PollInterval = opts.PollEvery
	}
	role := status.Role(cfg.Role)
	if status.ModeFor(role) == status.ModePush && cfg.APIToken == "" {
		return nil, errors.New("role owner requires api_token for the push channel")
	}

	e := &Engine{Config: cfg, prefsPath: opts.PrefsPath}
	ok := false
	defer func() {
		if !ok {
			_ = e.Close()
		}
	}()

	if e.Logger, err = e.openLogger(opts.LogWriter); err != nil {
		return nil, err
	}

	e.Prefs, err = prefs.EnsureTabID(opts.PrefsPath)
	if err != nil {
		e.Logger.Warn("save prefs failed", "error", err)
	}
	if tab := strings.TrimSpace(opts.TabID); tab != "" {
		e.Prefs.TabID = tab
	}

	e.Client, err = backend.NewClient(cfg.APIBase,
		backend.WithToken(cfg.APIToken),
		backend.WithTimeout(cfg.RequestTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("init backend client: %w", err)
	}

	logger := e.Logger.With("tab", e.Prefs.TabID)
	e.Session = session.New(session.Options{
		Store:  e.openStore(logger),
		API:    e.Client,
		Logger: logger.With("component", "session"),
		OnReady: func(snap session.Snapshot) {
			logger.Info("session ready", "regenerations", snap.Regenerations)
		},
	})
	e.closers = append(e.closers, func() error { e.Session.Close(); return nil })

	e.Status = status.New(status.Options{
		Role:           role,
		API:            e.Client,
		Events:         e.Client,
		Session:        e.Session,
		PollInterval:   cfg.PollInterval,
		RequestTimeout: cfg.RequestTimeout,
		MaxRetries:     cfg.MaxRetries,
		Logger:         logger.With("component", "status"),
	})
	e.Progress = progress.New(progress.Options{Logger: logger.With("component", "progress")})
	e.closers = append(e.closers, func() error { e.Progress.Close(); return nil })

	ok = true
	return e, nil
}

func (e *Engine) openLogger(w io.Writer) (*slog.Logger, error) {
	if w == nil {
		path := e.Config.LogPath()
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log: %w", err)
		}
		e.closers = append(e.closers, file.Close)
		w = file
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: e.Config.LogLevel})), nil
}

// openStore returns the bbolt store for this tab, or an in-memory store when
// persistence is off or the database is unavailable (another process may
// hold the lock).
func (e *Engine) openStore(logger *slog.Logger) session.Persister {
	opts := snapshot.Options{Scope: e.Prefs.TabID, Logger: logger.With("component", "snapshot")}
	if !e.Config.Persist {
		return snapshot.NewMemory(opts)
	}
	store, err := snapshot.Open(e.Config.SnapshotPath(), opts)
	if err != nil {
		logger.Warn("snapshot store unavailable, not persisting", "error", err)
		return snapshot.NewMemory(opts)
	}
	e.closers = append(e.closers, store.Close)
	return store
}

// Start runs the reconciler and, when a token is configured, the progress
// stream in the background. The returned function blocks until both have
// stopped after ctx is cancelled.
func (e *Engine) Start(ctx context.Context) (wait func()) {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := e.Status.Run(ctx); err != nil {
			e.Logger.Error("status reconciler stopped", "error", err)
		}
	}()
	if e.Config.APIToken != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.Progress.Run(ctx, e.Client)
		}()
	} else {
		e.Logger.Debug("no api_token, job progress disabled")
	}
	return wg.Wait
}

// Close releases resources in reverse order of acquisition.
func (e *Engine) Close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	e.closers = nil
	return errors.Join(errs...)
}
