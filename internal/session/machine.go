package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/five82/pairsync/internal/backend"
	"github.com/five82/pairsync/internal/latest"
)

// Persister stores the snapshot between runs. Implementations swallow their
// own failures; persistence is an optimization.
type Persister interface {
	Load() (Snapshot, bool)
	Save(Snapshot)
	Clear()
}

// Initializer is the subset of the backend used by Reconnect and Logout.
type Initializer interface {
	InitSession(ctx context.Context) (*backend.StateResponse, error)
	Logout(ctx context.Context) error
}

// Options configure a Machine.
type Options struct {
	Store   Persister
	API     Initializer
	Logger  *slog.Logger
	OnReady func(Snapshot)
	Now     func() time.Time
}

// Machine owns the canonical session snapshot. MergeUpdate is the only writer.
type Machine struct {
	mu            sync.Mutex
	snap          Snapshot
	notifiedReady bool
	hub           latest.Hub[Snapshot]

	store   Persister
	api     Initializer
	logger  *slog.Logger
	onReady func(Snapshot)
	now     func() time.Time
}

// New builds a Machine, hydrating from the store when it holds a fresh
// snapshot. A hydrated ready session does not re-fire OnReady.
func New(opts Options) *Machine {
	m := &Machine{
		snap:    Snapshot{State: StateNone},
		store:   opts.Store,
		api:     opts.API,
		logger:  opts.Logger,
		onReady: opts.OnReady,
		now:     opts.Now,
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.store != nil {
		if snap, ok := m.store.Load(); ok {
			if snap.State == "" {
				snap.State = StateNone
			}
			m.snap = snap
			m.notifiedReady = snap.Ready()
			m.logger.Debug("session hydrated", "state", snap.State, "has_qr", snap.HasQR())
		}
	}
	return m
}

// Snapshot returns the current canonical snapshot.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

// MergeUpdate folds a partial update into the snapshot and returns the new
// canonical value. Updates that change nothing are no-ops: no write, no
// notification.
func (m *Machine) MergeUpdate(u Update) Snapshot {
	m.mu.Lock()
	prev := m.snap
	next := merge(prev, u)

	if !significant(prev, next) {
		if next.Regenerations != prev.Regenerations {
			m.snap = next
			m.hub.Publish(next)
		}
		m.mu.Unlock()
		return next
	}

	next.UpdatedAt = m.now()
	m.snap = next
	if m.store != nil {
		m.store.Save(next)
	}
	fireReady := next.Ready() && !prev.Ready() && !m.notifiedReady
	if fireReady {
		m.notifiedReady = true
	}
	m.hub.Publish(next)
	m.mu.Unlock()

	m.logger.Debug("session merged",
		"from", prev.State,
		"to", next.State,
		"has_qr", next.HasQR(),
		"regenerations", next.Regenerations,
	)
	if fireReady && m.onReady != nil {
		m.onReady(next)
	}
	return next
}

// Reconnect asks the backend to start or resume the session and merges the
// answer. A missing session maps to StateNone and rate limiting is a silent
// no-op; both return nil. Other failures are logged and returned so callers
// can try again later.
func (m *Machine) Reconnect(ctx context.Context) error {
	if m.api == nil {
		return errors.New("reconnect: no backend configured")
	}
	resp, err := m.api.InitSession(ctx)
	if err != nil {
		switch backend.Classify(err) {
		case backend.ExpectedAbsence:
			m.MergeUpdate(Update{State: StateNone})
			return nil
		case backend.RateLimited:
			m.logger.Debug("session reconnect rate limited", "error", err)
			return nil
		}
		m.logger.Warn("session reconnect failed", "error", err)
		return fmt.Errorf("reconnect: %w", err)
	}
	m.MergeUpdate(UpdateFromStatus(*resp))
	return nil
}

// Logout tears the session down on the backend and always resets local
// state, including persisted storage. The backend error, if any, is returned.
func (m *Machine) Logout(ctx context.Context) error {
	m.MergeUpdate(Update{State: StateClosing})
	var err error
	if m.api != nil {
		if err = m.api.Logout(ctx); err != nil {
			m.logger.Warn("session logout failed", "error", err)
			err = fmt.Errorf("logout: %w", err)
		}
	}
	m.Reset()
	return err
}

// Reset returns the machine to an empty session, clears persisted storage and
// re-arms the ready notification.
func (m *Machine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap = Snapshot{State: StateNone, UpdatedAt: m.now()}
	m.notifiedReady = false
	if m.store != nil {
		m.store.Clear()
	}
	m.hub.Publish(m.snap)
}

// Subscribe returns a channel that always holds the latest snapshot. Slow
// readers miss intermediate values, never the newest one. The cancel function
// closes the channel.
func (m *Machine) Subscribe() (<-chan Snapshot, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hub.Subscribe(m.snap)
}

// Close ends every subscription.
func (m *Machine) Close() {
	m.hub.Close()
}
