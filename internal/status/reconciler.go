package status

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/five82/pairsync/internal/backend"
	"github.com/five82/pairsync/internal/latest"
	"github.com/five82/pairsync/internal/session"
)

const defaultRequestTimeout = 10 * time.Second

// StateFetcher is the polled channel.
type StateFetcher interface {
	FetchState(ctx context.Context) (*backend.StateResponse, error)
}

// Merger is the single writer of the canonical session snapshot.
type Merger interface {
	MergeUpdate(u session.Update) session.Snapshot
	Snapshot() session.Snapshot
}

// Options configure a Reconciler.
type Options struct {
	Role           Role
	API            StateFetcher
	Events         backend.EventSource
	Session        Merger
	PollInterval   time.Duration
	RequestTimeout time.Duration
	MaxRetries     int
	Logger         *slog.Logger
}

// Reconciler merges the push and poll channels into a Status and writes the
// derived session state through to the session machine.
type Reconciler struct {
	mode           Mode
	api            StateFetcher
	events         backend.EventSource
	session        Merger
	baseline       time.Duration
	requestTimeout time.Duration
	maxRetries     int
	logger         *slog.Logger

	mu     sync.Mutex
	status Status
	hub    latest.Hub[Status]

	kick  chan struct{}
	rearm chan struct{}
}

// New builds a Reconciler. The mode is fixed by opts.Role.
func New(opts Options) *Reconciler {
	r := &Reconciler{
		mode:           ModeFor(opts.Role),
		api:            opts.API,
		events:         opts.Events,
		session:        opts.Session,
		baseline:       opts.PollInterval,
		requestTimeout: opts.RequestTimeout,
		maxRetries:     opts.MaxRetries,
		logger:         opts.Logger,
		kick:           make(chan struct{}, 1),
		rearm:          make(chan struct{}, 1),
	}
	if r.baseline <= 0 {
		r.baseline = DefaultPollInterval
	}
	if r.requestTimeout <= 0 {
		r.requestTimeout = defaultRequestTimeout
	}
	if r.maxRetries <= 0 {
		r.maxRetries = DefaultMaxRetries
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	r.logger = r.logger.With("mode", string(r.mode))
	r.status = Status{
		Mode:        r.mode,
		RetryDelay:  r.baseline,
		BlockReason: ReasonNotReady,
	}
	return r
}

// Mode returns the operating mode.
func (r *Reconciler) Mode() Mode {
	return r.mode
}

// Status returns the current reconciled status.
func (r *Reconciler) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.copyLocked()
}

// Subscribe returns a latest-value channel of Status.
func (r *Reconciler) Subscribe() (<-chan Status, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hub.Subscribe(r.copyLocked())
}

// Refresh requests an immediate fetch from the running loop without waiting
// for it. It also resumes a loop paused after too many failures.
func (r *Reconciler) Refresh() {
	select {
	case r.kick <- struct{}{}:
	default:
	}
}

// RefreshStatus fetches now and applies the result, resuming a paused loop.
// Failures other than an absent session are returned so callers can treat
// them as "try again later"; the status already reflects them.
func (r *Reconciler) RefreshStatus(ctx context.Context) error {
	r.resume()
	err := r.fetch(ctx)
	select {
	case r.rearm <- struct{}{}:
	default:
	}
	if err != nil && backend.Classify(err) != backend.ExpectedAbsence {
		return err
	}
	return nil
}

// Run drives the reconciler until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) error {
	if r.api == nil {
		return errors.New("status: no state fetcher configured")
	}
	defer r.hub.Close()
	if r.mode == ModePush {
		if r.events == nil {
			return errors.New("status: push mode requires an event source")
		}
		r.runPush(ctx)
		return nil
	}
	r.runPoll(ctx)
	return nil
}

// runPoll owns the only poll timer. Every re-arm goes through resetTimer,
// which stops and drains before resetting.
func (r *Reconciler) runPoll(ctx context.Context) {
	_ = r.fetch(ctx)

	timer := time.NewTimer(r.delay())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			_ = r.fetch(ctx)
		case <-r.kick:
			r.resume()
			_ = r.fetch(ctx)
		case <-r.rearm:
		}

		if r.paused() {
			stopTimer(timer)
			continue
		}
		resetTimer(timer, r.delay())
	}
}

func (r *Reconciler) fetch(ctx context.Context) error {
	fetchCtx, cancel := context.WithTimeout(ctx, r.requestTimeout)
	defer cancel()
	resp, err := r.api.FetchState(fetchCtx)
	if err != nil && ctx.Err() != nil {
		return err
	}
	r.apply(resp, err)
	return err
}

// apply folds one fetch outcome into the status and, when the backend answered,
// into the session snapshot. The session merge happens first so Status.QR
// follows the retention rule.
func (r *Reconciler) apply(resp *backend.StateResponse, err error) {
	if err == nil {
		snap, merged := r.mergeSession(session.UpdateFromStatus(*resp))
		r.mu.Lock()
		r.status.Ready = resp.Ready
		r.status.Authenticated = resp.Authenticated || resp.Ready
		r.status.Connected = true
		if resp.Connected != nil {
			r.status.Connected = *resp.Connected
		}
		r.status.Phone = resp.Phone
		r.status.QR = resp.QR
		if merged {
			r.status.QR = snap.QR
		}
		r.status.Usage = cloneUsage(resp.Stats)
		r.status.CanActNow, r.status.BlockReason = Gate(r.status.Ready, r.status.Usage)
		r.succeededLocked()
		r.publishLocked()
		r.mu.Unlock()
		return
	}

	class := backend.Classify(err)
	if class == backend.ExpectedAbsence {
		r.mergeSession(session.Update{State: session.StateNone})
		r.mu.Lock()
		r.status.Connected = true
		r.status.Ready = false
		r.status.Authenticated = false
		r.status.Phone = ""
		r.status.QR = ""
		r.status.Usage = nil
		r.status.CanActNow = false
		r.status.BlockReason = ReasonNoSession
		r.succeededLocked()
		r.publishLocked()
		r.mu.Unlock()
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.status.Connected = false
	r.status.CanActNow = false
	r.status.LastError = err.Error()
	r.status.LastUpdated = time.Now()
	if r.mode == ModePush {
		// Stream health owns the retry bookkeeping in push mode. A rate-limited
		// stream keeps its reason through a plain fetch failure.
		if class == backend.RateLimited || r.status.BlockReason != ReasonRateLimited {
			r.status.BlockReason = outageReason(class, r.status.RetryCount)
		}
		r.publishLocked()
		return
	}
	r.status.RetryCount++
	r.status.RetryDelay = nextDelay(class, r.status.RetryDelay, r.status.RetryCount)
	if r.status.RetryCount >= r.maxRetries {
		r.status.Paused = true
		r.status.BlockReason = ReasonMaxRetries
	} else {
		r.status.BlockReason = outageReason(class, r.status.RetryCount)
	}
	r.logger.Warn("status poll failed",
		"class", class.String(),
		"retry", r.status.RetryCount,
		"next_delay", r.status.RetryDelay,
		"paused", r.status.Paused,
		"error", err,
	)
	r.publishLocked()
}

func (r *Reconciler) mergeSession(u session.Update) (session.Snapshot, bool) {
	if r.session == nil {
		return session.Snapshot{}, false
	}
	return r.session.MergeUpdate(u), true
}

// outageReason is the block reason after attempt consecutive failures of
// the given class.
func outageReason(class backend.Class, attempt int) string {
	switch {
	case class == backend.RateLimited:
		return ReasonRateLimited
	case attempt >= offlineAfter:
		return ReasonReconnecting
	default:
		return ReasonUnavailable
	}
}

func (r *Reconciler) succeededLocked() {
	r.status.LastError = ""
	r.status.LastUpdated = time.Now()
	if r.mode == ModePush {
		return
	}
	r.status.RetryCount = 0
	r.status.RetryDelay = r.baseline
	r.status.Paused = false
}

func (r *Reconciler) resume() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mode == ModePush {
		return
	}
	r.status.RetryCount = 0
	r.status.RetryDelay = r.baseline
	r.status.Paused = false
}

func (r *Reconciler) delay() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status.RetryDelay
}

func (r *Reconciler) paused() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status.Paused
}

func (r *Reconciler) copyLocked() Status {
	s := r.status
	s.Usage = cloneUsage(r.status.Usage)
	return s
}

func (r *Reconciler) publishLocked() {
	r.hub.Publish(r.copyLocked())
}

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	stopTimer(t)
	t.Reset(d)
}
