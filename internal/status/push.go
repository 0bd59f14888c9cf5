package status

import (
	"context"
	"time"

	"github.com/five82/pairsync/internal/backend"
	"github.com/five82/pairsync/internal/session"
)

// runPush keeps the push stream open. While it is healthy no timer runs and
// every session:update goes straight to the session machine. When the stream
// cannot be opened or drops, one fallback fetch keeps the status current and
// the stream is retried after a backoff delay.
func (r *Reconciler) runPush(ctx context.Context) {
	_ = r.fetch(ctx)

	attempt := 0
	delay := r.baseline
	for ctx.Err() == nil {
		events, stop, err := r.events.Events(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			attempt++
			class := backend.Classify(err)
			delay = nextDelay(class, delay, attempt)
			r.streamDown(err, class, attempt, delay)
			_ = r.fetch(ctx)
			if !r.wait(ctx, delay) {
				return
			}
			continue
		}

		attempt = 0
		delay = r.baseline
		r.streamUp()
		r.consume(ctx, events)
		stop()
		if ctx.Err() != nil {
			return
		}
		attempt++
		delay = nextDelay(backend.Transient, delay, attempt)
		r.streamDown(nil, backend.Transient, attempt, delay)
		_ = r.fetch(ctx)
		if !r.wait(ctx, delay) {
			return
		}
	}
}

func (r *Reconciler) consume(ctx context.Context, events <-chan backend.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			r.handleEvent(ev)
		}
	}
}

func (r *Reconciler) handleEvent(ev backend.Event) {
	if ev.Name != backend.EventSessionUpdate {
		return
	}
	var payload backend.SessionUpdate
	if err := ev.Decode(&payload); err != nil {
		r.logger.Warn("push event dropped", "event", ev.Name, "error", err)
		return
	}
	update, ok := session.UpdateFromEvent(payload)
	if !ok {
		r.logger.Warn("push event has unknown state", "state", payload.State)
	}

	var snap session.Snapshot
	if r.session != nil {
		snap = r.session.MergeUpdate(update)
	} else {
		snap = session.Snapshot{State: update.State, QR: update.QR}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.status.Connected = true
	r.status.Ready = snap.Ready()
	r.status.Authenticated = snap.State.Authenticated()
	r.status.QR = snap.QR
	r.status.CanActNow, r.status.BlockReason = Gate(r.status.Ready, r.status.Usage)
	r.status.LastUpdated = time.Now()
	r.publishLocked()
}

// wait sleeps for d on a timer local to this call. Refresh cuts it short.
func (r *Reconciler) wait(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-r.kick:
		return true
	case <-timer.C:
		return true
	}
}

// streamUp marks the channel healthy and re-derives the verdict from the
// session snapshot, since no fetch or event may follow while it is stable.
func (r *Reconciler) streamUp() {
	var snap *session.Snapshot
	if r.session != nil {
		s := r.session.Snapshot()
		snap = &s
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.status.Connected = true
	r.status.RetryCount = 0
	r.status.RetryDelay = r.baseline
	r.status.LastError = ""
	if snap != nil {
		r.status.Ready = snap.Ready()
		r.status.Authenticated = snap.State.Authenticated()
		r.status.QR = snap.QR
	}
	r.status.CanActNow, r.status.BlockReason = Gate(r.status.Ready, r.status.Usage)
	r.status.LastUpdated = time.Now()
	r.logger.Info("push stream open")
	r.publishLocked()
}

func (r *Reconciler) streamDown(err error, class backend.Class, attempt int, delay time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status.Connected = false
	r.status.RetryCount = attempt
	r.status.RetryDelay = delay
	if err != nil {
		r.status.LastError = err.Error()
	}
	r.status.CanActNow = false
	r.status.BlockReason = outageReason(class, attempt)
	r.logger.Warn("push stream down",
		"class", class.String(),
		"retry", attempt,
		"next_delay", delay,
		"error", err,
	)
	r.publishLocked()
}
