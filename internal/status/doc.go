// Package status reconciles the two backend channels into one Status that
// decides whether the caller may act right now.
//
// # Modes
//
// The mode is fixed by the caller's role when the Reconciler is built:
//
//   - ModePush (owners): the event stream is trusted. Every session:update is
//     merged into the session machine as it arrives and no poll timer runs.
//     If the stream cannot be opened or drops, one fallback fetch keeps the
//     status current and the stream is retried after the backoff delay.
//   - ModePoll (members and the system path): GET /session/state on a timer.
//
// # Backoff
//
// A successful fetch resets RetryCount to 0 and RetryDelay to the baseline
// (default 30s). Failures are classified by backend.Classify:
//
//	Transient        delay = min(delay*2, 32s)
//	RateLimited      delay = min(120s*attempt, 300s)
//	ExpectedAbsence  success with state none, counters reset
//
// Transient and rate limited failures both count toward MaxRetries. Reaching
// it pauses polling with ReasonMaxRetries until Refresh or RefreshStatus.
//
// # Gating
//
// CanActNow requires a ready session, the business-hours window when the
// backend enables it, and remaining daily quota. BlockReason names the first
// check that failed.
//
// # Concurrency
//
// Run owns the single poll timer; every re-arm stops and drains it first.
// Status and Subscribe are safe from any goroutine. The session snapshot is
// only written through session.Machine.MergeUpdate.
package status
