// Package backend provides the client for the messaging backend that owns the
// paired chat session.
//
// # Overview
//
// The backend exposes two channels with overlapping information:
//
//   - a request/response API for the session (state, init, logout)
//   - an authenticated server-sent-event stream carrying session updates and
//     background job progress
//
// Neither channel is authoritative on its own. The reconcilers in
// internal/session, internal/status and internal/progress merge them; this
// package only moves bytes and classifies failures.
//
// # Endpoints
//
//	GET  /session/state   → StateResponse (polled)
//	POST /session/init    → StateResponse (Reconnect)
//	POST /session/logout  → empty
//	GET  /events          → text/event-stream
//
// Stream events are named session:update, jobprogress:<category>,
// jobprogress:<category>:completed and jobprogress:<category>:error.
//
// # Error Taxonomy
//
// Every non-2xx response becomes an *APIError. Classify sorts errors into:
//
//   - ExpectedAbsence: 404 or code "no_session". The caller has no session
//     yet; this is a normal first-run condition.
//   - RateLimited: 429 or code "rate_limited". The caller must back off hard.
//   - Transient: everything else, including timeouts and network errors.
//
// APIError unwraps to ErrNoSession or ErrRateLimited so errors.Is works
// through any amount of fmt.Errorf wrapping.
//
// # Timeouts
//
// Request/response calls use an http.Client with a fixed timeout (WithTimeout,
// default 10s). A call that exceeds it is Transient. The event stream uses a
// separate client without a timeout, bounded only by its context.
package backend
