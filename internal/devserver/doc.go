// Package devserver is an in-memory implementation of the backend contract
// for tests and local development.
//
// Routes:
//
//	GET  /health
//	GET  /session/state   404 {"code":"no_session"} until a session exists
//	POST /session/init    starts a session and issues a QR payload
//	POST /session/logout
//	GET  /events          text/event-stream of session:update and jobprogress frames
//
// Everything but /health requires the bearer token when one is configured.
// Tests drive the session with IssueQR, Pair and SetState, inject failures
// with FailNext and emit job events with PublishJob.
package devserver
