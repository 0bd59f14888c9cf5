// Package app is the composition root for pairsync.
//
// # Overview
//
// Open loads configuration, resolves the tab id from preferences and wires a
// single backend client into every component:
//
//	┌──────────────┐
//	│   Open()     │
//	└──────┬───────┘
//	       ├─────> config.Load()          Read config.toml
//	       ├─────> prefs.EnsureTabID()    Stable snapshot scope
//	       ├─────> slog JSON handler      state_dir/pairsync.log
//	       ├─────> backend.NewClient()    HTTP + SSE client
//	       ├─────> snapshot.Open()        bbolt, falls back to memory
//	       ├─────> session.New()          Hydrates from the store
//	       ├─────> status.New()           Push or poll, fixed by role
//	       └─────> progress.New()         Job progress per owner
//
// Start launches the reconciler and the progress stream; Watch additionally
// runs the terminal monitor. StatusJSON, Reconnect and Logout are one-shot
// commands used by cmd/pairsync.
//
// # Error Handling
//
// Open fails on invalid configuration, an owner role without api_token, or an
// unwritable log file. An unavailable snapshot database is logged and the
// engine continues without persistence. Failed fetches never abort a command;
// they surface in the status report.
package app
