// Package config loads the pairsync TOML configuration.
//
// # Resolution
//
//  1. If a path is explicitly provided, use it
//  2. Otherwise, use ~/.config/pairsync/config.toml
//  3. If the file doesn't exist, use defaults
//  4. Blank fields fall back to their defaults
//
// # Fields
//
//	api_base        = "127.0.0.1:7390"   backend address or URL
//	api_token       = ""                 bearer token; required for the push stream
//	role            = "member"           owner (push), member or system (poll)
//	poll_interval   = "30s"              baseline poll delay
//	request_timeout = "10s"              per-request timeout
//	max_retries     = 5                  consecutive failures before polling pauses
//	state_dir       = "~/.local/state/pairsync"
//	persist         = true               keep session snapshots in state_dir
//	log_level       = "info"             debug, info, warn or error
//	progress_owner  = ""                 owner id whose job progress is shown
//	progress_category = "document"       classification or document
//
// Tilde expansion is applied to state_dir. Unknown roles or job categories, malformed durations
// and unknown log levels are parse errors; a missing file is not.
package config
