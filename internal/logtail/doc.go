// Package logtail reads the tail of the engine's log file for display.
//
// Read returns the last N non-empty lines. Files larger than the tail window
// are read from a seek near the end, dropping the partial first line. A
// missing file is not an error; it returns nil, nil.
//
// The engine logs with log/slog's JSON handler. Parse turns one such line
// into an Entry (time, level, msg and the remaining attributes); lines that
// are not JSON, such as a panic trace, are kept verbatim in Msg.
package logtail
