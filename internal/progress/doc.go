// Package progress tracks background job progress reported on the push
// channel as jobprogress:<category> ticks and the terminal
// jobprogress:<category>:completed and :error events.
//
// Each (category, owner) pair keeps only its latest State. A completed event
// freezes progress at 100% using the event's own totals, since the last tick
// may lag. An error event stops updates and keeps the message verbatim; the
// tracker never retries a job. Reset clears the state for the next job.
package progress
