package backend

import (
	"encoding/json"
	"fmt"
	"strings"
)

// StateResponse mirrors the payload returned by /session/state and
// /session/init.
type StateResponse struct {
	Ready         bool        `json:"ready"`
	Authenticated bool        `json:"authenticated"`
	Connected     *bool       `json:"connected,omitempty"`
	Phone         string      `json:"phone,omitempty"`
	QR            string      `json:"qr,omitempty"`
	Stats         *UsageStats `json:"stats,omitempty"`
}

// UsageStats reports the daily send quota and the business-hours policy.
type UsageStats struct {
	SentToday            int     `json:"sentToday"`
	DailyCap             int     `json:"dailyCap"`
	WithinAllowedWindow  bool    `json:"withinAllowedWindow"`
	BusinessHoursEnabled bool    `json:"businessHoursEnabled"`
	PercentUsed          float64 `json:"percentUsed"`
}

// Remaining returns how many sends are left today. It can be negative when
// the backend lets the counter overshoot the cap.
func (s UsageStats) Remaining() int {
	return s.DailyCap - s.SentToday
}

// Percent returns PercentUsed, deriving it from the counters when the backend
// left it out.
func (s UsageStats) Percent() float64 {
	if s.PercentUsed > 0 || s.DailyCap <= 0 {
		return s.PercentUsed
	}
	return float64(s.SentToday) / float64(s.DailyCap) * 100
}

// SessionUpdate is the payload of a session:update push event.
type SessionUpdate struct {
	State         string `json:"state"`
	QR            string `json:"qr,omitempty"`
	Regenerations *int   `json:"regenerations,omitempty"`
}

// JobProgress is the payload of an incremental jobprogress:<category> event.
type JobProgress struct {
	OwnerID    string  `json:"ownerId"`
	Processed  int     `json:"processed"`
	Total      int     `json:"total"`
	Percentage float64 `json:"percentage"`
	Succeeded  *int    `json:"succeeded,omitempty"`
	Failed     *int    `json:"failed,omitempty"`
}

// JobCompleted is the payload of jobprogress:<category>:completed.
type JobCompleted struct {
	OwnerID        string `json:"ownerId"`
	TotalProcessed int    `json:"totalProcessed"`
	Succeeded      int    `json:"succeeded"`
	Failed         int    `json:"failed"`
}

// JobFailed is the payload of jobprogress:<category>:error.
type JobFailed struct {
	OwnerID string `json:"ownerId"`
	Error   string `json:"error"`
}

// Push channel event names.
const (
	EventSessionUpdate = "session:update"

	jobProgressPrefix = "jobprogress:"
	TerminalCompleted = "completed"
	TerminalError     = "error"
)

// Event is a single frame received from the push channel.
type Event struct {
	Name string
	Data json.RawMessage
}

// JobEvent splits a jobprogress event name into its category and terminal
// suffix. terminal is empty for incremental ticks.
func (e Event) JobEvent() (category, terminal string, ok bool) {
	rest, found := strings.CutPrefix(e.Name, jobProgressPrefix)
	if !found || rest == "" {
		return "", "", false
	}
	category, terminal, _ = strings.Cut(rest, ":")
	if category == "" {
		return "", "", false
	}
	switch terminal {
	case "", TerminalCompleted, TerminalError:
		return category, terminal, true
	default:
		return "", "", false
	}
}

// Decode unmarshals the event payload into dest.
func (e Event) Decode(dest any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("event %s has no data", e.Name)
	}
	if err := json.Unmarshal(e.Data, dest); err != nil {
		return fmt.Errorf("decode %s: %w", e.Name, err)
	}
	return nil
}

// JobEventName builds the push event name for a job category and terminal
// suffix.
func JobEventName(category, terminal string) string {
	if terminal == "" {
		return jobProgressPrefix + category
	}
	return jobProgressPrefix + category + ":" + terminal
}

type errorPayload struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
