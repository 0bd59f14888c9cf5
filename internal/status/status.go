package status

import (
	"time"

	"github.com/five82/pairsync/internal/backend"
)

// Role identifies the caller. It decides the operating mode once.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleMember Role = "member"
	RoleSystem Role = "system"
)

// Mode is the channel the reconciler trusts.
type Mode string

const (
	ModePush Mode = "push"
	ModePoll Mode = "poll"
)

// ModeFor returns the operating mode for a role. Only owners hold an
// authenticated push channel; everyone else, including the shared system
// path, polls.
func ModeFor(role Role) Mode {
	if role == RoleOwner {
		return ModePush
	}
	return ModePoll
}

// Block reasons reported when CanActNow is false.
const (
	ReasonNotReady     = "session not ready"
	ReasonNoSession    = "no session"
	ReasonOutsideHours = "outside business hours"
	ReasonDailyLimit   = "daily limit reached"
	ReasonRateLimited  = "rate limited, please wait"
	ReasonUnavailable  = "status unavailable"
	ReasonReconnecting = "reconnecting"
	ReasonMaxRetries   = "max retries reached"
)

// offlineAfter is the number of consecutive transient failures before the
// status reports ReasonReconnecting instead of ReasonUnavailable.
const offlineAfter = 2

// Status is the reconciled view of the session used to gate actions. It is
// recomputed on every fetch or push tick and never persisted.
type Status struct {
	Mode          Mode
	Connected     bool
	Ready         bool
	Authenticated bool
	Phone         string
	QR            string
	Usage         *backend.UsageStats

	CanActNow   bool
	BlockReason string

	RetryCount int
	RetryDelay time.Duration
	Paused     bool

	LastError   string
	LastUpdated time.Time
}

// RetryDelayMs returns RetryDelay in milliseconds.
func (s Status) RetryDelayMs() int64 {
	return s.RetryDelay.Milliseconds()
}

// Gate combines readiness, the business-hours window and the daily quota.
// The window is only enforced when the backend flags it enabled.
func Gate(ready bool, usage *backend.UsageStats) (bool, string) {
	if !ready {
		return false, ReasonNotReady
	}
	if usage != nil {
		if usage.BusinessHoursEnabled && !usage.WithinAllowedWindow {
			return false, ReasonOutsideHours
		}
		if usage.Remaining() <= 0 {
			return false, ReasonDailyLimit
		}
	}
	return true, ""
}

func cloneUsage(u *backend.UsageStats) *backend.UsageStats {
	if u == nil {
		return nil
	}
	dup := *u
	return &dup
}
