package session

import (
	"strings"
	"time"

	"github.com/five82/pairsync/internal/backend"
)

// State is the lifecycle position of the paired session.
type State string

const (
	StateNone      State = "none"
	StateLaunching State = "launching"
	StateWaitingQR State = "waiting_qr"
	StateSyncing   State = "syncing"
	StateReady     State = "ready"
	StateClosing   State = "closing"
)

// ParseState maps a wire value onto a known State.
func ParseState(value string) (State, bool) {
	switch s := State(strings.ToLower(strings.TrimSpace(value))); s {
	case StateNone, StateLaunching, StateWaitingQR, StateSyncing, StateReady, StateClosing:
		return s, true
	default:
		return "", false
	}
}

// Authenticated reports whether the state supersedes pairing, in which case
// no handshake payload may be shown.
func (s State) Authenticated() bool {
	return s == StateReady || s == StateSyncing
}

// Snapshot is the canonical view of the session. An empty QR means no
// handshake payload is pending.
type Snapshot struct {
	State         State
	QR            string
	Regenerations int
	UpdatedAt     time.Time
}

// Ready reports whether the session can carry traffic.
func (s Snapshot) Ready() bool {
	return s.State == StateReady
}

// Syncing reports whether the session is authenticated but still syncing.
func (s Snapshot) Syncing() bool {
	return s.State == StateSyncing
}

// HasQR reports whether a handshake payload is waiting to be scanned.
func (s Snapshot) HasQR() bool {
	return s.QR != ""
}

// Update is a partial snapshot. Zero fields mean "not mentioned": an empty
// State keeps the current state and an empty QR never clears a pending one.
type Update struct {
	State         State
	QR            string
	Regenerations *int
}

// merge folds u into prev. The QR rule is order sensitive: a non-empty QR
// always wins, an authenticated state clears it, and anything else keeps the
// previous payload.
func merge(prev Snapshot, u Update) Snapshot {
	next := prev
	switch {
	case u.State != "":
		next.State = u.State
	case next.State == "":
		next.State = StateNone
	}

	switch {
	case u.QR != "":
		next.QR = u.QR
	case next.State.Authenticated():
		next.QR = ""
	}

	switch {
	case u.Regenerations != nil:
		if *u.Regenerations > next.Regenerations {
			next.Regenerations = *u.Regenerations
		}
	case u.QR != "" && prev.QR != "" && u.QR != prev.QR:
		next.Regenerations++
	}
	return next
}

// significant reports whether next differs from prev in a way worth
// persisting.
func significant(prev, next Snapshot) bool {
	return prev.State != next.State || prev.QR != next.QR || prev.Ready() != next.Ready()
}

// UpdateFromStatus interprets a state or init response as the next logical
// session state.
func UpdateFromStatus(resp backend.StateResponse) Update {
	switch {
	case resp.Ready:
		return Update{State: StateReady}
	case resp.Authenticated:
		return Update{State: StateSyncing}
	case strings.TrimSpace(resp.QR) != "":
		return Update{State: StateWaitingQR, QR: strings.TrimSpace(resp.QR)}
	default:
		return Update{State: StateLaunching}
	}
}

// UpdateFromEvent converts a session:update push payload. Unknown states are
// dropped so the update can still deliver its QR payload; ok is false in that
// case.
func UpdateFromEvent(ev backend.SessionUpdate) (Update, bool) {
	u := Update{QR: strings.TrimSpace(ev.QR), Regenerations: ev.Regenerations}
	if strings.TrimSpace(ev.State) == "" {
		return u, true
	}
	state, ok := ParseState(ev.State)
	if ok {
		u.State = state
	}
	return u, ok
}
