package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/five82/pairsync/internal/backend"
	"github.com/five82/pairsync/internal/progress"
	"github.com/five82/pairsync/internal/ui"
)

// StatusReport is the JSON document printed by the status command.
type StatusReport struct {
	Tab           string              `json:"tab"`
	Mode          string              `json:"mode"`
	Session       string              `json:"session"`
	Regenerations int                 `json:"regenerations"`
	QR            string              `json:"qr,omitempty"`
	Connected     bool                `json:"connected"`
	Ready         bool                `json:"ready"`
	Authenticated bool                `json:"authenticated"`
	Phone         string              `json:"phone,omitempty"`
	Usage         *backend.UsageStats `json:"usage,omitempty"`
	CanActNow     bool                `json:"can_act_now"`
	BlockReason   string              `json:"block_reason,omitempty"`
	RetryCount    int                 `json:"retry_count"`
	RetryDelayMs  int64               `json:"retry_delay_ms"`
	LastError     string              `json:"last_error,omitempty"`
}

// Report assembles the current session and status views.
func (e *Engine) Report() StatusReport {
	snap := e.Session.Snapshot()
	st := e.Status.Status()
	return StatusReport{
		Tab:           e.Prefs.TabID,
		Mode:          string(st.Mode),
		Session:       string(snap.State),
		Regenerations: snap.Regenerations,
		QR:            snap.QR,
		Connected:     st.Connected,
		Ready:         st.Ready,
		Authenticated: st.Authenticated,
		Phone:         st.Phone,
		Usage:         st.Usage,
		CanActNow:     st.CanActNow,
		BlockReason:   st.BlockReason,
		RetryCount:    st.RetryCount,
		RetryDelayMs:  st.RetryDelayMs(),
		LastError:     st.LastError,
	}
}

// StatusJSON performs one fetch and writes the report as indented JSON.
// A failed fetch is folded into the report rather than returned.
func (e *Engine) StatusJSON(ctx context.Context, w io.Writer) error {
	if err := e.Status.RefreshStatus(ctx); err != nil {
		e.Logger.Warn("status fetch failed", "error", err)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(e.Report()); err != nil {
		return fmt.Errorf("encode status: %w", err)
	}
	return nil
}

// Reconnect asks the backend for a fresh session and prints the resulting
// session state.
func (e *Engine) Reconnect(ctx context.Context, w io.Writer) error {
	if err := e.Session.Reconnect(ctx); err != nil {
		return err
	}
	snap := e.Session.Snapshot()
	_, err := fmt.Fprintf(w, "session %s\n", snap.State)
	return err
}

// Logout ends the session. The local snapshot is cleared even when the
// backend call fails; a missing session is not an error.
func (e *Engine) Logout(ctx context.Context, w io.Writer) error {
	err := e.Session.Logout(ctx)
	if err != nil && !errors.Is(err, backend.ErrNoSession) {
		return err
	}
	_, err = fmt.Fprintln(w, "logged out")
	return err
}

// Watch starts the background channels and runs the monitor until the user
// quits or ctx is cancelled.
func (e *Engine) Watch(ctx context.Context, tick time.Duration) error {
	ctx, cancel := context.WithCancel(ctx)
	wait := e.Start(ctx)
	defer func() {
		cancel()
		wait()
	}()

	return ui.Run(ui.Options{
		Context:   ctx,
		Session:   e.Session,
		Status:    e.Status,
		Job:       e.WatchedJob(),
		LogPath:   e.Config.LogPath(),
		TabID:     e.Prefs.TabID,
		ThemeName: e.Prefs.Theme,
		PrefsPath: e.prefsPath,
		PollTick:  tick,
	})
}

// WatchedJob returns the progress handle for the configured category and
// owner.
func (e *Engine) WatchedJob() *progress.Handle {
	return e.Progress.Watch(e.Config.ProgressCategory, e.Config.ProgressOwner)
}
