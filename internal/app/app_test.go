package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/five82/pairsync/internal/devserver"
	"github.com/five82/pairsync/internal/progress"
	"github.com/five82/pairsync/internal/session"
	"github.com/five82/pairsync/internal/status"
)

type fixture struct {
	srv        *devserver.Server
	configPath string
	prefsPath  string
}

func newFixture(t *testing.T, extra string) fixture {
	t.Helper()
	srv := devserver.New(devserver.Options{
		Token:  "secret",
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	dir := t.TempDir()
	cfg := strings.Join([]string{
		`api_base = "` + ts.URL + `"`,
		`api_token = "secret"`,
		`state_dir = "` + filepath.Join(dir, "state") + `"`,
		`request_timeout = "2s"`,
		extra,
	}, "\n")
	configPath := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(configPath, []byte(cfg), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return fixture{srv: srv, configPath: configPath, prefsPath: filepath.Join(dir, "prefs.toml")}
}

func (f fixture) open(t *testing.T) *Engine {
	t.Helper()
	e, err := Open(Options{ConfigPath: f.configPath, PrefsPath: f.prefsPath, LogWriter: io.Discard})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return e
}

func TestOpen_OwnerRequiresToken(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	cfg := "role = \"owner\"\nstate_dir = \"" + filepath.Join(dir, "state") + "\"\n"
	if err := os.WriteFile(path, []byte(cfg), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	_, err := Open(Options{ConfigPath: path, PrefsPath: filepath.Join(dir, "prefs.toml"), LogWriter: io.Discard})
	if err == nil || !strings.Contains(err.Error(), "api_token") {
		t.Fatalf("expected api_token error, got %v", err)
	}
}

func TestOpen_InvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("role = \"guest\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Open(Options{ConfigPath: path, LogWriter: io.Discard}); err == nil {
		t.Fatal("expected error for unknown role")
	}
}

func TestOpen_AssignsStableTabID(t *testing.T) {
	f := newFixture(t, "")
	first := f.open(t)
	tab := first.Prefs.TabID
	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if tab == "" {
		t.Fatal("expected generated tab id")
	}

	second := f.open(t)
	defer second.Close()
	if second.Prefs.TabID != tab {
		t.Fatalf("tab id changed: %q -> %q", tab, second.Prefs.TabID)
	}
	if second.Status.Mode() != status.ModePoll {
		t.Fatalf("default role should poll, got %s", second.Status.Mode())
	}
}

func TestStatusJSON(t *testing.T) {
	tests := []struct {
		name      string
		prepare   func(*devserver.Server)
		session   string
		canAct    bool
		reason    string
		connected bool
	}{
		{
			name:      "no session",
			prepare:   func(*devserver.Server) {},
			session:   string(session.StateNone),
			reason:    status.ReasonNoSession,
			connected: true,
		},
		{
			name: "ready",
			prepare: func(s *devserver.Server) {
				s.IssueQR()
				s.Pair("")
			},
			session:   string(session.StateReady),
			canAct:    true,
			connected: true,
		},
		{
			name:    "backend down",
			prepare: func(s *devserver.Server) { s.FailNext(http.StatusServiceUnavailable) },
			session: string(session.StateNone),
			reason:  status.ReasonUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, "")
			tt.prepare(f.srv)
			e := f.open(t)
			defer e.Close()

			var buf bytes.Buffer
			if err := e.StatusJSON(context.Background(), &buf); err != nil {
				t.Fatalf("StatusJSON: %v", err)
			}
			var got StatusReport
			if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
				t.Fatalf("decode %q: %v", buf.String(), err)
			}
			if got.Session != tt.session {
				t.Errorf("session = %q, want %q", got.Session, tt.session)
			}
			if got.CanActNow != tt.canAct {
				t.Errorf("can_act_now = %v, want %v", got.CanActNow, tt.canAct)
			}
			if got.BlockReason != tt.reason {
				t.Errorf("block_reason = %q, want %q", got.BlockReason, tt.reason)
			}
			if got.Connected != tt.connected {
				t.Errorf("connected = %v, want %v", got.Connected, tt.connected)
			}
			if got.Tab != e.Prefs.TabID {
				t.Errorf("tab = %q, want %q", got.Tab, e.Prefs.TabID)
			}
		})
	}
}

func TestReconnect_SnapshotSurvivesReopen(t *testing.T) {
	f := newFixture(t, "")
	e := f.open(t)
	var out bytes.Buffer
	if err := e.Reconnect(context.Background(), &out); err != nil {
		t.Fatalf("Reconnect: %v", err)
	}
	if !strings.Contains(out.String(), string(session.StateWaitingQR)) {
		t.Fatalf("unexpected output %q", out.String())
	}
	qr := e.Session.Snapshot().QR
	if qr == "" {
		t.Fatal("expected QR after reconnect")
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened := f.open(t)
	defer reopened.Close()
	snap := reopened.Session.Snapshot()
	if snap.State != session.StateWaitingQR || snap.QR != qr {
		t.Fatalf("hydrated snapshot = %+v, want waiting_qr with %q", snap, qr)
	}
}

func TestLogout_ClearsPersistedSnapshot(t *testing.T) {
	f := newFixture(t, "")
	e := f.open(t)
	if err := e.Reconnect(context.Background(), io.Discard); err != nil {
		t.Fatalf("Reconnect: %v", err)
	}
	if err := e.Logout(context.Background(), io.Discard); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if f.srv.State() != session.StateNone {
		t.Fatalf("backend state = %s, want none", f.srv.State())
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened := f.open(t)
	defer reopened.Close()
	if snap := reopened.Session.Snapshot(); snap.State != session.StateNone || snap.QR != "" {
		t.Fatalf("expected empty snapshot after logout, got %+v", snap)
	}
}

func TestLogout_BackendFailureStillResets(t *testing.T) {
	f := newFixture(t, "")
	e := f.open(t)
	defer e.Close()
	if err := e.Reconnect(context.Background(), io.Discard); err != nil {
		t.Fatalf("Reconnect: %v", err)
	}
	f.srv.FailNext(http.StatusInternalServerError)
	if err := e.Logout(context.Background(), io.Discard); err == nil {
		t.Fatal("expected backend error")
	}
	if snap := e.Session.Snapshot(); snap.State != session.StateNone {
		t.Fatalf("local state = %s, want none", snap.State)
	}
}

func TestStart_PushModeFollowsEvents(t *testing.T) {
	f := newFixture(t, `role = "owner"`)
	e := f.open(t)
	defer e.Close()

	ctx, cancel := context.WithCancel(context.Background())
	wait := e.Start(ctx)
	defer func() {
		cancel()
		wait()
	}()

	deadline := time.Now().Add(3 * time.Second)
	for f.srv.Subscribers() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("expected status and progress streams, have %d", f.srv.Subscribers())
		}
		time.Sleep(10 * time.Millisecond)
	}

	qr := f.srv.IssueQR()
	for e.Session.Snapshot().QR != qr {
		if time.Now().After(deadline) {
			t.Fatalf("pushed QR never arrived, snapshot %+v", e.Session.Snapshot())
		}
		time.Sleep(10 * time.Millisecond)
	}
	if st := e.Status.Status(); st.Mode != status.ModePush || !st.Connected {
		t.Fatalf("unexpected status %+v", st)
	}
}

func TestPersistDisabledUsesMemory(t *testing.T) {
	f := newFixture(t, "persist = false")
	e := f.open(t)
	if err := e.Reconnect(context.Background(), io.Discard); err != nil {
		t.Fatalf("Reconnect: %v", err)
	}
	_ = e.Close()
	if _, err := os.Stat(e.Config.SnapshotPath()); !os.IsNotExist(err) {
		t.Fatalf("expected no snapshot db, stat err %v", err)
	}
}

func TestWatchedJob_UsesConfiguredCategory(t *testing.T) {
	tests := []struct {
		name  string
		extra string
		want  string
	}{
		{name: "default", want: progress.CategoryDocument},
		{name: "classification", extra: `progress_category = "classification"` + "\nprogress_owner = \"u1\"", want: progress.CategoryClassification},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newFixture(t, tt.extra).open(t)
			defer e.Close()
			h := e.WatchedJob()
			if h.Category() != tt.want {
				t.Fatalf("category = %q, want %q", h.Category(), tt.want)
			}
			if h.Owner() != e.Config.ProgressOwner {
				t.Fatalf("owner = %q, want %q", h.Owner(), e.Config.ProgressOwner)
			}
		})
	}
}
