package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoad_MissingConfigFallsBackToDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg, err := Load(filepath.Join(home, "does-not-exist.toml"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.APIBase != defaultAPIBase {
		t.Fatalf("APIBase = %q, want %q", cfg.APIBase, defaultAPIBase)
	}
	if cfg.Role != "member" || cfg.PollInterval != 30*time.Second || cfg.MaxRetries != 5 {
		t.Fatalf("defaults = %+v", cfg)
	}
	if !cfg.Persist {
		t.Fatal("Persist should default to true")
	}

	wantStateDir, err := expandPath(defaultStateDir)
	if err != nil {
		t.Fatalf("expandPath(defaultStateDir) returned error: %v", err)
	}
	if cfg.StateDir != wantStateDir {
		t.Fatalf("StateDir = %q, want %q", cfg.StateDir, wantStateDir)
	}
	if cfg.LogPath() != filepath.Join(wantStateDir, "pairsync.log") {
		t.Fatalf("LogPath = %q", cfg.LogPath())
	}
}

func TestLoad_ParsesAndTrimsConfig(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	path := writeConfig(t, `
api_base = "  https://chat.example.com/api  "
api_token = " secret "
role = " Owner "
poll_interval = "5s"
request_timeout = "2s"
max_retries = 3
state_dir = "  ~/.pairsync  "
persist = false
log_level = "debug"
progress_owner = "u-42"
progress_category = " Classification "
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.APIBase != "https://chat.example.com/api" || cfg.APIToken != "secret" {
		t.Fatalf("APIBase/APIToken = %q/%q", cfg.APIBase, cfg.APIToken)
	}
	if cfg.Role != "owner" {
		t.Fatalf("Role = %q, want owner", cfg.Role)
	}
	if cfg.PollInterval != 5*time.Second || cfg.RequestTimeout != 2*time.Second || cfg.MaxRetries != 3 {
		t.Fatalf("timing = %v/%v/%d", cfg.PollInterval, cfg.RequestTimeout, cfg.MaxRetries)
	}
	if !strings.HasPrefix(cfg.StateDir, home) {
		t.Fatalf("StateDir = %q, want it under HOME %q", cfg.StateDir, home)
	}
	if cfg.SnapshotPath() != filepath.Join(cfg.StateDir, "snapshots.db") {
		t.Fatalf("SnapshotPath = %q", cfg.SnapshotPath())
	}
	if cfg.Persist {
		t.Fatal("Persist = true, want false")
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Fatalf("LogLevel = %v, want debug", cfg.LogLevel)
	}
	if cfg.ProgressOwner != "u-42" {
		t.Fatalf("ProgressOwner = %q", cfg.ProgressOwner)
	}
	if cfg.ProgressCategory != "classification" {
		t.Fatalf("ProgressCategory = %q, want classification", cfg.ProgressCategory)
	}
}

func TestLoad_EmptyValuesUseDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load(writeConfig(t, `
api_base = "   "
role = ""
poll_interval = ""
state_dir = ""
`))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.APIBase != defaultAPIBase || cfg.Role != defaultRole || cfg.PollInterval != defaultPollInterval ||
		cfg.ProgressCategory != defaultCategory {
		t.Fatalf("cfg = %+v", cfg)
	}
	wantStateDir, err := expandPath(defaultStateDir)
	if err != nil {
		t.Fatalf("expandPath(defaultStateDir) returned error: %v", err)
	}
	if cfg.StateDir != wantStateDir {
		t.Fatalf("StateDir = %q, want %q", cfg.StateDir, wantStateDir)
	}
}

func TestLoad_InvalidValuesFail(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"invalid toml", `api_base = [`},
		{"unknown role", `role = "admin"`},
		{"unknown category", `progress_category = "video"`},
		{"bad duration", `poll_interval = "soon"`},
		{"negative duration", `request_timeout = "-1s"`},
		{"bad log level", `log_level = "loud"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if err == nil {
				t.Fatalf("Load returned nil error, want parse error")
			}
			if !strings.Contains(err.Error(), "parse config") {
				t.Fatalf("Load error = %q, want it to mention parse config", err.Error())
			}
		})
	}
}

func TestExpandPath_ExpandsTildeAndReturnsAbs(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	got, err := expandPath("~/a/b")
	if err != nil {
		t.Fatalf("expandPath returned error: %v", err)
	}
	want := filepath.Join(home, "a/b")
	if got != want {
		t.Fatalf("expandPath = %q, want %q", got, want)
	}
}

func TestExpandPath_EmptyErrors(t *testing.T) {
	if _, err := expandPath("   "); err == nil {
		t.Fatalf("expandPath returned nil error, want error")
	}
}

func TestLogPath_DefaultsWhenStateDirEmpty(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	var cfg Config
	got := cfg.LogPath()
	if !strings.HasPrefix(got, home) {
		t.Fatalf("LogPath = %q, want it under HOME %q", got, home)
	}
	if !strings.HasSuffix(got, filepath.FromSlash("/pairsync.log")) {
		t.Fatalf("LogPath = %q, want it to end with /pairsync.log", got)
	}
}
