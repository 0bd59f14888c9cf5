// Package prefs persists per-install monitor preferences in
// ~/.config/pairsync/prefs.toml. Reads never fail: a missing or unreadable
// file yields defaults.
package prefs

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	toml "github.com/pelletier/go-toml/v2"
)

// Prefs holds user preferences. TabID scopes persisted session snapshots so
// two monitors on the same machine do not share one.
type Prefs struct {
	Theme string `toml:"theme"`
	TabID string `toml:"tab_id"`
}

const (
	defaultPrefsPath = "~/.config/pairsync/prefs.toml"
	defaultTheme     = "Nightfox"
)

// DefaultPath returns the default preferences file path.
func DefaultPath() string {
	return defaultPrefsPath
}

func (p Prefs) normalized() Prefs {
	p.Theme = strings.TrimSpace(p.Theme)
	p.TabID = strings.TrimSpace(p.TabID)
	if p.Theme == "" {
		p.Theme = defaultTheme
	}
	return p
}

// Load reads preferences from path (empty means the default path). The error
// is always nil; it is kept for symmetry with Save.
func Load(path string) (Prefs, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return Prefs{}.normalized(), nil
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return Prefs{}.normalized(), nil
	}
	var p Prefs
	if err := toml.Unmarshal(data, &p); err != nil {
		return Prefs{}.normalized(), nil
	}
	return p.normalized(), nil
}

// Save writes preferences atomically, creating parent directories.
func Save(path string, p Prefs) error {
	resolved, err := resolvePath(path)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}
	data, err := toml.Marshal(p.normalized())
	if err != nil {
		return fmt.Errorf("marshal prefs: %w", err)
	}
	if err := writeAtomic(resolved, data); err != nil {
		return fmt.Errorf("write prefs: %w", err)
	}
	return nil
}

// EnsureTabID loads preferences and, when no tab id is stored yet, generates
// one and saves it so the next run resumes the same snapshot scope. A save
// failure still returns the generated id.
func EnsureTabID(path string) (Prefs, error) {
	p, _ := Load(path)
	if p.TabID != "" {
		return p, nil
	}
	p.TabID = uuid.NewString()
	return p, Save(path, p)
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".prefs-*.toml")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func resolvePath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		trimmed = defaultPrefsPath
	}
	if rest, ok := strings.CutPrefix(trimmed, "~"); ok {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		trimmed = filepath.Join(home, rest)
	}
	return filepath.Abs(trimmed)
}
