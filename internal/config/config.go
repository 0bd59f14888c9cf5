package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config is the engine configuration.
type Config struct {
	APIBase        string
	APIToken       string
	Role           string
	PollInterval   time.Duration
	RequestTimeout time.Duration
	MaxRetries     int
	StateDir       string
	Persist        bool
	LogLevel       slog.Level
	ProgressOwner  string

	// ProgressCategory is the job category the monitor shows.
	ProgressCategory string
}

const (
	defaultConfigPath     = "~/.config/pairsync/config.toml"
	defaultStateDir       = "~/.local/state/pairsync"
	defaultAPIBase        = "127.0.0.1:7390"
	defaultRole           = "member"
	defaultPollInterval   = 30 * time.Second
	defaultRequestTimeout = 10 * time.Second
	defaultMaxRetries     = 5
	defaultCategory       = "document"
)

// DefaultPath returns the default config file path.
func DefaultPath() string {
	return defaultConfigPath
}

func defaults() Config {
	return Config{
		APIBase:        defaultAPIBase,
		Role:           defaultRole,
		PollInterval:   defaultPollInterval,
		RequestTimeout: defaultRequestTimeout,
		MaxRetries:     defaultMaxRetries,
		StateDir:       mustExpand(defaultStateDir),
		Persist:        true,
		LogLevel:       slog.LevelInfo,

		ProgressCategory: defaultCategory,
	}
}

// Load locates and parses the config, falling back to defaults when missing.
func Load(path string) (Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return Config{}, err
	}

	cfg := defaults()

	file, err := os.Open(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	bytes, err := io.ReadAll(file)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var raw struct {
		APIBase        string `toml:"api_base"`
		APIToken       string `toml:"api_token"`
		Role           string `toml:"role"`
		PollInterval   string `toml:"poll_interval"`
		RequestTimeout string `toml:"request_timeout"`
		MaxRetries     int    `toml:"max_retries"`
		StateDir       string `toml:"state_dir"`
		Persist        *bool  `toml:"persist"`
		LogLevel       string `toml:"log_level"`
		ProgressOwner  string `toml:"progress_owner"`
		Category       string `toml:"progress_category"`
	}
	if err := toml.Unmarshal(bytes, &raw); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	if v := strings.TrimSpace(raw.APIBase); v != "" {
		cfg.APIBase = v
	}
	cfg.APIToken = strings.TrimSpace(raw.APIToken)
	cfg.ProgressOwner = strings.TrimSpace(raw.ProgressOwner)
	if v := strings.ToLower(strings.TrimSpace(raw.Category)); v != "" {
		switch v {
		case "classification", "document":
			cfg.ProgressCategory = v
		default:
			return Config{}, fmt.Errorf("parse config: unknown progress_category %q", raw.Category)
		}
	}

	if v := strings.ToLower(strings.TrimSpace(raw.Role)); v != "" {
		switch v {
		case "owner", "member", "system":
			cfg.Role = v
		default:
			return Config{}, fmt.Errorf("parse config: unknown role %q", raw.Role)
		}
	}

	if cfg.PollInterval, err = parseDuration("poll_interval", raw.PollInterval, defaultPollInterval); err != nil {
		return Config{}, err
	}
	if cfg.RequestTimeout, err = parseDuration("request_timeout", raw.RequestTimeout, defaultRequestTimeout); err != nil {
		return Config{}, err
	}
	if raw.MaxRetries > 0 {
		cfg.MaxRetries = raw.MaxRetries
	}
	if v := strings.TrimSpace(raw.StateDir); v != "" {
		cfg.StateDir = mustExpand(v)
	}
	if raw.Persist != nil {
		cfg.Persist = *raw.Persist
	}
	if v := strings.TrimSpace(raw.LogLevel); v != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(v)); err != nil {
			return Config{}, fmt.Errorf("parse config: log_level: %w", err)
		}
	}

	return cfg, nil
}

// SnapshotPath returns the bbolt file holding persisted session snapshots.
func (c Config) SnapshotPath() string {
	return filepath.Join(c.stateDir(), "snapshots.db")
}

// LogPath returns the engine's JSON log file.
func (c Config) LogPath() string {
	return filepath.Join(c.stateDir(), "pairsync.log")
}

func (c Config) stateDir() string {
	if strings.TrimSpace(c.StateDir) == "" {
		return mustExpand(defaultStateDir)
	}
	return c.StateDir
}

func parseDuration(field, value string, fallback time.Duration) (time.Duration, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(trimmed)
	if err != nil {
		return 0, fmt.Errorf("parse config: %s: %w", field, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("parse config: %s must be positive", field)
	}
	return d, nil
}

func resolvePath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return expandPath(defaultConfigPath)
	}
	return expandPath(path)
}

func mustExpand(path string) string {
	expanded, err := expandPath(path)
	if err != nil {
		return path
	}
	return expanded
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fmt.Errorf("path is empty")
	}
	if strings.HasPrefix(trimmed, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	return filepath.Abs(trimmed)
}
