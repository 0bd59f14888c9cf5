package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/five82/pairsync/internal/session"
)

// FreshnessWindow is how long a persisted snapshot stays eligible for
// hydration.
const FreshnessWindow = 30 * time.Minute

var (
	keySession   = []byte("session")
	keyTimestamp = []byte("session_ts")
)

const defaultScope = "default"

// record is the persisted layout. QR is a pointer so an absent payload is
// written as null.
type record struct {
	State         string    `json:"state"`
	QR            *string   `json:"qr"`
	Regenerations int       `json:"regenerations"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func toRecord(snap session.Snapshot) record {
	rec := record{
		State:         string(snap.State),
		Regenerations: snap.Regenerations,
		UpdatedAt:     snap.UpdatedAt,
	}
	if snap.QR != "" {
		qr := snap.QR
		rec.QR = &qr
	}
	return rec
}

func (r record) snapshot() (session.Snapshot, error) {
	state, ok := session.ParseState(r.State)
	if !ok {
		return session.Snapshot{}, fmt.Errorf("unknown state %q", r.State)
	}
	snap := session.Snapshot{State: state, Regenerations: r.Regenerations, UpdatedAt: r.UpdatedAt}
	if r.QR != nil {
		snap.QR = *r.QR
	}
	return snap, nil
}

// Options configure a Store.
type Options struct {
	// Scope isolates one tab (one running client) from another.
	Scope  string
	Window time.Duration
	Logger *slog.Logger
	Now    func() time.Time
}

func (o Options) withDefaults() Options {
	if strings.TrimSpace(o.Scope) == "" {
		o.Scope = defaultScope
	}
	if o.Window <= 0 {
		o.Window = FreshnessWindow
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Store persists the session snapshot in a bbolt bucket per scope. Every
// failure is logged and swallowed.
type Store struct {
	db     *bolt.DB
	bucket []byte
	window time.Duration
	logger *slog.Logger
	now    func() time.Time
}

var _ session.Persister = (*Store)(nil)

// Open opens (creating if needed) the database at path.
func Open(path string, opts Options) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("snapshot db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open snapshot db: %w", err)
	}
	opts = opts.withDefaults()
	return &Store{
		db:     db,
		bucket: []byte("tab:" + strings.TrimSpace(opts.Scope)),
		window: opts.Window,
		logger: opts.Logger,
		now:    opts.Now,
	}, nil
}

// Close releases the database file.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Load returns the persisted snapshot when it is younger than the freshness
// window. Stale or unreadable data is purged.
func (s *Store) Load() (session.Snapshot, bool) {
	var rawSnap, rawTS []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b == nil {
			return nil
		}
		rawSnap = append([]byte(nil), b.Get(keySession)...)
		rawTS = append([]byte(nil), b.Get(keyTimestamp)...)
		return nil
	})
	if err != nil {
		s.logger.Warn("snapshot load failed", "error", err)
		return session.Snapshot{}, false
	}
	if len(rawSnap) == 0 && len(rawTS) == 0 {
		return session.Snapshot{}, false
	}

	snap, err := s.decode(rawSnap, rawTS)
	if err != nil {
		s.logger.Debug("snapshot discarded", "reason", err)
		s.Clear()
		return session.Snapshot{}, false
	}
	return snap, true
}

func (s *Store) decode(rawSnap, rawTS []byte) (session.Snapshot, error) {
	stamp, err := time.Parse(time.RFC3339Nano, string(rawTS))
	if err != nil {
		return session.Snapshot{}, fmt.Errorf("timestamp: %w", err)
	}
	if !fresh(stamp, s.now(), s.window) {
		return session.Snapshot{}, errors.New("expired")
	}
	var rec record
	if err := json.Unmarshal(rawSnap, &rec); err != nil {
		return session.Snapshot{}, fmt.Errorf("record: %w", err)
	}
	return rec.snapshot()
}

// Save writes the snapshot and its expiry timestamp in one transaction.
func (s *Store) Save(snap session.Snapshot) {
	if snap.UpdatedAt.IsZero() {
		snap.UpdatedAt = s.now()
	}
	data, err := json.Marshal(toRecord(snap))
	if err != nil {
		s.logger.Warn("snapshot encode failed", "error", err)
		return
	}
	stamp := []byte(snap.UpdatedAt.UTC().Format(time.RFC3339Nano))
	err = s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(s.bucket)
		if err != nil {
			return err
		}
		if err := b.Put(keySession, data); err != nil {
			return err
		}
		return b.Put(keyTimestamp, stamp)
	})
	if err != nil {
		s.logger.Warn("snapshot save failed", "error", err)
	}
}

// Clear removes both keys in one transaction.
func (s *Store) Clear() {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b == nil {
			return nil
		}
		if err := b.Delete(keySession); err != nil {
			return err
		}
		return b.Delete(keyTimestamp)
	})
	if err != nil {
		s.logger.Warn("snapshot clear failed", "error", err)
	}
}

func fresh(stamp, now time.Time, window time.Duration) bool {
	return now.Sub(stamp) < window
}

// Memory is an in-process Persister with the same expiry rules. It is used
// when persistence is disabled and in tests.
type Memory struct {
	mu     sync.Mutex
	snap   session.Snapshot
	stamp  time.Time
	has    bool
	window time.Duration
	now    func() time.Time
}

var _ session.Persister = (*Memory)(nil)

// NewMemory builds an empty Memory store.
func NewMemory(opts Options) *Memory {
	opts = opts.withDefaults()
	return &Memory{window: opts.Window, now: opts.Now}
}

func (m *Memory) Load() (session.Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.has {
		return session.Snapshot{}, false
	}
	if !fresh(m.stamp, m.now(), m.window) {
		m.snap, m.stamp, m.has = session.Snapshot{}, time.Time{}, false
		return session.Snapshot{}, false
	}
	return m.snap, true
}

func (m *Memory) Save(snap session.Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if snap.UpdatedAt.IsZero() {
		snap.UpdatedAt = m.now()
	}
	m.snap, m.stamp, m.has = snap, snap.UpdatedAt, true
}

func (m *Memory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap, m.stamp, m.has = session.Snapshot{}, time.Time{}, false
}
