package progress

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/five82/pairsync/internal/backend"
	"github.com/five82/pairsync/internal/latest"
)

// Job categories reported on the push channel.
const (
	CategoryClassification = "classification"
	CategoryDocument       = "document"
)

const (
	streamRetryMin = time.Second
	streamRetryMax = 32 * time.Second
)

// Progress is the latest tick of a job.
type Progress struct {
	Processed  int
	Total      int
	Percentage float64
	Succeeded  *int
	Failed     *int
}

// State is everything known about one (category, owner) job.
type State struct {
	Progress  *Progress
	Completed bool
	Err       string
}

type key struct {
	category string
	owner    string
}

type job struct {
	state State
	hub   latest.Hub[State]
}

// Options configure a Tracker.
type Options struct {
	// Categories limits tracking. Empty means classification and document.
	Categories []string
	Logger     *slog.Logger
}

// Tracker keeps the latest progress per job category and owner.
type Tracker struct {
	mu         sync.Mutex
	jobs       map[key]*job
	categories map[string]bool
	logger     *slog.Logger
}

// New builds a Tracker.
func New(opts Options) *Tracker {
	cats := opts.Categories
	if len(cats) == 0 {
		cats = []string{CategoryClassification, CategoryDocument}
	}
	t := &Tracker{
		jobs:       make(map[key]*job),
		categories: make(map[string]bool, len(cats)),
		logger:     opts.Logger,
	}
	for _, c := range cats {
		t.categories[c] = true
	}
	if t.logger == nil {
		t.logger = slog.Default()
	}
	return t
}

// Watch returns the handle for one job. Handles for the same pair share state.
func (t *Tracker) Watch(category, owner string) *Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.jobLocked(key{category, owner})
	return &Handle{tracker: t, key: key{category, owner}}
}

// Run consumes the push channel until ctx is cancelled, reopening it with
// backoff when it fails. Job errors are never retried here.
func (t *Tracker) Run(ctx context.Context, source backend.EventSource) {
	delay := streamRetryMin
	for ctx.Err() == nil {
		events, stop, err := source.Events(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			t.logger.Warn("progress stream unavailable", "error", err, "next_delay", delay)
			if !sleep(ctx, delay) {
				return
			}
			delay = min(delay*2, streamRetryMax)
			continue
		}

		delay = streamRetryMin
		t.drain(ctx, events)
		stop()
		if ctx.Err() != nil {
			return
		}
		t.logger.Info("progress stream closed, reopening", "next_delay", delay)
		if !sleep(ctx, delay) {
			return
		}
	}
}

func (t *Tracker) drain(ctx context.Context, events <-chan backend.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			t.Handle(ev)
		}
	}
}

// Handle applies one push event. Events for other channels, untracked
// categories or unwatched owners are ignored.
func (t *Tracker) Handle(ev backend.Event) {
	category, terminal, ok := ev.JobEvent()
	if !ok || !t.categories[category] {
		return
	}

	switch terminal {
	case backend.TerminalCompleted:
		var p backend.JobCompleted
		if err := ev.Decode(&p); err != nil {
			t.logger.Warn("progress event dropped", "event", ev.Name, "error", err)
			return
		}
		t.update(key{category, p.OwnerID}, func(s *State) bool {
			if s.Err != "" {
				return false
			}
			succeeded, failed := p.Succeeded, p.Failed
			s.Progress = &Progress{
				Processed:  p.TotalProcessed,
				Total:      p.TotalProcessed,
				Percentage: 100,
				Succeeded:  &succeeded,
				Failed:     &failed,
			}
			s.Completed = true
			return true
		})
	case backend.TerminalError:
		var p backend.JobFailed
		if err := ev.Decode(&p); err != nil {
			t.logger.Warn("progress event dropped", "event", ev.Name, "error", err)
			return
		}
		t.update(key{category, p.OwnerID}, func(s *State) bool {
			if s.Completed {
				return false
			}
			s.Err = p.Error
			return true
		})
	default:
		var p backend.JobProgress
		if err := ev.Decode(&p); err != nil {
			t.logger.Warn("progress event dropped", "event", ev.Name, "error", err)
			return
		}
		t.update(key{category, p.OwnerID}, func(s *State) bool {
			if s.Completed || s.Err != "" {
				return false
			}
			s.Progress = &Progress{
				Processed:  p.Processed,
				Total:      p.Total,
				Percentage: p.Percentage,
				Succeeded:  copyInt(p.Succeeded),
				Failed:     copyInt(p.Failed),
			}
			return true
		})
	}
}

// update applies fn to a watched job. Events for jobs nobody watches are
// dropped so the table only grows with Watch calls.
func (t *Tracker) update(k key, fn func(*State) bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	j, ok := t.jobs[k]
	if !ok {
		return
	}
	if !fn(&j.state) {
		return
	}
	j.hub.Publish(cloneState(j.state))
}

func (t *Tracker) jobLocked(k key) *job {
	j, ok := t.jobs[k]
	if !ok {
		j = &job{}
		t.jobs[k] = j
	}
	return j
}

func (t *Tracker) state(k key) State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return cloneState(t.jobLocked(k).state)
}

func (t *Tracker) reset(k key) {
	t.mu.Lock()
	defer t.mu.Unlock()
	j := t.jobLocked(k)
	j.state = State{}
	j.hub.Publish(State{})
}

func (t *Tracker) subscribe(k key) (<-chan State, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	j := t.jobLocked(k)
	return j.hub.Subscribe(cloneState(j.state))
}

// Close ends every change subscription.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, j := range t.jobs {
		j.hub.Close()
	}
}

func cloneState(s State) State {
	if s.Progress != nil {
		p := *s.Progress
		p.Succeeded = copyInt(p.Succeeded)
		p.Failed = copyInt(p.Failed)
		s.Progress = &p
	}
	return s
}

func copyInt(v *int) *int {
	if v == nil {
		return nil
	}
	n := *v
	return &n
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
