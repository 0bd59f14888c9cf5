package devserver

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/five82/pairsync/internal/backend"
	"github.com/five82/pairsync/internal/session"
)

const subscriberBuffer = 16

// Options configure a Server.
type Options struct {
	// Token guards every route except /health. Empty disables auth.
	Token string
	// PairAfter, when positive, pairs the session automatically this long
	// after a QR is issued.
	PairAfter time.Duration
	Phone     string
	DailyCap  int
	Logger    *slog.Logger
}

type frame struct {
	name string
	data []byte
}

// Server is a scriptable in-memory backend.
type Server struct {
	mu            sync.Mutex
	state         session.State
	qr            string
	regenerations int
	phone         string
	usage         *backend.UsageStats
	failures      []int
	subs          map[int]chan frame
	nextSub       int
	pairTimer     *time.Timer

	token     string
	pairAfter time.Duration
	defPhone  string
	logger    *slog.Logger
	router    chi.Router
}

// New builds a Server with no session.
func New(opts Options) *Server {
	s := &Server{
		state:     session.StateNone,
		subs:      make(map[int]chan frame),
		token:     opts.Token,
		pairAfter: opts.PairAfter,
		defPhone:  opts.Phone,
		logger:    opts.Logger,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.defPhone == "" {
		s.defPhone = "+15550100"
	}
	if opts.DailyCap > 0 {
		s.usage = &backend.UsageStats{DailyCap: opts.DailyCap, WithinAllowedWindow: true}
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(requestLogger(s.logger))
	r.Use(recovery(s.logger))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(bearerAuth(s.token))
		r.Route("/session", func(r chi.Router) {
			r.Get("/state", s.handleState)
			r.Post("/init", s.handleInit)
			r.Post("/logout", s.handleLogout)
		})
		r.Get("/events", s.handleEvents)
	})
	return r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if status, failed := s.popFailureLocked(); failed {
		s.mu.Unlock()
		writeFailure(w, status)
		return
	}
	if s.state == session.StateNone {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "no_session", "no session")
		return
	}
	resp := s.responseLocked()
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleInit(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if status, failed := s.popFailureLocked(); failed {
		s.mu.Unlock()
		writeFailure(w, status)
		return
	}
	if s.state == session.StateNone || s.state == session.StateClosing {
		s.setStateLocked(session.StateLaunching)
		s.issueQRLocked()
	}
	resp := s.responseLocked()
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if status, failed := s.popFailureLocked(); failed {
		s.mu.Unlock()
		writeFailure(w, status)
		return
	}
	s.resetLocked()
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal", "streaming unsupported")
		return
	}
	ch, cancel := s.subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case f, ok := <-ch:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", f.name, f.data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) responseLocked() backend.StateResponse {
	connected := true
	resp := backend.StateResponse{
		Ready:         s.state == session.StateReady,
		Authenticated: s.state.Authenticated(),
		Connected:     &connected,
		QR:            s.qr,
	}
	if resp.Authenticated {
		resp.Phone = s.phone
	}
	if s.usage != nil {
		u := *s.usage
		u.PercentUsed = u.Percent()
		resp.Stats = &u
	}
	return resp
}

func (s *Server) popFailureLocked() (int, bool) {
	if len(s.failures) == 0 {
		return 0, false
	}
	status := s.failures[0]
	s.failures = s.failures[1:]
	return status, true
}

func writeFailure(w http.ResponseWriter, status int) {
	switch status {
	case http.StatusTooManyRequests:
		writeError(w, status, "rate_limited", "slow down")
	case http.StatusNotFound:
		writeError(w, status, "no_session", "no session")
	default:
		writeError(w, status, "unavailable", http.StatusText(status))
	}
}

// FailNext makes the next len(statuses) session requests fail with the given
// HTTP status codes, in order.
func (s *Server) FailNext(statuses ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, statuses...)
}

// IssueQR moves the session to waiting_qr with a fresh payload. A replaced
// payload counts as a regeneration.
func (s *Server) IssueQR() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == session.StateNone {
		s.setStateLocked(session.StateLaunching)
	}
	return s.issueQRLocked()
}

func (s *Server) issueQRLocked() string {
	if s.qr != "" {
		s.regenerations++
	}
	s.qr = "2@" + uuid.NewString()
	s.state = session.StateWaitingQR
	s.publishSessionLocked()
	if s.pairAfter > 0 {
		if s.pairTimer != nil {
			s.pairTimer.Stop()
		}
		s.pairTimer = time.AfterFunc(s.pairAfter, func() { s.Pair("") })
	}
	return s.qr
}

// Pair completes the handshake: syncing, then ready. An empty phone uses the
// configured default.
func (s *Server) Pair(phone string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if phone == "" {
		phone = s.defPhone
	}
	s.phone = phone
	s.setStateLocked(session.StateSyncing)
	s.setStateLocked(session.StateReady)
}

// SetState forces a session state and announces it.
func (s *Server) SetState(state session.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state == session.StateNone {
		s.resetLocked()
		return
	}
	s.setStateLocked(state)
}

// SetUsage replaces the usage counters reported with the state.
func (s *Server) SetUsage(u backend.UsageStats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage = &u
}

// State returns the current session state.
func (s *Server) State() session.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribers reports the number of open event streams.
func (s *Server) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// PublishJob sends a jobprogress event. terminal is "", backend.TerminalCompleted
// or backend.TerminalError.
func (s *Server) PublishJob(category, terminal string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal job payload: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broadcastLocked(frame{name: backend.JobEventName(category, terminal), data: data})
	return nil
}

// DropStreams closes every open event stream.
func (s *Server) DropStreams() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
}

func (s *Server) setStateLocked(state session.State) {
	s.state = state
	if state.Authenticated() {
		s.qr = ""
	}
	s.publishSessionLocked()
}

func (s *Server) resetLocked() {
	if s.pairTimer != nil {
		s.pairTimer.Stop()
		s.pairTimer = nil
	}
	s.state = session.StateNone
	s.qr = ""
	s.phone = ""
	s.regenerations = 0
	s.publishSessionLocked()
}

func (s *Server) publishSessionLocked() {
	regenerations := s.regenerations
	data, _ := json.Marshal(backend.SessionUpdate{
		State:         string(s.state),
		QR:            s.qr,
		Regenerations: &regenerations,
	})
	s.broadcastLocked(frame{name: backend.EventSessionUpdate, data: data})
}

func (s *Server) broadcastLocked(f frame) {
	for _, ch := range s.subs {
		select {
		case ch <- f:
		default:
			s.logger.Warn("event subscriber lagging, frame dropped", "event", f.name)
		}
	}
}

func (s *Server) subscribe() (<-chan frame, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	ch := make(chan frame, subscriberBuffer)
	s.subs[id] = ch
	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
	}
}
