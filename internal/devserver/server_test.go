package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/five82/pairsync/internal/backend"
	"github.com/five82/pairsync/internal/session"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, opts Options) (*Server, *backend.Client) {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = quietLogger()
	}
	srv := New(opts)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	client, err := backend.NewClient(ts.URL, backend.WithToken(opts.Token), backend.WithTimeout(2*time.Second))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return srv, client
}

func TestState_NoSessionIsExpectedAbsence(t *testing.T) {
	_, client := newTestServer(t, Options{Token: "secret"})

	_, err := client.FetchState(context.Background())
	if !errors.Is(err, backend.ErrNoSession) {
		t.Fatalf("FetchState error = %v, want ErrNoSession", err)
	}
	if got := backend.Classify(err); got != backend.ExpectedAbsence {
		t.Fatalf("Classify = %v, want ExpectedAbsence", got)
	}
}

func TestInitThenPair(t *testing.T) {
	srv, client := newTestServer(t, Options{Token: "secret", DailyCap: 100})
	ctx := context.Background()

	resp, err := client.InitSession(ctx)
	if err != nil {
		t.Fatalf("InitSession: %v", err)
	}
	if resp.Ready || resp.Authenticated || !strings.HasPrefix(resp.QR, "2@") {
		t.Fatalf("init response = %+v, want an unauthenticated QR", resp)
	}
	if srv.State() != session.StateWaitingQR {
		t.Fatalf("state = %s, want waiting_qr", srv.State())
	}

	srv.Pair("+15550123")
	resp, err = client.FetchState(ctx)
	if err != nil {
		t.Fatalf("FetchState: %v", err)
	}
	if !resp.Ready || !resp.Authenticated || resp.QR != "" || resp.Phone != "+15550123" {
		t.Fatalf("state response = %+v", resp)
	}
	if resp.Stats == nil || resp.Stats.DailyCap != 100 {
		t.Fatalf("stats = %+v", resp.Stats)
	}

	if err := client.Logout(ctx); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if srv.State() != session.StateNone {
		t.Fatalf("state after logout = %s", srv.State())
	}
}

func TestBearerAuth(t *testing.T) {
	srv := New(Options{Token: "secret", Logger: quietLogger()})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/session/state")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatal("missing X-Request-ID")
	}

	resp, err = http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/health status = %d, want 200", resp.StatusCode)
	}
}

func TestFailNext(t *testing.T) {
	srv, client := newTestServer(t, Options{})
	srv.IssueQR()
	srv.FailNext(http.StatusTooManyRequests, http.StatusServiceUnavailable)
	ctx := context.Background()

	_, err := client.FetchState(ctx)
	if !errors.Is(err, backend.ErrRateLimited) {
		t.Fatalf("first error = %v, want ErrRateLimited", err)
	}
	_, err = client.FetchState(ctx)
	if got := backend.Classify(err); got != backend.Transient {
		t.Fatalf("second error class = %v, want Transient", got)
	}
	if _, err := client.FetchState(ctx); err != nil {
		t.Fatalf("third FetchState: %v", err)
	}
}

func TestEvents(t *testing.T) {
	srv, client := newTestServer(t, Options{Token: "secret"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, stop, err := client.Events(ctx)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	defer stop()

	deadline := time.Now().Add(2 * time.Second)
	for srv.Subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("stream never subscribed")
		}
		time.Sleep(2 * time.Millisecond)
	}

	first := srv.IssueQR()
	second := srv.IssueQR()
	if err := srv.PublishJob("document", backend.TerminalCompleted, backend.JobCompleted{OwnerID: "u1", TotalProcessed: 3, Succeeded: 3}); err != nil {
		t.Fatalf("PublishJob: %v", err)
	}

	var updates []backend.SessionUpdate
	var jobs []backend.Event
	timeout := time.After(2 * time.Second)
	for len(jobs) == 0 {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatal("stream closed early")
			}
			if ev.Name == backend.EventSessionUpdate {
				var u backend.SessionUpdate
				if err := json.Unmarshal(ev.Data, &u); err != nil {
					t.Fatalf("decode: %v", err)
				}
				updates = append(updates, u)
				continue
			}
			jobs = append(jobs, ev)
		case <-timeout:
			t.Fatal("timed out waiting for events")
		}
	}

	last := updates[len(updates)-1]
	if last.QR != second || last.QR == first || last.State != "waiting_qr" {
		t.Fatalf("last update = %+v", last)
	}
	if last.Regenerations == nil || *last.Regenerations != 1 {
		t.Fatalf("regenerations = %v, want 1", last.Regenerations)
	}
	cat, terminal, ok := jobs[0].JobEvent()
	if !ok || cat != "document" || terminal != backend.TerminalCompleted {
		t.Fatalf("job event = %q", jobs[0].Name)
	}
}

func TestPairAfter(t *testing.T) {
	srv, client := newTestServer(t, Options{PairAfter: 10 * time.Millisecond})
	if _, err := client.InitSession(context.Background()); err != nil {
		t.Fatalf("InitSession: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for srv.State() != session.StateReady {
		if time.Now().After(deadline) {
			t.Fatalf("state = %s, want ready", srv.State())
		}
		time.Sleep(2 * time.Millisecond)
	}
}
