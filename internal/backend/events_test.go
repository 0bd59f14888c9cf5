package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestReadEvents_ParsesFrames(t *testing.T) {
	body := strings.Join([]string{
		": keepalive",
		"",
		"event: session:update",
		`data: {"state":"waiting_qr","qr":"ABC"}`,
		"",
		"event: jobprogress:document",
		`data: {"ownerId":"u1",`,
		`data: "processed":2,"total":4,"percentage":50}`,
		"",
		`data: {"plain":true}`,
		"",
		"event: dangling",
		"",
	}, "\n")

	ch := make(chan Event, 8)
	if err := readEvents(context.Background(), strings.NewReader(body), ch); err != nil {
		t.Fatalf("readEvents returned error: %v", err)
	}
	close(ch)

	var got []Event
	for ev := range ch {
		got = append(got, ev)
	}
	if len(got) != 3 {
		t.Fatalf("got %d events, want 3: %#v", len(got), got)
	}
	if got[0].Name != EventSessionUpdate {
		t.Fatalf("event[0].Name = %q, want %q", got[0].Name, EventSessionUpdate)
	}
	var update SessionUpdate
	if err := got[0].Decode(&update); err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}
	if update.State != "waiting_qr" || update.QR != "ABC" {
		t.Fatalf("update = %#v, want waiting_qr/ABC", update)
	}

	var progress JobProgress
	if err := got[1].Decode(&progress); err != nil {
		t.Fatalf("Decode multi-line data returned error: %v", err)
	}
	if progress.OwnerID != "u1" || progress.Percentage != 50 {
		t.Fatalf("progress = %#v, want u1 at 50%%", progress)
	}
	if got[2].Name != "message" {
		t.Fatalf("event[2].Name = %q, want message", got[2].Name)
	}
}

func TestEvent_JobEvent(t *testing.T) {
	tests := []struct {
		name         string
		wantCategory string
		wantTerminal string
		wantOK       bool
	}{
		{"jobprogress:classification", "classification", "", true},
		{"jobprogress:document:completed", "document", TerminalCompleted, true},
		{"jobprogress:document:error", "document", TerminalError, true},
		{"jobprogress:document:paused", "", "", false},
		{"jobprogress:", "", "", false},
		{"session:update", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			category, terminal, ok := Event{Name: tt.name}.JobEvent()
			if category != tt.wantCategory || terminal != tt.wantTerminal || ok != tt.wantOK {
				t.Fatalf("JobEvent() = (%q, %q, %v), want (%q, %q, %v)",
					category, terminal, ok, tt.wantCategory, tt.wantTerminal, tt.wantOK)
			}
		})
	}
	if got := JobEventName("document", TerminalCompleted); got != "jobprogress:document:completed" {
		t.Fatalf("JobEventName = %q", got)
	}
}

func TestClient_EventsStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher, _ := w.(http.Flusher)
		_, _ = fmt.Fprintf(w, "event: %s\ndata: {\"state\":\"ready\"}\n\n", EventSessionUpdate)
		if flusher != nil {
			flusher.Flush()
		}
		<-r.Context().Done()
	}))
	defer server.Close()

	c, err := NewClient(server.URL, WithToken("token"))
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ch, stop, err := c.Events(ctx)
	if err != nil {
		t.Fatalf("Events returned error: %v", err)
	}

	select {
	case ev := <-ch:
		if ev.Name != EventSessionUpdate {
			t.Fatalf("event = %#v, want session:update", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	stop()
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected channel to close after stop")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after stop")
	}
}

func TestClient_EventsRequiresToken(t *testing.T) {
	c, err := NewClient("127.0.0.1:1")
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	if _, _, err := c.Events(context.Background()); err == nil {
		t.Fatal("Events without token returned nil error")
	}
}

func TestClient_EventsUnauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	c, err := NewClient(server.URL, WithToken("wrong"))
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	_, _, err = c.Events(context.Background())
	if err == nil || !strings.Contains(err.Error(), "returned status 401") {
		t.Fatalf("Events error = %v, want status 401", err)
	}
}
