package backend

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const eventBuffer = 64

// Events opens the push channel. The returned channel is closed when the
// stream ends for any reason; the stop function cancels it early.
func (c *Client) Events(ctx context.Context) (<-chan Event, func(), error) {
	if c == nil {
		return nil, nil, fmt.Errorf("client is nil")
	}
	if c.token == "" {
		return nil, nil, fmt.Errorf("push channel requires an api token")
	}

	ctx, cancel := context.WithCancel(ctx)
	req, err := c.newRequest(ctx, http.MethodGet, "/events")
	if err != nil {
		cancel()
		return nil, nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.stream.Do(req)
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("open event stream: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		cancel()
		return nil, nil, decodeAPIError("/events", resp)
	}

	ch := make(chan Event, eventBuffer)
	go func() {
		defer close(ch)
		defer resp.Body.Close()
		_ = readEvents(ctx, resp.Body, ch)
	}()
	return ch, cancel, nil
}

// readEvents parses a text/event-stream body and delivers each complete
// frame to ch. Frames without data are skipped. It returns when the body is
// exhausted or ctx is done.
func readEvents(ctx context.Context, r io.Reader, ch chan<- Event) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	name := ""
	var dataLines []string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if len(dataLines) == 0 {
				name = ""
				continue
			}
			event := Event{Name: name, Data: json.RawMessage(strings.Join(dataLines, "\n"))}
			if event.Name == "" {
				event.Name = "message"
			}
			name = ""
			dataLines = dataLines[:0]
			select {
			case ch <- event:
			case <-ctx.Done():
				return ctx.Err()
			}
		case strings.HasPrefix(line, ":"):
			// comment / keepalive
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(line[len("event:"):])
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimSpace(line[len("data:"):]))
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read event stream: %w", err)
	}
	return nil
}
