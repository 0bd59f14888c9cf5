package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// SessionAPI is the request/response surface of the backend session
// endpoints. It is implemented by *Client and faked in tests.
type SessionAPI interface {
	FetchState(ctx context.Context) (*StateResponse, error)
	InitSession(ctx context.Context) (*StateResponse, error)
	Logout(ctx context.Context) error
}

// EventSource opens the authenticated push channel.
type EventSource interface {
	Events(ctx context.Context) (<-chan Event, func(), error)
}

// Ensure Client implements both surfaces at compile time.
var (
	_ SessionAPI  = (*Client)(nil)
	_ EventSource = (*Client)(nil)
)

// Client talks to the messaging backend over HTTP.
type Client struct {
	baseURL   *url.URL
	http      *http.Client
	stream    *http.Client
	token     string
	userAgent string
}

const (
	defaultAPIBase        = "127.0.0.1:7390"
	defaultUserAgent      = "pairsync/0.1"
	defaultRequestTimeout = 10 * time.Second
	maxErrorBody          = 4 << 10
)

// Option customizes a Client.
type Option func(*Client)

// WithToken sets the bearer token sent on every request.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = strings.TrimSpace(token)
	}
}

// WithTimeout bounds each request/response call. The push stream is not
// subject to it.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// NewClient builds a Client for the given base address. Bare host:port values
// are treated as http.
func NewClient(apiBase string, opts ...Option) (*Client, error) {
	base, err := parseBaseURL(apiBase)
	if err != nil {
		return nil, err
	}
	c := &Client{
		baseURL:   base,
		http:      &http.Client{Timeout: defaultRequestTimeout},
		stream:    &http.Client{},
		userAgent: defaultUserAgent,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// FetchState retrieves the current session status.
func (c *Client) FetchState(ctx context.Context) (*StateResponse, error) {
	if c == nil {
		return nil, fmt.Errorf("client is nil")
	}
	var payload StateResponse
	if err := c.do(ctx, http.MethodGet, "/session/state", &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// InitSession asks the backend to start or resume a session.
func (c *Client) InitSession(ctx context.Context) (*StateResponse, error) {
	if c == nil {
		return nil, fmt.Errorf("client is nil")
	}
	var payload StateResponse
	if err := c.do(ctx, http.MethodPost, "/session/init", &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// Logout tears the backend session down.
func (c *Client) Logout(ctx context.Context) error {
	if c == nil {
		return fmt.Errorf("client is nil")
	}
	return c.do(ctx, http.MethodPost, "/session/logout", nil)
}

func (c *Client) do(ctx context.Context, method, path string, dest any) error {
	req, err := c.newRequest(ctx, method, path)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return decodeAPIError(path, resp)
	}
	if dest == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(dest); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string) (*http.Request, error) {
	reqURL := c.baseURL.ResolveReference(&url.URL{Path: path})
	req, err := http.NewRequestWithContext(ctx, method, reqURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func decodeAPIError(path string, resp *http.Response) error {
	apiErr := &APIError{Path: path, StatusCode: resp.StatusCode}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return apiErr
	}
	var payload errorPayload
	if err := json.Unmarshal(body, &payload); err == nil {
		apiErr.Code = strings.TrimSpace(payload.Code)
		apiErr.Message = strings.TrimSpace(payload.Message)
		if apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(payload.Error)
		}
		if apiErr.Code == "" && payload.Error == codeNoSession {
			apiErr.Code = codeNoSession
		}
		return apiErr
	}
	apiErr.Message = string(body)
	return apiErr
}

func parseBaseURL(apiBase string) (*url.URL, error) {
	trimmed := strings.TrimSpace(apiBase)
	if trimmed == "" {
		trimmed = defaultAPIBase
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "http://" + trimmed
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse api_base %q: %w", apiBase, err)
	}
	u.Path = ""
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}
