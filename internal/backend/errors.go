package backend

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNoSession reports that the backend has no session for the caller.
	// It is the expected first-run condition, not a failure.
	ErrNoSession = errors.New("no session")
	// ErrRateLimited reports that the backend asked the caller to back off.
	ErrRateLimited = errors.New("rate limited")
)

const (
	codeNoSession   = "no_session"
	codeRateLimited = "rate_limited"
)

// APIError describes a non-2xx response from the backend.
type APIError struct {
	Path       string
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("api %s returned status %d", e.Path, e.StatusCode)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// Unwrap maps the response onto ErrNoSession or ErrRateLimited so callers can
// match with errors.Is.
func (e *APIError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusTooManyRequests || e.Code == codeRateLimited:
		return ErrRateLimited
	case e.StatusCode == http.StatusNotFound || e.Code == codeNoSession:
		return ErrNoSession
	}
	return nil
}

// Class is the error taxonomy the reconcilers act on.
type Class int

const (
	// Transient covers network errors, timeouts, 5xx and anything unknown.
	Transient Class = iota
	// ExpectedAbsence means no session exists yet.
	ExpectedAbsence
	// RateLimited means the caller must back off hard.
	RateLimited
)

func (c Class) String() string {
	switch c {
	case ExpectedAbsence:
		return "expected_absence"
	case RateLimited:
		return "rate_limited"
	default:
		return "transient"
	}
}

// Classify sorts a failure into the taxonomy.
func Classify(err error) Class {
	switch {
	case errors.Is(err, ErrRateLimited):
		return RateLimited
	case errors.Is(err, ErrNoSession):
		return ExpectedAbsence
	default:
		return Transient
	}
}
