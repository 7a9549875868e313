package llm

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	// ErrUnauthorized means the provider rejected the credentials.
	ErrUnauthorized = errors.New("llm: unauthorized")
	// ErrRateLimited means the provider asked the caller to slow down.
	ErrRateLimited = errors.New("llm: rate limited")
)

// APIError is a non-200 reply from a provider.
type APIError struct {
	StatusCode int
	Body       string
	// RetryAfter is the provider's requested backoff, zero when absent.
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Body)
}

// Unwrap maps well-known statuses onto sentinel errors so callers can use
// errors.Is without inspecting codes.
func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	case http.StatusTooManyRequests:
		return ErrRateLimited
	}
	return nil
}

// Retryable reports whether a failed completion may succeed if sent again:
// rate limiting and server-side failures. Everything else, including
// cancellation and rejected credentials, is final.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, ErrUnauthorized) {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= http.StatusInternalServerError
	}
	return false
}

// RetryAfter returns the backoff a provider asked for, or zero.
func RetryAfter(err error) time.Duration {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.RetryAfter
	}
	return 0
}
