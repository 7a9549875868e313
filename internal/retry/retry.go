// Package retry provides exponential backoff for operations against
// infrastructure that may still be starting, such as the database.
package retry

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"
)

// Policy controls how a failed operation is retried with exponential backoff.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	// Retryable overrides Transient as the error classifier.
	Retryable func(error) bool
	// Hint returns a delay requested by the failed operation itself. A hint
	// longer than the computed backoff wins, still capped at MaxDelay.
	Hint func(error) time.Duration
}

// DefaultPolicy returns 5 attempts, 500ms initial delay, 2x multiplier and
// a 10s cap.
func DefaultPolicy() *Policy {
	return &Policy{
		MaxAttempts:  5,
		InitialDelay: 500 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     10 * time.Second,
	}
}

// ShouldRetry returns true if the error is transient and attempt has not
// exceeded MaxAttempts.
func (p *Policy) ShouldRetry(err error, attempt int) bool {
	if attempt >= p.MaxAttempts {
		return false
	}
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return Transient(err)
}

// Transient classifies errors by message. Connection and timeout failures
// are transient; authentication, missing-database and validation failures
// are permanent. Unknown errors are treated as transient.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	msg := strings.ToLower(err.Error())

	for _, s := range []string{"connection refused", "connection reset", "timeout", "temporary failure", "no such host", "database is locked"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	for _, s := range []string{"invalid", "authentication failed", "password", "does not exist", "unauthorized", "forbidden", "unknown driver"} {
		if strings.Contains(msg, s) {
			return false
		}
	}
	return true
}

// NextDelay returns the backoff for the given 1-indexed attempt:
// InitialDelay * Multiplier^(attempt-1), capped at MaxDelay.
func (p *Policy) NextDelay(attempt int) time.Duration {
	delay := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

// Do runs fn until it succeeds, fails permanently, runs out of attempts or
// ctx is done. It returns the last error seen.
func (p *Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !p.ShouldRetry(err, attempt) {
			return err
		}
		select {
		case <-ctx.Done():
			return lastErr
		case <-time.After(p.delay(err, attempt)):
		}
	}
	return lastErr
}

func (p *Policy) delay(err error, attempt int) time.Duration {
	d := p.NextDelay(attempt)
	if p.Hint != nil {
		if h := p.Hint(err); h > d {
			d = min(h, p.MaxDelay)
		}
	}
	return d
}
