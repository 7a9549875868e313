package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPolicyBackoff(t *testing.T) {
	policy := &Policy{MaxAttempts: 4, InitialDelay: time.Second, Multiplier: 2, MaxDelay: 30 * time.Second}

	if !policy.ShouldRetry(errors.New("dial tcp: connection refused"), 1) {
		t.Error("expected connection error to be retryable")
	}
	if policy.ShouldRetry(errors.New("connection refused"), 4) {
		t.Error("should not retry after max attempts")
	}

	for attempt, want := range map[int]time.Duration{1: time.Second, 2: 2 * time.Second, 3: 4 * time.Second} {
		if got := policy.NextDelay(attempt); got != want {
			t.Errorf("attempt %d: expected %v, got %v", attempt, want, got)
		}
	}
}

func TestTransientClassification(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{context.Canceled, false},
		{errors.New("i/o timeout"), true},
		{errors.New("database is locked"), true},
		{errors.New(`password authentication failed for user "keepsake"`), false},
		{errors.New(`database "keepsake" does not exist`), false},
		{errors.New("something odd"), true},
	}
	for _, tt := range tests {
		if got := Transient(tt.err); got != tt.want {
			t.Errorf("Transient(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestPolicyMaxDelayCap(t *testing.T) {
	policy := &Policy{MaxAttempts: 10, InitialDelay: time.Second, Multiplier: 10, MaxDelay: 30 * time.Second}
	if delay := policy.NextDelay(5); delay != policy.MaxDelay {
		t.Errorf("expected delay capped at %v, got %v", policy.MaxDelay, delay)
	}
}

func TestPolicyDoSucceedsAfterTransientFailures(t *testing.T) {
	policy := &Policy{MaxAttempts: 5, InitialDelay: time.Millisecond, Multiplier: 1, MaxDelay: time.Millisecond}
	calls := 0

	err := policy.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("temporary failure")
		}
		return nil
	})
	if err != nil {
		t.Errorf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestPolicyDoStopsOnPermanentError(t *testing.T) {
	policy := DefaultPolicy()
	calls := 0

	err := policy.Do(context.Background(), func(context.Context) error {
		calls++
		return errors.New("invalid dsn")
	})
	if err == nil {
		t.Error("expected error for permanent failure")
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestPolicyDoExhaustsAttempts(t *testing.T) {
	policy := &Policy{MaxAttempts: 2, InitialDelay: time.Millisecond, Multiplier: 1, MaxDelay: 10 * time.Millisecond}
	calls := 0

	err := policy.Do(context.Background(), func(context.Context) error {
		calls++
		return errors.New("timeout")
	})
	if err == nil {
		t.Error("expected error after all attempts exhausted")
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
}

func TestPolicyDoHonoursContext(t *testing.T) {
	policy := &Policy{MaxAttempts: 10, InitialDelay: time.Hour, Multiplier: 1, MaxDelay: time.Hour}
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	err := policy.Do(ctx, func(context.Context) error {
		calls++
		cancel()
		return errors.New("connection refused")
	})
	if err == nil {
		t.Error("expected the last error to be returned")
	}
	if calls != 1 {
		t.Errorf("expected 1 call before cancellation, got %d", calls)
	}
}

func TestPolicyCustomClassifierAndHint(t *testing.T) {
	errBusy := errors.New("busy")
	policy := &Policy{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		Multiplier:   1,
		MaxDelay:     50 * time.Millisecond,
		Retryable:    func(err error) bool { return errors.Is(err, errBusy) },
		Hint:         func(error) time.Duration { return time.Hour },
	}

	if policy.ShouldRetry(errors.New("connection refused"), 1) {
		t.Error("custom classifier should replace the transient heuristics")
	}
	if got := policy.delay(errBusy, 1); got != 50*time.Millisecond {
		t.Errorf("hint should be capped at MaxDelay, got %v", got)
	}

	calls := 0
	err := policy.Do(context.Background(), func(context.Context) error {
		calls++
		return errBusy
	})
	if !errors.Is(err, errBusy) || calls != 3 {
		t.Errorf("expected 3 attempts ending in errBusy, got %d %v", calls, err)
	}
}
