// Package activity tracks when the user last interacted with the agent.
package activity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/user/keepsake/internal/types"
)

// StateKey is the agent_state row holding the last interactive turn.
const StateKey = "activity.last_interactive"

// Signal records the instant of the last interactive turn. It is written by
// the turn processor and read by the heartbeat. The value lives in the state
// store so a restart, or a second process sharing the database, sees the
// same signal; the in-memory copy only keeps it from moving backwards.
type Signal struct {
	store types.StateStore

	mu   sync.Mutex
	last time.Time
}

func New(store types.StateStore) *Signal {
	return &Signal{store: store}
}

// Touch records at as the latest interactive turn. Earlier instants never
// move the signal backwards, including ones written by other processes.
func (s *Signal) Touch(ctx context.Context, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	latest, err := s.load(ctx)
	if err != nil {
		return err
	}
	if !at.After(latest) {
		return nil
	}
	if err := s.store.PutState(ctx, StateKey, strconv.FormatInt(at.UnixMilli(), 10), at); err != nil {
		return fmt.Errorf("persist activity signal: %w", err)
	}
	s.last = at
	return nil
}

// Last returns the latest interactive turn, or the zero time if none has
// been recorded.
func (s *Signal) Last(ctx context.Context) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx)
}

// load merges the stored value into s.last. Callers hold s.mu.
func (s *Signal) load(ctx context.Context) (time.Time, error) {
	raw, err := s.store.GetState(ctx, StateKey)
	if errors.Is(err, types.ErrNotFound) {
		return s.last, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("load activity signal: %w", err)
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		slog.Warn("ignoring unreadable activity signal", "value", raw)
		return s.last, nil
	}
	if stored := time.UnixMilli(ms); stored.After(s.last) {
		s.last = stored
	}
	return s.last, nil
}

// Within reports whether the last interactive turn happened less than
// window before now.
func (s *Signal) Within(ctx context.Context, now time.Time, window time.Duration) (bool, error) {
	last, err := s.Last(ctx)
	if err != nil {
		return false, err
	}
	if last.IsZero() {
		return false, nil
	}
	return now.Sub(last) < window, nil
}
