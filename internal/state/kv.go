// internal/state/kv.go
package state

import (
	"context"
	"fmt"
	"time"
)

// GetState returns the value stored under key, or types.ErrNotFound.
func (s *DB) GetState(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, s.q(`SELECT value FROM agent_state WHERE state_key = ?`), key).Scan(&value)
	if err != nil {
		return "", notFound("state "+key, err)
	}
	return value, nil
}

func (s *DB) PutState(ctx context.Context, key, value string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO agent_state (state_key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (state_key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`),
		key, value, toMillis(at),
	)
	if err != nil {
		return fmt.Errorf("put state %s: %w", key, err)
	}
	return nil
}
