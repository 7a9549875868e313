// internal/state/lease.go
package state

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/user/keepsake/internal/types"
)

// Lease is a named claim recorded in the leases table. Every process using
// the store sees it, so it serialises work across the daemon and one-off
// CLI commands. The holder renews it in the background; if the holder dies
// the lease lapses after the TTL.
type Lease struct {
	db    *DB
	name  string
	owner string

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// TryLease claims name unless a live lease already holds it. Leases are not
// reentrant: a second claim from the same process fails too.
func (s *DB) TryLease(ctx context.Context, name string) (types.Lease, bool, error) {
	owner := uuid.NewString()
	now := time.Now()
	res, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO leases (name, owner, expires_at) VALUES (?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET owner = excluded.owner, expires_at = excluded.expires_at
		WHERE leases.expires_at < ?`),
		name, owner, toMillis(now.Add(s.leaseTTL)), toMillis(now),
	)
	if err != nil {
		return nil, false, fmt.Errorf("claim lease %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("claim lease %s: %w", name, err)
	}
	if n == 0 {
		return nil, false, nil
	}

	l := &Lease{db: s, name: name, owner: owner, stop: make(chan struct{}), done: make(chan struct{})}
	go l.renew()
	return l, true, nil
}

// AcquireLease polls until name can be claimed or ctx ends.
func (s *DB) AcquireLease(ctx context.Context, name string) (types.Lease, error) {
	for {
		l, ok, err := s.TryLease(ctx, name)
		if err != nil {
			return nil, err
		}
		if ok {
			return l, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("wait for lease %s: %w", name, ctx.Err())
		case <-time.After(s.leasePoll):
		}
	}
}

func (l *Lease) renew() {
	defer close(l.done)
	ticker := time.NewTicker(l.db.leaseTTL / 3)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_, err := l.db.db.ExecContext(ctx, l.db.q(`UPDATE leases SET expires_at = ? WHERE name = ? AND owner = ?`),
				toMillis(time.Now().Add(l.db.leaseTTL)), l.name, l.owner)
			cancel()
			if err != nil {
				slog.Warn("lease renewal failed", "lease", l.name, "error", err)
			}
		}
	}
}

// Release stops renewal and drops the lease. Only the first call has any
// effect.
func (l *Lease) Release(ctx context.Context) error {
	var err error
	l.once.Do(func() {
		close(l.stop)
		<-l.done
		if _, e := l.db.db.ExecContext(ctx, l.db.q(`DELETE FROM leases WHERE name = ? AND owner = ?`), l.name, l.owner); e != nil {
			err = fmt.Errorf("release lease %s: %w", l.name, e)
		}
	})
	return err
}
