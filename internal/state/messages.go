// internal/state/messages.go
package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/user/keepsake/internal/types"
)

const messageColumns = `thread_id, idx, role, content, metadata, created_at`

// AppendMessages allocates len(msgs) consecutive indices from the thread's
// sequence row and inserts every message in the same transaction. The
// sequence upsert holds the row lock until commit, so concurrent writers on
// one thread never observe the same base.
func (s *DB) AppendMessages(ctx context.Context, thread types.ThreadID, msgs []*types.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	if thread == "" {
		return fmt.Errorf("%w: thread id is required", types.ErrValidation)
	}
	for _, m := range msgs {
		if !m.Role.Valid() {
			return fmt.Errorf("%w: invalid role %q", types.ErrValidation, m.Role)
		}
	}

	now := s.now().UTC()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var last int64
		err := tx.QueryRowContext(ctx, s.q(`
			INSERT INTO thread_sequences (thread_id, last_idx) VALUES (?, ?)
			ON CONFLICT (thread_id) DO UPDATE SET last_idx = thread_sequences.last_idx + excluded.last_idx
			RETURNING last_idx`),
			string(thread), int64(len(msgs)),
		).Scan(&last)
		if err != nil {
			return fmt.Errorf("allocate idx: %w", err)
		}
		base := last - int64(len(msgs))

		insert := s.q(`INSERT INTO messages (` + messageColumns + `) VALUES (?, ?, ?, ?, ?, ?)`)
		for i, m := range msgs {
			meta, err := encodeMetadata(m.Metadata)
			if err != nil {
				return err
			}
			createdAt := m.CreatedAt
			if createdAt.IsZero() {
				createdAt = now
			}
			idx := base + int64(i) + 1
			if _, err := tx.ExecContext(ctx, insert,
				string(thread), idx, string(m.Role), m.Content, meta, toMillis(createdAt),
			); err != nil {
				return fmt.Errorf("insert message %d: %w", idx, err)
			}
			m.ThreadID = thread
			m.Idx = idx
			m.CreatedAt = createdAt.UTC()
		}
		return nil
	})
}

// LastMessages returns the n most recent non-tool messages, ascending by idx.
func (s *DB) LastMessages(ctx context.Context, thread types.ThreadID, n int) ([]*types.Message, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT `+messageColumns+` FROM messages
		WHERE thread_id = ? AND role <> 'tool'
		ORDER BY idx DESC
		LIMIT ?`),
		string(thread), n,
	)
	if err != nil {
		return nil, fmt.Errorf("query last messages: %w", err)
	}
	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	reverse(msgs)
	return msgs, nil
}

// RecentMessages is LastMessages for read-only consumers. limit defaults to 50.
func (s *DB) RecentMessages(ctx context.Context, thread types.ThreadID, limit int) ([]*types.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.LastMessages(ctx, thread, limit)
}

// MessagesSince returns every non-tool message created at or after since,
// ascending by idx.
func (s *DB) MessagesSince(ctx context.Context, thread types.ThreadID, since time.Time) ([]*types.Message, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT `+messageColumns+` FROM messages
		WHERE thread_id = ? AND role <> 'tool' AND created_at >= ?
		ORDER BY idx ASC`),
		string(thread), toMillis(since),
	)
	if err != nil {
		return nil, fmt.Errorf("query messages since: %w", err)
	}
	return scanMessages(rows)
}

// MessageRange returns every row of a thread with first <= idx <= last,
// tool rows included, ascending by idx.
func (s *DB) MessageRange(ctx context.Context, thread types.ThreadID, first, last int64) ([]*types.Message, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT `+messageColumns+` FROM messages
		WHERE thread_id = ? AND idx >= ? AND idx <= ?
		ORDER BY idx ASC`),
		string(thread), first, last,
	)
	if err != nil {
		return nil, fmt.Errorf("query message range: %w", err)
	}
	return scanMessages(rows)
}

// CountSince counts non-tool messages created at or after since.
func (s *DB) CountSince(ctx context.Context, thread types.ThreadID, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.q(`
		SELECT COUNT(*) FROM messages
		WHERE thread_id = ? AND role <> 'tool' AND created_at >= ?`),
		string(thread), toMillis(since),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count messages since: %w", err)
	}
	return n, nil
}

// CountMessages counts every row of a thread, tool rows included.
func (s *DB) CountMessages(ctx context.Context, thread types.ThreadID) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM messages WHERE thread_id = ?`), string(thread)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

// SearchMessages does a case-insensitive substring match over user and
// assistant rows, newest first. An empty thread searches every thread.
func (s *DB) SearchMessages(ctx context.Context, query string, thread types.ThreadID, limit int) ([]*types.Message, error) {
	if limit <= 0 {
		limit = 10
	}
	args := []any{likePattern(query)}
	where := `LOWER(content) LIKE ? ESCAPE '\' AND role IN ('user', 'assistant')`
	if thread != "" {
		where += ` AND thread_id = ?`
		args = append(args, string(thread))
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT `+messageColumns+` FROM messages
		WHERE `+where+`
		ORDER BY created_at DESC, idx DESC
		LIMIT ?`), args...)
	if err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}
	return scanMessages(rows)
}

func scanMessages(rows *sql.Rows) ([]*types.Message, error) {
	defer rows.Close()
	var out []*types.Message
	for rows.Next() {
		var (
			m         types.Message
			thread    string
			role      string
			meta      string
			createdAt int64
		)
		if err := rows.Scan(&thread, &m.Idx, &role, &m.Content, &meta, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.ThreadID = types.ThreadID(thread)
		m.Role = types.Role(role)
		m.Metadata = decodeMetadata(meta)
		m.CreatedAt = fromMillis(createdAt)
		out = append(out, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return out, nil
}

func reverse[T any](s []T) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
