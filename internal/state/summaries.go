// internal/state/summaries.go
package state

import (
	"context"
	"fmt"
	"time"

	"github.com/user/keepsake/internal/types"
)

// UpsertSummary writes the summary for date, replacing any existing content.
func (s *DB) UpsertSummary(ctx context.Context, date, content string, at time.Time) (*types.DailySummary, error) {
	var (
		out                  types.DailySummary
		createdAt, updatedAt int64
	)
	err := s.db.QueryRowContext(ctx, s.q(`
		INSERT INTO daily_summaries (summary_date, content, created_at, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (summary_date) DO UPDATE SET content = excluded.content, updated_at = excluded.updated_at
		RETURNING summary_date, content, created_at, updated_at`),
		date, content, toMillis(at), toMillis(at),
	).Scan(&out.Date, &out.Content, &createdAt, &updatedAt)
	if err != nil {
		return nil, fmt.Errorf("upsert daily summary: %w", err)
	}
	out.CreatedAt = fromMillis(createdAt)
	out.UpdatedAt = fromMillis(updatedAt)
	return &out, nil
}

// TrailingSummaries returns at most limit summaries dated within
// [from, to], ascending by date.
func (s *DB) TrailingSummaries(ctx context.Context, from, to string, limit int) ([]*types.DailySummary, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT summary_date, content, created_at, updated_at FROM daily_summaries
		WHERE summary_date >= ? AND summary_date <= ?
		ORDER BY summary_date DESC
		LIMIT ?`),
		from, to, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query daily summaries: %w", err)
	}
	defer rows.Close()

	var out []*types.DailySummary
	for rows.Next() {
		var (
			d                    types.DailySummary
			createdAt, updatedAt int64
		)
		if err := rows.Scan(&d.Date, &d.Content, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan daily summary: %w", err)
		}
		d.CreatedAt = fromMillis(createdAt)
		d.UpdatedAt = fromMillis(updatedAt)
		out = append(out, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate daily summaries: %w", err)
	}
	reverse(out)
	return out, nil
}
