// internal/state/facts.go
package state

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/user/keepsake/internal/types"
)

func (s *DB) InsertFact(ctx context.Context, content, category string, at time.Time) (*types.ArchivalFact, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, s.q(`
		INSERT INTO archival_facts (content, category, created_at) VALUES (?, ?, ?)
		RETURNING id`),
		content, nullString(category), toMillis(at),
	).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("insert fact: %w", err)
	}
	return &types.ArchivalFact{ID: id, Content: content, Category: category, CreatedAt: at.UTC()}, nil
}

// SearchFacts matches query case-insensitively against content or category,
// optionally restricted to one category, newest first.
func (s *DB) SearchFacts(ctx context.Context, query, category string, limit int) ([]*types.ArchivalFact, error) {
	pattern := likePattern(query)
	where := `(LOWER(content) LIKE ? ESCAPE '\' OR LOWER(COALESCE(category, '')) LIKE ? ESCAPE '\')`
	args := []any{pattern, pattern}
	if category != "" {
		where += ` AND LOWER(category) = ?`
		args = append(args, strings.ToLower(category))
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT id, content, category, created_at FROM archival_facts
		WHERE `+where+`
		ORDER BY created_at DESC, id DESC
		LIMIT ?`), args...)
	if err != nil {
		return nil, fmt.Errorf("search facts: %w", err)
	}
	defer rows.Close()

	var out []*types.ArchivalFact
	for rows.Next() {
		var (
			f         types.ArchivalFact
			cat       sql.NullString
			createdAt int64
		)
		if err := rows.Scan(&f.ID, &f.Content, &cat, &createdAt); err != nil {
			return nil, fmt.Errorf("scan fact: %w", err)
		}
		f.Category = cat.String
		f.CreatedAt = fromMillis(createdAt)
		out = append(out, &f)
	}
	return out, rows.Err()
}
