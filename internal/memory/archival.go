package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/user/keepsake/internal/types"
)

const (
	defaultFactLimit = 20
	maxFactLimit     = 50
)

// Archival is the append-only store of curated long-term facts. Lookup is a
// plain keyword match; semantic recall belongs to the episodic gateway.
type Archival struct {
	store types.FactStore
	now   func() time.Time
}

func NewArchival(store types.FactStore) *Archival {
	return &Archival{store: store, now: time.Now}
}

// Store appends a fact. Content and category are trimmed; empty content is
// rejected.
func (a *Archival) Store(ctx context.Context, content, category string) (*types.ArchivalFact, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("%w: fact content is empty", types.ErrValidation)
	}
	return a.store.InsertFact(ctx, content, strings.TrimSpace(category), a.now())
}

// Query matches query case-insensitively against content or category,
// newest first. limit is clamped to 1..50 and defaults to 20. A blank query
// with no category matches nothing.
func (a *Archival) Query(ctx context.Context, query, category string, limit int) ([]*types.ArchivalFact, error) {
	query = strings.TrimSpace(query)
	category = strings.TrimSpace(category)
	if query == "" && category == "" {
		return nil, nil
	}
	switch {
	case limit <= 0:
		limit = defaultFactLimit
	case limit > maxFactLimit:
		limit = maxFactLimit
	}
	return a.store.SearchFacts(ctx, query, category, limit)
}
