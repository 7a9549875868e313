package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/user/keepsake/internal/types"
)

// Summaries is the one-row-per-day summary log.
type Summaries struct {
	store types.SummaryStore
	loc   *time.Location
	now   func() time.Time
}

func NewSummaries(store types.SummaryStore, loc *time.Location) *Summaries {
	if loc == nil {
		loc = time.UTC
	}
	return &Summaries{store: store, loc: loc, now: time.Now}
}

// Write stores content as the summary for date (YYYY-MM-DD), replacing any
// earlier summary for that date.
func (s *Summaries) Write(ctx context.Context, date, content string) (*types.DailySummary, error) {
	date = strings.TrimSpace(date)
	if _, err := time.Parse(types.DateLayout, date); err != nil {
		return nil, fmt.Errorf("%w: date must be YYYY-MM-DD, got %q", types.ErrValidation, date)
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("%w: summary is empty", types.ErrValidation)
	}
	return s.store.UpsertSummary(ctx, date, content, s.now())
}

// Trailing returns the summaries dated within the n days before asOf plus
// asOf itself, at most n rows, ascending. Missing days are simply absent.
func (s *Summaries) Trailing(ctx context.Context, n int, asOf time.Time) ([]*types.DailySummary, error) {
	if n <= 0 {
		n = 7
	}
	local := asOf.In(s.loc)
	from := local.AddDate(0, 0, -n).Format(types.DateLayout)
	to := local.Format(types.DateLayout)
	return s.store.TrailingSummaries(ctx, from, to, n)
}

// Today returns the current date in the configured location.
func (s *Summaries) Today() string {
	return s.now().In(s.loc).Format(types.DateLayout)
}
