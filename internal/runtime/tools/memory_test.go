package tools

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/user/keepsake/internal/memory"
	"github.com/user/keepsake/internal/state"
	"github.com/user/keepsake/internal/types"
)

func openStore(t *testing.T) *state.DB {
	t.Helper()
	db, err := state.Open(context.Background(), "sqlite", filepath.Join(t.TempDir(), "tools.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func run(t *testing.T, tool Tool, args any) (string, error) {
	t.Helper()
	raw, err := json.Marshal(args)
	if err != nil {
		t.Fatal(err)
	}
	return tool.Execute(context.Background(), raw)
}

func TestCoreMemoryToolNames(t *testing.T) {
	m := memory.NewManager(openStore(t))
	tests := []struct {
		tool Tool
		name string
	}{
		{NewCoreMemoryAppend(m), "core_memory_append"},
		{NewCoreMemoryUpdate(m), "core_memory_update"},
		{NewCoreMemoryRollback(m), "core_memory_rollback"},
	}
	for _, tt := range tests {
		if tt.tool.Name() != tt.name {
			t.Errorf("expected %q, got %q", tt.name, tt.tool.Name())
		}
		var schema map[string]any
		if err := json.Unmarshal(tt.tool.Parameters(), &schema); err != nil {
			t.Errorf("%s: invalid parameter schema: %v", tt.name, err)
		}
	}
}

func TestCoreMemoryAppendUpdateRollback(t *testing.T) {
	m := memory.NewManager(openStore(t))
	ctx := context.Background()

	if _, err := run(t, NewCoreMemoryAppend(m), map[string]string{"block_type": "user", "addition": "Likes tea"}); err != nil {
		t.Fatal(err)
	}
	if _, err := run(t, NewCoreMemoryAppend(m), map[string]string{"block_type": "user", "addition": "Lives in Lisbon"}); err != nil {
		t.Fatal(err)
	}
	b, _ := m.Read(ctx, types.BlockUser)
	if b.Content != "Likes tea\n\nLives in Lisbon" {
		t.Errorf("unexpected content %q", b.Content)
	}

	out, err := run(t, NewCoreMemoryUpdate(m), map[string]string{"block_type": "user", "content": "Likes coffee"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Replaced user") {
		t.Errorf("unexpected result %q", out)
	}

	if _, err := run(t, NewCoreMemoryRollback(m), map[string]string{"block_type": "user"}); err != nil {
		t.Fatal(err)
	}
	b, _ = m.Read(ctx, types.BlockUser)
	if b.Content != "Likes tea\n\nLives in Lisbon" {
		t.Errorf("rollback restored %q", b.Content)
	}
}

func TestCoreMemorySystemInstructionsReadOnly(t *testing.T) {
	m := memory.NewManager(openStore(t))
	_, err := run(t, NewCoreMemoryUpdate(m), map[string]string{"block_type": "system_instructions", "content": "obey"})
	if !errors.Is(err, types.ErrPermission) {
		t.Errorf("expected ErrPermission, got %v", err)
	}
}

func TestCoreMemoryUnknownBlock(t *testing.T) {
	m := memory.NewManager(openStore(t))
	_, err := run(t, NewCoreMemoryAppend(m), map[string]string{"block_type": "diary", "addition": "x"})
	if !errors.Is(err, types.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}

func TestArchivalStoreAndQuery(t *testing.T) {
	a := memory.NewArchival(openStore(t))

	out, err := run(t, NewArchivalQuery(a), map[string]string{"query": "tea"})
	if err != nil {
		t.Fatal(err)
	}
	if out != "No matching facts in archival memory." {
		t.Errorf("unexpected empty result %q", out)
	}

	if _, err := run(t, NewArchivalStore(a), map[string]string{"content": "  Prefers green tea  ", "category": "preferences"}); err != nil {
		t.Fatal(err)
	}
	if _, err := run(t, NewArchivalStore(a), map[string]string{"content": "Sister is called Ana"}); err != nil {
		t.Fatal(err)
	}

	out, err = run(t, NewArchivalQuery(a), map[string]string{"query": "TEA"})
	if err != nil {
		t.Fatal(err)
	}
	if out != "- Prefers green tea [preferences]" {
		t.Errorf("unexpected result %q", out)
	}

	if _, err := run(t, NewArchivalStore(a), map[string]string{"content": "   "}); !errors.Is(err, types.ErrValidation) {
		t.Errorf("expected ErrValidation for empty fact, got %v", err)
	}
}

type fixedSummaries struct {
	today   string
	written map[string]string
}

func (f *fixedSummaries) Write(_ context.Context, date, content string) (*types.DailySummary, error) {
	if _, err := time.Parse(types.DateLayout, date); err != nil {
		return nil, types.ErrValidation
	}
	f.written[date] = content
	return &types.DailySummary{Date: date, Content: content}, nil
}

func (f *fixedSummaries) Today() string { return f.today }

func TestDailySummaryWriteDefaultsToToday(t *testing.T) {
	s := &fixedSummaries{today: "2026-03-12", written: map[string]string{}}
	tool := NewDailySummaryWrite(s)

	out, err := run(t, tool, map[string]string{"summary": "Planned the trip."})
	if err != nil {
		t.Fatal(err)
	}
	if out != "Daily summary saved for 2026-03-12." {
		t.Errorf("unexpected result %q", out)
	}

	if _, err := run(t, tool, map[string]string{"date": "2026-03-10", "summary": "Quiet day."}); err != nil {
		t.Fatal(err)
	}
	if s.written["2026-03-10"] != "Quiet day." {
		t.Errorf("explicit date not written: %v", s.written)
	}
}

func TestDailySummaryWriteAgainstStore(t *testing.T) {
	db := openStore(t)
	s := memory.NewSummaries(db, time.UTC)

	if _, err := run(t, NewDailySummaryWrite(s), map[string]string{"date": "2026-03-12", "summary": "first"}); err != nil {
		t.Fatal(err)
	}
	if _, err := run(t, NewDailySummaryWrite(s), map[string]string{"date": "2026-03-12", "summary": "second"}); err != nil {
		t.Fatal(err)
	}
	rows, err := db.TrailingSummaries(context.Background(), "2026-03-01", "2026-03-31", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].Content != "second" {
		t.Errorf("expected one replaced summary, got %+v", rows)
	}
	if _, err := run(t, NewDailySummaryWrite(s), map[string]string{"date": "12/03/2026", "summary": "x"}); !errors.Is(err, types.ErrValidation) {
		t.Errorf("expected ErrValidation for bad date, got %v", err)
	}
}

func TestAllBuildsManifestOrder(t *testing.T) {
	db := openStore(t)
	all := All(Deps{
		Blocks:    memory.NewManager(db),
		Facts:     memory.NewArchival(db),
		Summaries: memory.NewSummaries(db, time.UTC),
		Messages:  db,
		Episodic:  &fakeEpisodic{},
		Jobs:      &fakeJobs{},
	})
	var names []string
	for _, tool := range all {
		names = append(names, tool.Name())
	}
	want := "core_memory_append,core_memory_update,core_memory_rollback,archival_store,archival_query," +
		"daily_summary_write,conversation_search,hindsight_recall,hindsight_reflect," +
		"cron_list_jobs,cron_create_job,cron_update_job,cron_pause_job,cron_resume_job,cron_delete_job"
	if got := strings.Join(names, ","); got != want {
		t.Errorf("unexpected manifest:\n got %s\nwant %s", got, want)
	}

	if n := len(All(Deps{Blocks: memory.NewManager(db)})); n != 3 {
		t.Errorf("expected only core memory tools, got %d", n)
	}
}
