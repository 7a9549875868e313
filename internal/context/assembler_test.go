package context

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/user/keepsake/internal/state"
	"github.com/user/keepsake/internal/types"
	"github.com/user/keepsake/pkg/llm"
)

var (
	nyc, _ = time.LoadLocation("America/New_York")
	// 3pm local on a Thursday.
	turnTime = time.Date(2026, 3, 12, 15, 0, 0, 0, nyc)
)

func openStore(t *testing.T) *state.DB {
	t.Helper()
	db, err := state.Open(context.Background(), "sqlite", filepath.Join(t.TempDir(), "ctx.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// seed appends older messages a minute apart ending yesterday afternoon, then today's
// messages a minute apart starting at 8am local.
func seed(t *testing.T, db *state.DB, older, today int) {
	t.Helper()
	var msgs []*types.Message
	for i := 0; i < older; i++ {
		at := turnTime.AddDate(0, 0, -1).Add(-time.Duration(older-i) * time.Minute)
		msgs = append(msgs, &types.Message{Role: roleFor(i), Content: fmt.Sprintf("older %d", i), CreatedAt: at})
	}
	morning := Midnight(turnTime, nyc).Add(8 * time.Hour)
	for i := 0; i < today; i++ {
		at := morning.Add(time.Duration(i) * time.Minute)
		msgs = append(msgs, &types.Message{Role: roleFor(i), Content: fmt.Sprintf("today %d", i), CreatedAt: at})
	}
	if err := db.AppendMessages(context.Background(), types.PrimaryThread, msgs); err != nil {
		t.Fatal(err)
	}
}

func roleFor(i int) types.Role {
	if i%2 == 0 {
		return types.RoleUser
	}
	return types.RoleAssistant
}

func newAssembler(db *state.DB, n, budget int) *Assembler {
	return New(db, db, db, HeuristicCounter{}, Options{RecentMessages: n, TokenBudget: budget, Location: nyc})
}

func TestWindowBusyDayKeepsAllOfToday(t *testing.T) {
	db := openStore(t)
	seed(t, db, 500, 45)

	window, err := newAssembler(db, 30, 0).Window(context.Background(), types.PrimaryThread, turnTime)
	if err != nil {
		t.Fatal(err)
	}
	if len(window) != 45 {
		t.Fatalf("expected 45 messages, got %d", len(window))
	}
	if window[0].Content != "today 0" || window[44].Content != "today 44" {
		t.Errorf("unexpected bounds %q .. %q", window[0].Content, window[44].Content)
	}
	for i := 1; i < len(window); i++ {
		if window[i].Idx <= window[i-1].Idx {
			t.Fatalf("window not ascending at %d", i)
		}
	}
}

func TestWindowQuietDayUsesFloor(t *testing.T) {
	db := openStore(t)
	seed(t, db, 500, 3)

	window, err := newAssembler(db, 30, 0).Window(context.Background(), types.PrimaryThread, turnTime)
	if err != nil {
		t.Fatal(err)
	}
	if len(window) != 30 {
		t.Fatalf("expected 30 messages, got %d", len(window))
	}
	if window[0].Content != "older 473" {
		t.Errorf("expected window to start at older 473, got %q", window[0].Content)
	}
	if window[29].Content != "today 2" {
		t.Errorf("expected window to end at today 2, got %q", window[29].Content)
	}
}

func TestWindowShortHistory(t *testing.T) {
	db := openStore(t)
	seed(t, db, 4, 1)

	window, err := newAssembler(db, 30, 0).Window(context.Background(), types.PrimaryThread, turnTime)
	if err != nil {
		t.Fatal(err)
	}
	if len(window) != 5 {
		t.Fatalf("expected 5 messages, got %d", len(window))
	}
}

func TestWindowIgnoresToolRows(t *testing.T) {
	db := openStore(t)
	ctx := context.Background()
	morning := Midnight(turnTime, nyc).Add(9 * time.Hour)
	err := db.AppendMessages(ctx, types.PrimaryThread, []*types.Message{
		{Role: types.RoleUser, Content: "what's the weather", CreatedAt: morning},
		{Role: types.RoleTool, Content: `{"temp": 12}`, CreatedAt: morning},
		{Role: types.RoleTool, Content: `{"wind": 3}`, CreatedAt: morning},
		{Role: types.RoleAssistant, Content: "cool and calm", CreatedAt: morning},
	})
	if err != nil {
		t.Fatal(err)
	}

	window, err := newAssembler(db, 2, 0).Window(ctx, types.PrimaryThread, turnTime)
	if err != nil {
		t.Fatal(err)
	}
	if len(window) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(window))
	}
	for _, m := range window {
		if m.Role == types.RoleTool {
			t.Error("tool row leaked into window")
		}
	}
}

func TestPreambleOrder(t *testing.T) {
	db := openStore(t)
	ctx := context.Background()

	if _, err := db.SwapBlock(ctx, types.BlockSystemInstructions, 1, "Be kind.", turnTime); err != nil {
		t.Fatal(err)
	}
	if _, err := db.SwapBlock(ctx, types.BlockUser, 1, "Name: Sam", turnTime); err != nil {
		t.Fatal(err)
	}
	for _, d := range []string{"2026-03-11", "2026-03-02", "2026-03-09"} {
		if _, err := db.UpsertSummary(ctx, d, "notes for "+d, turnTime); err != nil {
			t.Fatal(err)
		}
	}

	tools := []llm.Tool{{Type: "function", Function: llm.Function{
		Name:        "archival_store",
		Description: "Store a fact in archival memory. Use for durable details.",
	}}}
	preamble, err := newAssembler(db, 30, 0).Preamble(ctx, turnTime, tools)
	if err != nil {
		t.Fatal(err)
	}

	order := []string{
		"It is currently: Thursday, March 12, 2026 at 03:00 PM EDT",
		"- **archival_store**: Store a fact in archival memory.",
		"Be kind.",
		"## User\nName: Sam",
		"## Identity\n(empty)",
		"## Ideaspace\n(empty)",
		"**2026-03-09**",
		"**2026-03-11**",
	}
	last := -1
	for _, want := range order {
		i := strings.Index(preamble, want)
		if i < 0 {
			t.Fatalf("preamble missing %q:\n%s", want, preamble)
		}
		if i < last {
			t.Errorf("%q out of order", want)
		}
		last = i
	}
	if strings.Contains(preamble, "2026-03-02") {
		t.Error("summary outside the trailing window was included")
	}
	if strings.Contains(preamble, "durable details") {
		t.Error("manifest should keep only the first sentence")
	}
}

func TestPreambleOmitsEmptySystemInstructions(t *testing.T) {
	db := openStore(t)
	preamble, err := newAssembler(db, 30, 0).Preamble(context.Background(), turnTime, nil)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(preamble, "System Instructions") {
		t.Error("empty system instructions should be omitted")
	}
	if strings.Contains(preamble, "Recent Days") {
		t.Error("summary section should be omitted when there are none")
	}
}

func TestAssembleTrimsOlderMessagesOverBudget(t *testing.T) {
	db := openStore(t)
	seed(t, db, 20, 2)
	a := newAssembler(db, 10, 0)
	ctx := context.Background()

	full, err := a.Assemble(ctx, Request{Thread: types.PrimaryThread, Now: turnTime})
	if err != nil {
		t.Fatal(err)
	}
	if len(full.Window) != 10 {
		t.Fatalf("expected 10 messages, got %d", len(full.Window))
	}

	// Leave room for the preamble and four short messages.
	a.opts.TokenBudget = full.Tokens - 6*(HeuristicCounter{}.Count("older 10")+perMessageOverhead)
	trimmed, err := a.Assemble(ctx, Request{Thread: types.PrimaryThread, Now: turnTime})
	if err != nil {
		t.Fatal(err)
	}
	if len(trimmed.Window) != 4 {
		t.Fatalf("expected 4 messages after trimming, got %d", len(trimmed.Window))
	}
	if trimmed.Window[3].Content != "today 1" {
		t.Errorf("newest message should survive, got %q", trimmed.Window[3].Content)
	}
	if trimmed.Tokens > a.opts.TokenBudget {
		t.Errorf("tokens %d exceed budget %d", trimmed.Tokens, a.opts.TokenBudget)
	}
}

func TestAssembleOverflowWhenTodayDoesNotFit(t *testing.T) {
	db := openStore(t)
	seed(t, db, 0, 5)
	a := newAssembler(db, 30, 50)

	_, err := a.Assemble(context.Background(), Request{Thread: types.PrimaryThread, Now: turnTime})
	if !errors.Is(err, types.ErrOverflow) {
		t.Fatalf("expected ErrOverflow, got %v", err)
	}
}

func TestMessagesStartWithPreamble(t *testing.T) {
	c := &Context{
		Preamble: "system text",
		Window:   []*types.Message{{Role: types.RoleUser, Content: "hi"}},
	}
	msgs := c.Messages()
	if len(msgs) != 2 || msgs[0].Role != "system" || msgs[1].Content != "hi" {
		t.Errorf("unexpected messages: %+v", msgs)
	}
}

func TestSummarize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Append text to a block. Safer than update.", "Append text to a block."},
		{"\n\n  Search facts\nmore", "Search facts"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Summarize(tt.in); got != tt.want {
			t.Errorf("Summarize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
