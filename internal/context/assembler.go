// internal/context/assembler.go
package context

import (
	"context"
	"fmt"
	"time"

	"github.com/user/keepsake/internal/types"
	"github.com/user/keepsake/pkg/llm"
)

// perMessageOverhead approximates the role and framing tokens each chat
// message costs on top of its content.
const perMessageOverhead = 4

// Options tunes window selection and the token budget.
type Options struct {
	RecentMessages int
	TokenBudget    int
	SummaryDays    int
	Location       *time.Location
}

// Assembler computes the bounded window and memory preamble for a turn.
type Assembler struct {
	messages  types.MessageStore
	memory    types.MemoryStore
	summaries types.SummaryStore
	counter   Counter
	opts      Options
}

// New creates an Assembler. A nil counter falls back to HeuristicCounter.
func New(messages types.MessageStore, memory types.MemoryStore, summaries types.SummaryStore, counter Counter, opts Options) *Assembler {
	if counter == nil {
		counter = HeuristicCounter{}
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.SummaryDays <= 0 {
		opts.SummaryDays = 7
	}
	return &Assembler{
		messages:  messages,
		memory:    memory,
		summaries: summaries,
		counter:   counter,
		opts:      opts,
	}
}

// Request describes one turn to assemble.
type Request struct {
	Thread types.ThreadID
	Now    time.Time
	Tools  []llm.Tool
	// Input is the pending user text. It is counted against the budget but
	// not included in the window.
	Input string
}

// Context is the assembled input for one reasoning invocation.
type Context struct {
	Now      time.Time
	Midnight time.Time
	Preamble string
	Window   []*types.Message
	Tokens   int
}

// Messages converts the context into chat messages, preamble first.
func (c *Context) Messages() []llm.Message {
	out := make([]llm.Message, 0, len(c.Window)+1)
	out = append(out, llm.Message{Role: "system", Content: c.Preamble})
	for _, m := range c.Window {
		out = append(out, llm.Message{Role: string(m.Role), Content: m.Content})
	}
	return out
}

// Midnight returns the start of t's day in loc.
func Midnight(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	y, m, d := local.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// Window selects the messages for a turn: every message since local
// midnight when there are at least RecentMessages of them, otherwise the
// RecentMessages most recent overall. Tool rows never count.
func (a *Assembler) Window(ctx context.Context, thread types.ThreadID, now time.Time) ([]*types.Message, error) {
	midnight := Midnight(now, a.opts.Location)
	today, err := a.messages.CountSince(ctx, thread, midnight)
	if err != nil {
		return nil, fmt.Errorf("count today's messages: %w", err)
	}
	if today >= a.opts.RecentMessages {
		return a.messages.MessagesSince(ctx, thread, midnight)
	}
	return a.messages.LastMessages(ctx, thread, a.opts.RecentMessages)
}

// Preamble renders the system message for now.
func (a *Assembler) Preamble(ctx context.Context, now time.Time, tools []llm.Tool) (string, error) {
	blocks, err := a.memory.ListBlocks(ctx)
	if err != nil {
		return "", fmt.Errorf("load core memory: %w", err)
	}

	local := now.In(a.opts.Location)
	from := local.AddDate(0, 0, -a.opts.SummaryDays).Format(types.DateLayout)
	to := local.Format(types.DateLayout)
	summaries, err := a.summaries.TrailingSummaries(ctx, from, to, a.opts.SummaryDays)
	if err != nil {
		return "", fmt.Errorf("load daily summaries: %w", err)
	}

	lines := make([]ToolLine, 0, len(tools))
	for _, t := range tools {
		lines = append(lines, ToolLine{Name: t.Function.Name, Summary: Summarize(t.Function.Description)})
	}
	preamble, err := renderPreamble(local, lines, blocks, summaries)
	if err != nil {
		return "", fmt.Errorf("render preamble: %w", err)
	}
	return preamble, nil
}

// Assemble builds the full context for req. If the result exceeds the token
// budget, messages from before local midnight are dropped oldest first;
// when today's messages alone do not fit, types.ErrOverflow is returned.
func (a *Assembler) Assemble(ctx context.Context, req Request) (*Context, error) {
	now := req.Now
	if now.IsZero() {
		now = time.Now()
	}

	window, err := a.Window(ctx, req.Thread, now)
	if err != nil {
		return nil, err
	}
	preamble, err := a.Preamble(ctx, now, req.Tools)
	if err != nil {
		return nil, err
	}

	c := &Context{
		Now:      now.In(a.opts.Location),
		Midnight: Midnight(now, a.opts.Location),
		Preamble: preamble,
		Window:   window,
	}

	fixed := a.counter.Count(preamble) + perMessageOverhead
	if req.Input != "" {
		fixed += a.counter.Count(req.Input) + perMessageOverhead
	}
	sizes := make([]int, len(window))
	total := fixed
	for i, m := range window {
		sizes[i] = a.counter.Count(m.Content) + perMessageOverhead
		total += sizes[i]
	}

	if a.opts.TokenBudget > 0 && total > a.opts.TokenBudget {
		drop := 0
		for drop < len(window) && total > a.opts.TokenBudget && window[drop].CreatedAt.Before(c.Midnight) {
			total -= sizes[drop]
			drop++
		}
		if total > a.opts.TokenBudget {
			return nil, fmt.Errorf("%w: today's context needs %d tokens, budget is %d",
				types.ErrOverflow, total, a.opts.TokenBudget)
		}
		c.Window = window[drop:]
	}
	c.Tokens = total
	return c, nil
}
