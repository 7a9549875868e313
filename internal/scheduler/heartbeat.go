package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/user/keepsake/internal/types"
)

// HeartbeatOK is the reply meaning the heartbeat had nothing to report.
const HeartbeatOK = "HEARTBEAT_OK"

// heartbeatMarker is stored in place of the prompt after the first
// heartbeat of a day.
const heartbeatMarker = "HEARTBEAT"

// lastHeartbeatKey holds the local date of the most recent heartbeat.
const lastHeartbeatKey = "heartbeat.last_date"

const DefaultHeartbeatPrompt = `You were woken by the heartbeat. This is your time to be yourself apart from the user. You have FULL AUTONOMY. Be proactive. You can:
1. Work on something for yourself. Log what you work on.
2. Wonder about something, ask questions, research something you are curious about.
3. Reflect on your memories. Use hindsight_recall and hindsight_reflect to review what you have done, learned or noted.
4. Reach out to the user if you find anything noteworthy to tell them.
5. Make another entry in your reflection journal using archival_store with category "reflection_journal".
6. Write today's daily summary with daily_summary_write if the day has been eventful.

If you have nothing to report or share this round, reply HEARTBEAT_OK.`

// ActivityReader answers whether the user was active recently.
type ActivityReader interface {
	Within(ctx context.Context, now time.Time, window time.Duration) (bool, error)
}

// Heartbeat runs autonomous turns on the primary thread, unless the user
// was active within the skip window.
type Heartbeat struct {
	runner     TurnRunner
	activity   ActivityReader
	state      types.StateStore
	notifier   Notifier
	skipWindow time.Duration
	prompt     string
	loc        *time.Location
	now        func() time.Time
}

// HeartbeatConfig configures a Heartbeat.
type HeartbeatConfig struct {
	SkipWindow time.Duration
	// PromptPath optionally points to a file replacing DefaultHeartbeatPrompt.
	PromptPath string
	Location   *time.Location
	Notifier   Notifier
}

func NewHeartbeat(runner TurnRunner, activity ActivityReader, state types.StateStore, cfg HeartbeatConfig) *Heartbeat {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Heartbeat{
		runner:     runner,
		activity:   activity,
		state:      state,
		notifier:   cfg.Notifier,
		skipWindow: cfg.SkipWindow,
		prompt:     LoadHeartbeatPrompt(cfg.PromptPath),
		loc:        loc,
		now:        time.Now,
	}
}

// LoadHeartbeatPrompt reads a custom prompt from path, falling back to
// DefaultHeartbeatPrompt when path is empty or unreadable.
func LoadHeartbeatPrompt(path string) string {
	if path == "" {
		return DefaultHeartbeatPrompt
	}
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Warn("heartbeat prompt unreadable, using default", "path", path, "error", err)
		return DefaultHeartbeatPrompt
	}
	content := strings.TrimSpace(strings.TrimPrefix(string(data), "\ufeff"))
	if content == "" {
		return DefaultHeartbeatPrompt
	}
	return content
}

// HeartbeatOutcome describes one heartbeat cycle.
type HeartbeatOutcome struct {
	Skipped   bool
	Reason    string
	Response  string
	Delivered bool
}

// Run performs one cycle. A skipped cycle has no side effects.
func (h *Heartbeat) Run(ctx context.Context) (*HeartbeatOutcome, error) {
	now := h.now()
	active, err := h.activity.Within(ctx, now, h.skipWindow)
	if err != nil {
		return nil, fmt.Errorf("read activity signal: %w", err)
	}
	if active {
		slog.Info("heartbeat skipped, user recently active", "skip_window", h.skipWindow)
		return &HeartbeatOutcome{Skipped: true, Reason: "user_recently_active"}, nil
	}

	today := now.In(h.loc).Format(types.DateLayout)
	last, err := h.state.GetState(ctx, lastHeartbeatKey)
	if err != nil && !errors.Is(err, types.ErrNotFound) {
		return nil, fmt.Errorf("read heartbeat state: %w", err)
	}

	turn := &types.Turn{
		Thread:      types.PrimaryThread,
		Text:        h.prompt,
		DisplayName: "heartbeat",
		Channel:     types.ChannelInternal,
		UserID:      "agent:heartbeat",
		// The gate is checked again once the turn reaches the front of the
		// thread's lane, in case a user turn arrived while it waited.
		SkipIfActive: h.skipWindow,
	}
	if last == today {
		turn.StoredText = heartbeatMarker
	}

	res, err := h.runner.Handle(ctx, turn)
	if err != nil {
		return nil, fmt.Errorf("heartbeat turn: %w", err)
	}
	if res.Skipped {
		slog.Info("heartbeat skipped in lane, user became active", "skip_window", h.skipWindow)
		return &HeartbeatOutcome{Skipped: true, Reason: "user_recently_active"}, nil
	}
	if err := h.state.PutState(ctx, lastHeartbeatKey, today, now); err != nil {
		slog.Warn("failed to record heartbeat date", "error", err)
	}

	out := &HeartbeatOutcome{Response: strings.TrimSpace(res.Response)}
	if out.Response != "" && out.Response != HeartbeatOK && h.notifier != nil {
		if err := h.notifier.Notify(ctx, out.Response); err != nil {
			slog.Warn("heartbeat delivery failed", "error", err)
		} else {
			out.Delivered = true
		}
	}
	slog.Info("heartbeat completed", "delivered", out.Delivered, "ok", out.Response == HeartbeatOK)
	return out, nil
}
