package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	ctxengine "github.com/user/keepsake/internal/context"
	"github.com/user/keepsake/internal/episodic"
	"github.com/user/keepsake/internal/eventstream"
	"github.com/user/keepsake/internal/gateway"
	"github.com/user/keepsake/internal/types"
)

// ActivityRecorder records the instant of an interactive turn and answers
// whether the user has been active recently.
type ActivityRecorder interface {
	Touch(ctx context.Context, at time.Time) error
	Within(ctx context.Context, now time.Time, window time.Duration) (bool, error)
}

// RetainQueue accepts persisted exchanges for background retention.
type RetainQueue interface {
	Enqueue(ex episodic.Exchange) bool
}

// Runtime is the turn processor. Every turn is rebuilt from the durable
// store: assemble the window and preamble, invoke the reasoner, persist the
// exchange in one transaction, then update the activity signal and hand
// the exchange to episodic memory without waiting.
type Runtime struct {
	assembler *ctxengine.Assembler
	reasoner  Reasoner
	messages  types.MessageStore
	activity  ActivityRecorder
	retain    RetainQueue
	events    eventstream.Publisher
	loc       *time.Location
	now       func() time.Time
}

// Option configures a Runtime.
type Option func(*Runtime)

func WithActivity(a ActivityRecorder) Option {
	return func(rt *Runtime) { rt.activity = a }
}

func WithRetainQueue(q RetainQueue) Option {
	return func(rt *Runtime) { rt.retain = q }
}

func WithPublisher(p eventstream.Publisher) Option {
	return func(rt *Runtime) { rt.events = p }
}

// WithLocation sets the agent timezone used for the input time prefix.
func WithLocation(loc *time.Location) Option {
	return func(rt *Runtime) { rt.loc = loc }
}

func WithClock(now func() time.Time) Option {
	return func(rt *Runtime) { rt.now = now }
}

// New creates a Runtime with the given dependencies.
func New(assembler *ctxengine.Assembler, reasoner Reasoner, messages types.MessageStore, opts ...Option) *Runtime {
	rt := &Runtime{
		assembler: assembler,
		reasoner:  reasoner,
		messages:  messages,
		events:    eventstream.Nop{},
		loc:       time.UTC,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

var _ gateway.Processor = (*Runtime)(nil)

// ProcessRun executes one queued run. This is the gateway's processor.
func (rt *Runtime) ProcessRun(ctx context.Context, run *gateway.Run) (*types.TurnResult, error) {
	return rt.Process(ctx, run.ID, run.Turn)
}

// Process runs a single turn end to end.
func (rt *Runtime) Process(ctx context.Context, runID types.RunID, turn *types.Turn) (*types.TurnResult, error) {
	if turn.Thread == "" {
		turn.Thread = types.PrimaryThread
	}
	if turn.Channel == "" {
		turn.Channel = types.ChannelLocal
	}
	now := rt.now()

	if turn.SkipIfActive > 0 && rt.activity != nil {
		active, err := rt.activity.Within(ctx, now, turn.SkipIfActive)
		if err != nil {
			return nil, fmt.Errorf("read activity signal: %w", err)
		}
		if active {
			slog.Info("turn skipped, user recently active", "run_id", runID, "thread_id", turn.Thread, "window", turn.SkipIfActive)
			return &types.TurnResult{RunID: runID, Thread: turn.Thread, Skipped: true}, nil
		}
	}
	// Interactive turns count as activity from the moment they start, so a
	// heartbeat queued behind one sees it.
	rt.touch(ctx, turn, arrival(turn, now))

	input := fmt.Sprintf("[%s]\n%s", ctxengine.FormatTime(now.In(rt.loc)), turn.Text)

	assembled, err := rt.assembler.Assemble(ctx, ctxengine.Request{
		Thread: turn.Thread,
		Now:    now,
		Tools:  rt.reasoner.Tools(),
		Input:  input,
	})
	if err != nil {
		return nil, fmt.Errorf("assemble context: %w", err)
	}
	slog.Debug("context assembled", "run_id", runID, "thread_id", turn.Thread, "window", len(assembled.Window), "tokens", assembled.Tokens)

	reply, err := rt.reasoner.Invoke(ctx, assembled, input)
	if err != nil {
		return nil, fmt.Errorf("invoke reasoner: %w", err)
	}

	rows := rt.rows(turn, reply)
	if err := rt.messages.AppendMessages(ctx, turn.Thread, rows); err != nil {
		return nil, fmt.Errorf("persist turn: %w", err)
	}
	res := &types.TurnResult{
		RunID:     runID,
		Thread:    turn.Thread,
		Response:  reply.Response,
		FirstIdx:  rows[0].Idx,
		LastIdx:   rows[len(rows)-1].Idx,
		ToolCalls: len(reply.Trace),

		InputTokens:  reply.Usage.InputTokens,
		OutputTokens: reply.Usage.OutputTokens,
	}
	slog.Info("turn persisted", "run_id", runID, "thread_id", turn.Thread, "channel", turn.Channel,
		"first_idx", res.FirstIdx, "last_idx", res.LastIdx, "tool_calls", res.ToolCalls,
		"input_tokens", res.InputTokens, "output_tokens", res.OutputTokens)

	rt.afterPersist(context.WithoutCancel(ctx), turn, res, now)
	return res, nil
}

// rows builds the user row, one tool row per tool call and the assistant
// row, in the order they are appended.
func (rt *Runtime) rows(turn *types.Turn, reply *Reply) []*types.Message {
	meta := map[string]any{types.MetaChannel: turn.Channel}
	if turn.DisplayName != "" {
		meta[types.MetaRoleDisplay] = turn.DisplayName
	}
	if turn.UserID != "" {
		meta[types.MetaUserID] = turn.UserID
	}
	rows := []*types.Message{{Role: types.RoleUser, Content: turn.Stored(), Metadata: meta}}

	for _, tr := range reply.Trace {
		tmeta := map[string]any{types.MetaToolName: tr.Name, "call_id": tr.CallID}
		if len(tr.Arguments) > 0 && json.Valid(tr.Arguments) {
			tmeta["arguments"] = tr.Arguments
		}
		if tr.Failed {
			tmeta["failed"] = true
		}
		rows = append(rows, &types.Message{Role: types.RoleTool, Content: tr.Result, Metadata: tmeta})
	}

	if reply.Response != "" {
		rows = append(rows, &types.Message{Role: types.RoleAssistant, Content: reply.Response})
	}
	return rows
}

// afterPersist runs the side effects that must not fail a committed turn.
func (rt *Runtime) afterPersist(ctx context.Context, turn *types.Turn, res *types.TurnResult, now time.Time) {
	rt.touch(ctx, turn, now)

	if rt.retain != nil && res.Response != "" {
		rt.retain.Enqueue(episodic.Exchange{
			ThreadID:      string(turn.Thread),
			UserText:      turn.Stored(),
			AssistantText: res.Response,
			UserID:        turn.UserID,
			Channel:       turn.Channel,
			Group:         turn.Group,
			At:            now,
		})
	}

	if err := rt.events.Publish(ctx, eventstream.NewTurnPersisted(turn, res, now)); err != nil {
		slog.Warn("failed to publish turn event", "run_id", res.RunID, "error", err)
	}
}

func (rt *Runtime) touch(ctx context.Context, turn *types.Turn, at time.Time) {
	if rt.activity == nil || !turn.Interactive() || turn.Thread != types.PrimaryThread {
		return
	}
	if err := rt.activity.Touch(ctx, at); err != nil {
		slog.Warn("failed to record activity", "error", err)
	}
}

// arrival is when the turn entered the gateway, bounded by now.
func arrival(turn *types.Turn, now time.Time) time.Time {
	if turn.ReceivedAt.IsZero() || turn.ReceivedAt.After(now) {
		return now
	}
	return turn.ReceivedAt
}
