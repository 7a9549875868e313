// Package eventstream publishes notifications about persisted turns so
// other systems can follow the conversation without polling the store.
package eventstream

import (
	"context"
	"time"

	"github.com/user/keepsake/internal/types"
)

const (
	// TypeTurnPersisted is emitted after a turn's rows are committed.
	TypeTurnPersisted = "keepsake.turn.persisted"
	SchemaVersion     = 1
)

// TurnPersisted describes one committed exchange.
type TurnPersisted struct {
	SchemaVersion int            `json:"schema_version"`
	ID            types.EventID  `json:"event_id"`
	Type          string         `json:"type"`
	RunID         types.RunID    `json:"run_id"`
	Thread        types.ThreadID `json:"thread_id"`
	FirstIdx      int64          `json:"first_idx"`
	LastIdx       int64          `json:"last_idx"`
	Channel       string         `json:"channel"`
	UserID        string         `json:"user_id,omitempty"`
	UserText      string         `json:"user_text"`
	AssistantText string         `json:"assistant_text"`
	ToolCalls     int            `json:"tool_calls"`
	InputTokens   int            `json:"input_tokens,omitempty"`
	OutputTokens  int            `json:"output_tokens,omitempty"`
	At            time.Time      `json:"at"`
}

// NewTurnPersisted builds the event for res.
func NewTurnPersisted(turn *types.Turn, res *types.TurnResult, at time.Time) *TurnPersisted {
	return &TurnPersisted{
		SchemaVersion: SchemaVersion,
		ID:            types.NewEventID(),
		Type:          TypeTurnPersisted,
		RunID:         res.RunID,
		Thread:        res.Thread,
		FirstIdx:      res.FirstIdx,
		LastIdx:       res.LastIdx,
		Channel:       turn.Channel,
		UserID:        turn.UserID,
		UserText:      turn.Stored(),
		AssistantText: res.Response,
		ToolCalls:     res.ToolCalls,
		InputTokens:   res.InputTokens,
		OutputTokens:  res.OutputTokens,
		At:            at,
	}
}

// Publisher delivers events. Implementations must be safe for concurrent
// use.
type Publisher interface {
	Publish(ctx context.Context, ev *TurnPersisted) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, *TurnPersisted) error { return nil }
func (Nop) Close() error                                  { return nil }
