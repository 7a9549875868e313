// internal/types/models.go
package types

import (
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleTool:
		return true
	}
	return false
}

// Message is one immutable row of a thread. Idx and CreatedAt are assigned
// by the store when the message is appended.
type Message struct {
	ThreadID  ThreadID       `json:"thread_id"`
	Idx       int64          `json:"idx"`
	Role      Role           `json:"role"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Metadata keys written on user rows.
const (
	MetaRoleDisplay = "role_display"
	MetaChannel     = "channel"
	MetaUserID      = "user_id"
	MetaToolName    = "tool"
)

type BlockType string

const (
	BlockSystemInstructions BlockType = "system_instructions"
	BlockUser               BlockType = "user"
	BlockIdentity           BlockType = "identity"
	BlockIdeaspace          BlockType = "ideaspace"
)

// BlockOrder is the fixed order blocks are bootstrapped and rendered in.
var BlockOrder = []BlockType{BlockSystemInstructions, BlockUser, BlockIdentity, BlockIdeaspace}

func (b BlockType) Valid() bool {
	for _, bt := range BlockOrder {
		if b == bt {
			return true
		}
	}
	return false
}

// Label is the heading used when the block is rendered into a prompt.
func (b BlockType) Label() string {
	switch b {
	case BlockSystemInstructions:
		return "System Instructions"
	case BlockUser:
		return "User"
	case BlockIdentity:
		return "Identity"
	case BlockIdeaspace:
		return "Ideaspace"
	}
	return string(b)
}

type CoreMemoryBlock struct {
	Type    BlockType `json:"block_type"`
	Content string    `json:"content"`
	Version int64     `json:"version"`
	// Revision increases on every write, rollbacks included. Concurrent
	// edits are checked against it.
	Revision  int64     `json:"revision"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HistoryEntry holds the content a block had before one mutation.
type HistoryEntry struct {
	ID        int64     `json:"id"`
	Type      BlockType `json:"block_type"`
	Content   string    `json:"content"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Actor identifies who is mutating core memory.
type Actor string

const (
	ActorAgent  Actor = "agent"
	ActorUser   Actor = "user"
	ActorSystem Actor = "system"
)

// Privileged reports whether the actor may edit system_instructions.
func (a Actor) Privileged() bool {
	return a == ActorUser || a == ActorSystem
}

// DateLayout is the storage format for calendar dates.
const DateLayout = "2006-01-02"

type DailySummary struct {
	Date      string    `json:"summary_date"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type ArchivalFact struct {
	ID        int64     `json:"id"`
	Content   string    `json:"content"`
	Category  string    `json:"category,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type JobStatus string

const (
	JobActive JobStatus = "active"
	JobPaused JobStatus = "paused"
)

type JobRunStatus string

const (
	JobRunSuccess JobRunStatus = "success"
	JobRunError   JobRunStatus = "error"
	JobRunSkipped JobRunStatus = "skipped"
)

// CronJob is a scheduled instruction replayed into the primary thread.
// Recurring jobs use ScheduleDays (0=Monday .. 6=Sunday) and ScheduleTime;
// one-time jobs use RunDate and ScheduleTime.
type CronJob struct {
	ID            JobID        `json:"id"`
	Name          string       `json:"name"`
	Description   string       `json:"description,omitempty"`
	Instructions  string       `json:"instructions"`
	Timezone      string       `json:"timezone"`
	ScheduleDays  []int        `json:"schedule_days,omitempty"`
	ScheduleTime  string       `json:"schedule_time"`
	RunDate       string       `json:"run_date,omitempty"`
	IsOneTime     bool         `json:"is_one_time"`
	Status        JobStatus    `json:"status"`
	CreatedBy     Actor        `json:"created_by"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
	LastRunAt     *time.Time   `json:"last_run_at,omitempty"`
	LastRunStatus JobRunStatus `json:"last_run_status,omitempty"`
	LastRunError  string       `json:"last_run_error,omitempty"`
	RunCount      int64        `json:"run_count"`
}

// JobPatch carries the fields of a partial job update. Nil fields are left
// untouched.
type JobPatch struct {
	Name         *string    `json:"name,omitempty"`
	Description  *string    `json:"description,omitempty"`
	Instructions *string    `json:"instructions,omitempty"`
	Timezone     *string    `json:"timezone,omitempty"`
	ScheduleDays []int      `json:"schedule_days,omitempty"`
	ScheduleTime *string    `json:"schedule_time,omitempty"`
	RunDate      *string    `json:"run_date,omitempty"`
	Status       *JobStatus `json:"status,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p *JobPatch) Empty() bool {
	return p.Name == nil && p.Description == nil && p.Instructions == nil &&
		p.Timezone == nil && p.ScheduleDays == nil && p.ScheduleTime == nil &&
		p.RunDate == nil && p.Status == nil
}

// Channels a turn can arrive from. Turns on ChannelInternal are autonomous
// and never count as user activity.
const (
	ChannelInternal = "internal"
	ChannelTelegram = "telegram"
	ChannelLocal    = "local"
	ChannelHTTP     = "http"
)

// Turn is one request to the orchestrator: text arriving on a thread.
type Turn struct {
	Thread ThreadID `json:"thread_id"`
	// Text is what the reasoning engine receives.
	Text string `json:"text"`
	// StoredText, when set, is persisted as the user row instead of Text.
	StoredText  string    `json:"stored_text,omitempty"`
	DisplayName string    `json:"display_name,omitempty"`
	Channel     string    `json:"channel"`
	UserID      string    `json:"user_id,omitempty"`
	Group       bool      `json:"group,omitempty"`
	ReceivedAt  time.Time `json:"received_at"`
	// SkipIfActive, when positive, drops the turn without side effects if
	// the user was active within that window by the time it is processed.
	SkipIfActive time.Duration `json:"-"`
}

// Stored returns the text persisted as the user row.
func (t *Turn) Stored() string {
	if t.StoredText != "" {
		return t.StoredText
	}
	return t.Text
}

// Interactive reports whether the turn came from a person.
func (t *Turn) Interactive() bool {
	return t.Channel != ChannelInternal
}

// TurnResult is the persisted outcome of a turn.
type TurnResult struct {
	RunID        RunID    `json:"run_id"`
	Thread       ThreadID `json:"thread_id"`
	Response     string   `json:"response"`
	FirstIdx     int64    `json:"first_idx"`
	LastIdx      int64    `json:"last_idx"`
	ToolCalls    int      `json:"tool_calls"`
	InputTokens  int      `json:"input_tokens,omitempty"`
	OutputTokens int      `json:"output_tokens,omitempty"`
	// Skipped is set when the turn was dropped by its SkipIfActive gate.
	Skipped bool `json:"skipped,omitempty"`
}
