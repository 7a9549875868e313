package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/user/keepsake/internal/types"
)

// BlockEditor is the core memory surface the agent may use.
type BlockEditor interface {
	Append(ctx context.Context, bt types.BlockType, text string, actor types.Actor) (*types.CoreMemoryBlock, error)
	Update(ctx context.Context, bt types.BlockType, text string, actor types.Actor) (*types.CoreMemoryBlock, error)
	Rollback(ctx context.Context, bt types.BlockType, actor types.Actor) (*types.CoreMemoryBlock, error)
}

// The agent never edits as a privileged actor, so system_instructions
// stays read-only through these tools.
const agentActor = types.ActorAgent

const blockTypeSchema = `"block_type": {"type": "string", "enum": ["user", "identity", "ideaspace"], "description": "The block to edit"}`

// CoreMemoryAppend adds text to the end of a core memory block.
type CoreMemoryAppend struct{ editor BlockEditor }

func NewCoreMemoryAppend(editor BlockEditor) *CoreMemoryAppend {
	return &CoreMemoryAppend{editor: editor}
}

func (m *CoreMemoryAppend) Name() string { return "core_memory_append" }
func (m *CoreMemoryAppend) Description() string {
	return "Append new content to a core memory block. Prefer this over core_memory_update when adding information: it keeps existing content intact."
}
func (m *CoreMemoryAppend) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			` + blockTypeSchema + `,
			"addition": {"type": "string", "description": "Text to add after the existing content"}
		},
		"required": ["block_type", "addition"]
	}`)
}

func (m *CoreMemoryAppend) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var params struct {
		BlockType string `json:"block_type"`
		Addition  string `json:"addition"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", fmt.Errorf("parse args: %w", err)
	}
	b, err := m.editor.Append(ctx, types.BlockType(params.BlockType), params.Addition, agentActor)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Appended to %s (version %d).", b.Type, b.Version), nil
}

// CoreMemoryUpdate replaces a core memory block wholesale.
type CoreMemoryUpdate struct{ editor BlockEditor }

func NewCoreMemoryUpdate(editor BlockEditor) *CoreMemoryUpdate {
	return &CoreMemoryUpdate{editor: editor}
}

func (m *CoreMemoryUpdate) Name() string { return "core_memory_update" }
func (m *CoreMemoryUpdate) Description() string {
	return "Replace the entire content of a core memory block. Use only to fully rewrite or correct a block; prefer core_memory_append for additions."
}
func (m *CoreMemoryUpdate) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			` + blockTypeSchema + `,
			"content": {"type": "string", "description": "The new full content of the block"}
		},
		"required": ["block_type", "content"]
	}`)
}

func (m *CoreMemoryUpdate) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var params struct {
		BlockType string `json:"block_type"`
		Content   string `json:"content"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", fmt.Errorf("parse args: %w", err)
	}
	b, err := m.editor.Update(ctx, types.BlockType(params.BlockType), params.Content, agentActor)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Replaced %s (version %d).", b.Type, b.Version), nil
}

// CoreMemoryRollback undoes the most recent edit of a block.
type CoreMemoryRollback struct{ editor BlockEditor }

func NewCoreMemoryRollback(editor BlockEditor) *CoreMemoryRollback {
	return &CoreMemoryRollback{editor: editor}
}

func (m *CoreMemoryRollback) Name() string { return "core_memory_rollback" }
func (m *CoreMemoryRollback) Description() string {
	return "Restore a core memory block to its previous version. Use right away after an editing mistake; each call goes back one step."
}
func (m *CoreMemoryRollback) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			` + blockTypeSchema + `
		},
		"required": ["block_type"]
	}`)
}

func (m *CoreMemoryRollback) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var params struct {
		BlockType string `json:"block_type"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", fmt.Errorf("parse args: %w", err)
	}
	b, err := m.editor.Rollback(ctx, types.BlockType(params.BlockType), agentActor)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Rolled %s back to version %d.", b.Type, b.Version), nil
}
