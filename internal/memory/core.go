// Package memory implements the core memory blocks, the daily summary log
// and the archival fact store on top of the durable store.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/user/keepsake/internal/types"
)

// Manager performs versioned edits on the fixed set of core memory blocks.
// Every edit pushes the previous content onto the block's history so one
// rollback undoes exactly one edit.
type Manager struct {
	store types.MemoryStore
	now   func() time.Time
}

// NewManager creates a Manager backed by store.
func NewManager(store types.MemoryStore) *Manager {
	return &Manager{store: store, now: time.Now}
}

func checkBlock(bt types.BlockType, actor types.Actor) error {
	if !bt.Valid() {
		return fmt.Errorf("%w: unknown block type %q", types.ErrValidation, bt)
	}
	if bt == types.BlockSystemInstructions && !actor.Privileged() {
		return fmt.Errorf("%w: %s is read-only for %s", types.ErrPermission, bt, actor)
	}
	return nil
}

// Read returns the block's current content and version.
func (m *Manager) Read(ctx context.Context, bt types.BlockType) (*types.CoreMemoryBlock, error) {
	if !bt.Valid() {
		return nil, fmt.Errorf("%w: unknown block type %q", types.ErrValidation, bt)
	}
	return m.store.GetBlock(ctx, bt)
}

// List returns every block in render order.
func (m *Manager) List(ctx context.Context) ([]*types.CoreMemoryBlock, error) {
	return m.store.ListBlocks(ctx)
}

// Append adds text after the current content, separated by a blank line.
func (m *Manager) Append(ctx context.Context, bt types.BlockType, text string, actor types.Actor) (*types.CoreMemoryBlock, error) {
	if err := checkBlock(bt, actor); err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: nothing to append", types.ErrValidation)
	}
	return m.edit(ctx, bt, actor, "append", func(cur string) string {
		if strings.TrimSpace(cur) == "" {
			return text
		}
		return strings.TrimSpace(cur + "\n\n" + text)
	})
}

// Update replaces the block's content wholesale.
func (m *Manager) Update(ctx context.Context, bt types.BlockType, text string, actor types.Actor) (*types.CoreMemoryBlock, error) {
	if err := checkBlock(bt, actor); err != nil {
		return nil, err
	}
	return m.edit(ctx, bt, actor, "update", func(string) string { return text })
}

func (m *Manager) edit(ctx context.Context, bt types.BlockType, actor types.Actor, op string, next func(string) string) (*types.CoreMemoryBlock, error) {
	cur, err := m.store.GetBlock(ctx, bt)
	if err != nil {
		return nil, err
	}
	b, err := m.store.SwapBlock(ctx, bt, cur.Revision, next(cur.Content), m.now())
	if err != nil {
		return nil, err
	}
	slog.Info("core memory edited", "block", bt, "op", op, "actor", actor, "version", b.Version)
	return b, nil
}

// Rollback restores the content the block had before its most recent edit.
// It fails with types.ErrNotFound when there is nothing to roll back.
func (m *Manager) Rollback(ctx context.Context, bt types.BlockType, actor types.Actor) (*types.CoreMemoryBlock, error) {
	if err := checkBlock(bt, actor); err != nil {
		return nil, err
	}
	cur, err := m.store.GetBlock(ctx, bt)
	if err != nil {
		return nil, err
	}
	b, err := m.store.PopBlock(ctx, bt, cur.Revision, m.now())
	if err != nil {
		return nil, err
	}
	slog.Info("core memory rolled back", "block", bt, "actor", actor, "version", b.Version)
	return b, nil
}

// History lists previous versions of a block, newest first.
func (m *Manager) History(ctx context.Context, bt types.BlockType, limit int) ([]*types.HistoryEntry, error) {
	if !bt.Valid() {
		return nil, fmt.Errorf("%w: unknown block type %q", types.ErrValidation, bt)
	}
	return m.store.History(ctx, bt, limit)
}
