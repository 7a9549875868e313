// internal/state/memory.go
package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/user/keepsake/internal/types"
)

// bootstrapBlocks creates every core memory block with empty content if it
// does not exist yet.
func (s *DB) bootstrapBlocks(ctx context.Context) error {
	now := toMillis(s.now())
	for _, bt := range types.BlockOrder {
		_, err := s.db.ExecContext(ctx, s.q(`
			INSERT INTO core_memory (block_type, content, version, updated_at) VALUES (?, '', 1, ?)
			ON CONFLICT (block_type) DO NOTHING`),
			string(bt), now,
		)
		if err != nil {
			return fmt.Errorf("bootstrap block %s: %w", bt, err)
		}
	}
	return nil
}

func (s *DB) GetBlock(ctx context.Context, bt types.BlockType) (*types.CoreMemoryBlock, error) {
	return getBlock(ctx, s.db, s.q, bt)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getBlock(ctx context.Context, db queryRower, q func(string) string, bt types.BlockType) (*types.CoreMemoryBlock, error) {
	var (
		b         types.CoreMemoryBlock
		updatedAt int64
	)
	err := db.QueryRowContext(ctx, q(`
		SELECT content, version, revision, updated_at FROM core_memory WHERE block_type = ?`),
		string(bt),
	).Scan(&b.Content, &b.Version, &b.Revision, &updatedAt)
	if err != nil {
		return nil, notFound("core memory block "+string(bt), err)
	}
	b.Type = bt
	b.UpdatedAt = fromMillis(updatedAt)
	return &b, nil
}

// ListBlocks returns every block in types.BlockOrder.
func (s *DB) ListBlocks(ctx context.Context) ([]*types.CoreMemoryBlock, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT block_type, content, version, revision, updated_at FROM core_memory`)
	if err != nil {
		return nil, fmt.Errorf("query core memory: %w", err)
	}
	defer rows.Close()

	var out []*types.CoreMemoryBlock
	for rows.Next() {
		var (
			b         types.CoreMemoryBlock
			bt        string
			updatedAt int64
		)
		if err := rows.Scan(&bt, &b.Content, &b.Version, &b.Revision, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan core memory: %w", err)
		}
		b.Type = types.BlockType(bt)
		b.UpdatedAt = fromMillis(updatedAt)
		out = append(out, &b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate core memory: %w", err)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return blockRank(out[i].Type) < blockRank(out[j].Type)
	})
	return out, nil
}

func blockRank(bt types.BlockType) int {
	for i, b := range types.BlockOrder {
		if b == bt {
			return i
		}
	}
	return len(types.BlockOrder)
}

// SwapBlock records the current content as a history entry and replaces it
// with content, bumping the version. It fails with types.ErrConcurrency if
// the block moved past expectRevision.
func (s *DB) SwapBlock(ctx context.Context, bt types.BlockType, expectRevision int64, content string, at time.Time) (*types.CoreMemoryBlock, error) {
	var out *types.CoreMemoryBlock
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		cur, err := getBlock(ctx, tx, s.q, bt)
		if err != nil {
			return err
		}
		if cur.Revision != expectRevision {
			return staleBlock(bt, expectRevision, cur.Revision)
		}

		if _, err := tx.ExecContext(ctx, s.q(`
			INSERT INTO core_memory_history (block_type, content, version, updated_at) VALUES (?, ?, ?, ?)`),
			string(bt), cur.Content, cur.Version, toMillis(at),
		); err != nil {
			return fmt.Errorf("push history: %w", err)
		}

		res, err := tx.ExecContext(ctx, s.q(`
			UPDATE core_memory SET content = ?, version = version + 1, revision = revision + 1, updated_at = ?
			WHERE block_type = ? AND revision = ?`),
			content, toMillis(at), string(bt), expectRevision,
		)
		if err := checkSwapped(res, err, bt, expectRevision); err != nil {
			return err
		}
		out = &types.CoreMemoryBlock{Type: bt, Content: content, Version: cur.Version + 1, Revision: expectRevision + 1, UpdatedAt: at.UTC()}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// PopBlock restores the newest history entry as current content and removes
// it from the stack. It fails with types.ErrNotFound when the history is
// empty and types.ErrConcurrency if the block moved past expectRevision.
// The restored version is the entry's; the revision still moves forward.
func (s *DB) PopBlock(ctx context.Context, bt types.BlockType, expectRevision int64, at time.Time) (*types.CoreMemoryBlock, error) {
	var out *types.CoreMemoryBlock
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		cur, err := getBlock(ctx, tx, s.q, bt)
		if err != nil {
			return err
		}
		if cur.Revision != expectRevision {
			return staleBlock(bt, expectRevision, cur.Revision)
		}

		var (
			histID  int64
			content string
			version int64
		)
		err = tx.QueryRowContext(ctx, s.q(`
			SELECT id, content, version FROM core_memory_history
			WHERE block_type = ? ORDER BY id DESC LIMIT 1`),
			string(bt),
		).Scan(&histID, &content, &version)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: no previous version of %s", types.ErrNotFound, bt)
		}
		if err != nil {
			return fmt.Errorf("load history: %w", err)
		}

		res, err := tx.ExecContext(ctx, s.q(`
			UPDATE core_memory SET content = ?, version = ?, revision = revision + 1, updated_at = ?
			WHERE block_type = ? AND revision = ?`),
			content, version, toMillis(at), string(bt), expectRevision,
		)
		if err := checkSwapped(res, err, bt, expectRevision); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM core_memory_history WHERE id = ?`), histID); err != nil {
			return fmt.Errorf("pop history: %w", err)
		}
		out = &types.CoreMemoryBlock{Type: bt, Content: content, Version: version, Revision: expectRevision + 1, UpdatedAt: at.UTC()}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// History returns up to limit history entries for a block, newest first.
func (s *DB) History(ctx context.Context, bt types.BlockType, limit int) ([]*types.HistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT id, content, version, updated_at FROM core_memory_history
		WHERE block_type = ? ORDER BY id DESC LIMIT ?`),
		string(bt), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []*types.HistoryEntry
	for rows.Next() {
		var (
			h         types.HistoryEntry
			updatedAt int64
		)
		if err := rows.Scan(&h.ID, &h.Content, &h.Version, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		h.Type = bt
		h.UpdatedAt = fromMillis(updatedAt)
		out = append(out, &h)
	}
	return out, rows.Err()
}

// HistoryDepth counts the history entries available for rollback.
func (s *DB) HistoryDepth(ctx context.Context, bt types.BlockType) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM core_memory_history WHERE block_type = ?`), string(bt)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count history: %w", err)
	}
	return n, nil
}

func staleBlock(bt types.BlockType, want, got int64) error {
	return fmt.Errorf("%w: block %s is at revision %d, expected %d", types.ErrConcurrency, bt, got, want)
}

func checkSwapped(res sql.Result, err error, bt types.BlockType, expectRevision int64) error {
	if err != nil {
		return fmt.Errorf("update block %s: %w", bt, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update block %s: %w", bt, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: block %s changed since revision %d", types.ErrConcurrency, bt, expectRevision)
	}
	return nil
}
