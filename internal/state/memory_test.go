// internal/state/memory_test.go
package state

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/keepsake/internal/types"
)

func TestSwapAndPopBlock(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	b, err := db.SwapBlock(ctx, types.BlockIdeaspace, 1, "X", testNow)
	require.NoError(t, err)
	assert.EqualValues(t, 2, b.Version)

	b, err = db.SwapBlock(ctx, types.BlockIdeaspace, 2, "X\n\nY", testNow)
	require.NoError(t, err)
	assert.EqualValues(t, 3, b.Version)

	depth, err := db.HistoryDepth(ctx, types.BlockIdeaspace)
	require.NoError(t, err)
	assert.Equal(t, 2, depth)

	b, err = db.PopBlock(ctx, types.BlockIdeaspace, 3, testNow)
	require.NoError(t, err)
	assert.Equal(t, "X", b.Content)
	assert.EqualValues(t, 2, b.Version)

	got, err := db.GetBlock(ctx, types.BlockIdeaspace)
	require.NoError(t, err)
	assert.Equal(t, "X", got.Content)

	hist, err := db.History(ctx, types.BlockIdeaspace, 0)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, "", hist[0].Content)
}

func TestSwapBlockStaleVersion(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	_, err := db.SwapBlock(ctx, types.BlockUser, 1, "a", testNow)
	require.NoError(t, err)

	_, err = db.SwapBlock(ctx, types.BlockUser, 1, "b", testNow)
	assert.ErrorIs(t, err, types.ErrConcurrency)

	got, err := db.GetBlock(ctx, types.BlockUser)
	require.NoError(t, err)
	assert.Equal(t, "a", got.Content)

	depth, err := db.HistoryDepth(ctx, types.BlockUser)
	require.NoError(t, err)
	assert.Equal(t, 1, depth)
}

func TestRollbackDoesNotReuseRevision(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	_, err := db.SwapBlock(ctx, types.BlockUser, 1, "a", testNow)
	require.NoError(t, err)
	b, err := db.SwapBlock(ctx, types.BlockUser, 2, "a\n\nb", testNow)
	require.NoError(t, err)
	assert.EqualValues(t, 3, b.Revision)

	b, err = db.PopBlock(ctx, types.BlockUser, 3, testNow)
	require.NoError(t, err)
	assert.EqualValues(t, 2, b.Version, "rollback restores the previous version")
	assert.EqualValues(t, 4, b.Revision, "rollback still advances the revision")

	// A writer that read the block at version 2 before the rollback must
	// not be able to overwrite the restored content.
	_, err = db.SwapBlock(ctx, types.BlockUser, 2, "stale", testNow)
	assert.ErrorIs(t, err, types.ErrConcurrency)

	b, err = db.SwapBlock(ctx, types.BlockUser, 4, "a\n\nc", testNow)
	require.NoError(t, err)
	assert.EqualValues(t, 3, b.Version)
	assert.EqualValues(t, 5, b.Revision)

	got, err := db.GetBlock(ctx, types.BlockUser)
	require.NoError(t, err)
	assert.Equal(t, "a\n\nc", got.Content)
	assert.EqualValues(t, 5, got.Revision)
}

func TestPopBlockEmptyHistory(t *testing.T) {
	db := newTestDB(t)
	_, err := db.PopBlock(context.Background(), types.BlockIdentity, 1, testNow)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestGetUnknownBlock(t *testing.T) {
	db := newTestDB(t)
	_, err := db.GetBlock(context.Background(), "scratchpad")
	assert.ErrorIs(t, err, types.ErrNotFound)
}
