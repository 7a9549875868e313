// internal/state/messages_test.go
package state

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/keepsake/internal/types"
)

func msg(role types.Role, content string, at time.Time) *types.Message {
	return &types.Message{Role: role, Content: content, CreatedAt: at}
}

func TestAppendMessagesAssignsIdx(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	first := []*types.Message{msg(types.RoleUser, "hi", time.Time{}), msg(types.RoleAssistant, "hello", time.Time{})}
	require.NoError(t, db.AppendMessages(ctx, "main", first))
	assert.EqualValues(t, 1, first[0].Idx)
	assert.EqualValues(t, 2, first[1].Idx)
	assert.Equal(t, testNow, first[0].CreatedAt)

	second := []*types.Message{msg(types.RoleUser, "again", time.Time{})}
	require.NoError(t, db.AppendMessages(ctx, "main", second))
	assert.EqualValues(t, 3, second[0].Idx)

	other := []*types.Message{msg(types.RoleUser, "elsewhere", time.Time{})}
	require.NoError(t, db.AppendMessages(ctx, "side", other))
	assert.EqualValues(t, 1, other[0].Idx)
}

func TestAppendMessagesValidates(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	err := db.AppendMessages(ctx, "", []*types.Message{msg(types.RoleUser, "x", time.Time{})})
	assert.ErrorIs(t, err, types.ErrValidation)

	err = db.AppendMessages(ctx, "main", []*types.Message{msg("system", "x", time.Time{})})
	assert.ErrorIs(t, err, types.ErrValidation)

	n, err := db.CountMessages(ctx, "main")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestConcurrentAppendIsGapFree(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	const writers, perWriter = 8, 5
	var wg sync.WaitGroup
	errs := make(chan error, writers*perWriter)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				m := msg(types.RoleUser, fmt.Sprintf("w%d-%d", w, i), time.Time{})
				errs <- db.AppendMessages(ctx, "main", []*types.Message{m})
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	all, err := db.LastMessages(ctx, "main", 1000)
	require.NoError(t, err)
	require.Len(t, all, writers*perWriter)
	idx := make([]int, len(all))
	for i, m := range all {
		idx[i] = int(m.Idx)
	}
	sort.Ints(idx)
	for i, v := range idx {
		assert.Equal(t, i+1, v)
	}
}

func TestWindowQueriesExcludeToolRows(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	yesterday := testNow.Add(-24 * time.Hour)
	require.NoError(t, db.AppendMessages(ctx, "main", []*types.Message{
		msg(types.RoleUser, "old question", yesterday),
		msg(types.RoleTool, "old tool output", yesterday),
		msg(types.RoleAssistant, "old answer", yesterday),
		msg(types.RoleUser, "new question", testNow),
		msg(types.RoleTool, "new tool output", testNow),
		msg(types.RoleAssistant, "new answer", testNow),
	}))

	last, err := db.LastMessages(ctx, "main", 3)
	require.NoError(t, err)
	require.Len(t, last, 3)
	assert.Equal(t, "old answer", last[0].Content)
	assert.Equal(t, "new answer", last[2].Content)

	midnight := time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC)
	n, err := db.CountSince(ctx, "main", midnight)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	since, err := db.MessagesSince(ctx, "main", midnight)
	require.NoError(t, err)
	require.Len(t, since, 2)
	assert.Less(t, since[0].Idx, since[1].Idx)

	total, err := db.CountMessages(ctx, "main")
	require.NoError(t, err)
	assert.EqualValues(t, 6, total)

	all, err := db.MessageRange(ctx, "main", 4, 6)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, types.RoleTool, all[1].Role)
}

func TestMetadataRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	m := msg(types.RoleUser, "hi", time.Time{})
	m.Metadata = map[string]any{types.MetaChannel: "telegram", types.MetaUserID: "telegram:42"}
	require.NoError(t, db.AppendMessages(ctx, "main", []*types.Message{m}))

	got, err := db.RecentMessages(ctx, "main", 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "telegram", got[0].Metadata[types.MetaChannel])
}

func TestSearchMessages(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.AppendMessages(ctx, "main", []*types.Message{
		msg(types.RoleUser, "I adopted a cat named Miso", testNow.Add(-2*time.Hour)),
		msg(types.RoleTool, "Miso tool row", testNow.Add(-time.Hour)),
		msg(types.RoleAssistant, "Miso is a lovely name", testNow),
		msg(types.RoleUser, "100% sure", testNow),
	}))

	hits, err := db.SearchMessages(ctx, "miso", "", 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, types.RoleAssistant, hits[0].Role)

	hits, err = db.SearchMessages(ctx, "0%", "main", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)

	hits, err = db.SearchMessages(ctx, "miso", "side", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}
