package activity

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/keepsake/internal/state"
)

func openStore(t *testing.T) *state.DB {
	t.Helper()
	db, err := state.Open(context.Background(), "sqlite", filepath.Join(t.TempDir(), "activity.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSignalWithin(t *testing.T) {
	s := New(openStore(t))
	ctx := context.Background()
	now := time.Date(2026, 3, 12, 15, 0, 0, 0, time.UTC)

	within, err := s.Within(ctx, now, 5*time.Minute)
	require.NoError(t, err)
	assert.False(t, within, "no activity recorded yet")

	require.NoError(t, s.Touch(ctx, now.Add(-2*time.Minute)))
	within, err = s.Within(ctx, now, 5*time.Minute)
	require.NoError(t, err)
	assert.True(t, within)

	within, err = s.Within(ctx, now.Add(10*time.Minute), 5*time.Minute)
	require.NoError(t, err)
	assert.False(t, within)
}

func TestSignalSurvivesRestart(t *testing.T) {
	db := openStore(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 12, 15, 0, 0, 0, time.UTC)

	require.NoError(t, New(db).Touch(ctx, at))

	last, err := New(db).Last(ctx)
	require.NoError(t, err)
	assert.True(t, last.Equal(at))
}

func TestSignalNeverMovesBackwards(t *testing.T) {
	s := New(openStore(t))
	ctx := context.Background()
	at := time.Date(2026, 3, 12, 15, 0, 0, 0, time.UTC)

	require.NoError(t, s.Touch(ctx, at))
	require.NoError(t, s.Touch(ctx, at.Add(-time.Hour)))
	last, err := s.Last(ctx)
	require.NoError(t, err)
	assert.True(t, last.Equal(at))
}

func TestSignalSeesTouchesFromOtherHandles(t *testing.T) {
	db := openStore(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 12, 15, 0, 0, 0, time.UTC)

	daemon, cli := New(db), New(db)
	within, err := daemon.Within(ctx, at, time.Minute)
	require.NoError(t, err)
	assert.False(t, within)

	require.NoError(t, cli.Touch(ctx, at))
	within, err = daemon.Within(ctx, at.Add(30*time.Second), time.Minute)
	require.NoError(t, err)
	assert.True(t, within, "a touch from another signal must be visible")

	require.NoError(t, daemon.Touch(ctx, at.Add(-time.Hour)))
	last, err := cli.Last(ctx)
	require.NoError(t, err)
	assert.True(t, last.Equal(at), "an older touch must not overwrite a newer stored one")
}
