package cancel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dogwalker/pkg/coord"
)

func TestCheckUnflagged(t *testing.T) {
	c := NewController(coord.NewMemoryStore(), 0)

	info, flagged, err := c.Check(context.Background(), "task-1")
	require.NoError(t, err)
	assert.False(t, flagged)
	assert.Nil(t, info)
}

func TestRequestAndCheck(t *testing.T) {
	c := NewController(coord.NewMemoryStore(), 0)
	ctx := context.Background()

	require.NoError(t, c.RequestCancel(ctx, "task-1", "U123", "alice"))

	info, flagged, err := c.Check(ctx, "task-1")
	require.NoError(t, err)
	require.True(t, flagged)
	assert.Equal(t, "alice", info.CancelledBy)
	assert.Equal(t, "U123", info.CancelledByID)
	assert.WithinDuration(t, time.Now().UTC(), info.Timestamp, 5*time.Second)
}

func TestFlagScopedToTask(t *testing.T) {
	c := NewController(coord.NewMemoryStore(), 0)
	ctx := context.Background()

	require.NoError(t, c.RequestCancel(ctx, "task-1", "U123", "alice"))

	_, flagged, err := c.Check(ctx, "task-2")
	require.NoError(t, err)
	assert.False(t, flagged)
}

func TestClear(t *testing.T) {
	c := NewController(coord.NewMemoryStore(), 0)
	ctx := context.Background()

	require.NoError(t, c.RequestCancel(ctx, "task-1", "U123", "alice"))
	require.NoError(t, c.Clear(ctx, "task-1"))

	_, flagged, err := c.Check(ctx, "task-1")
	require.NoError(t, err)
	assert.False(t, flagged)

	// Clearing an unflagged task is a no-op.
	require.NoError(t, c.Clear(ctx, "task-1"))
}

func TestFlagExpiresAfterConfiguredTTL(t *testing.T) {
	store := coord.NewMemoryStore()
	c := NewController(store, 10*time.Minute)
	ctx := context.Background()

	base := time.Now()
	store.SetClock(func() time.Time { return base })

	require.NoError(t, c.RequestCancel(ctx, "task-1", "U123", "alice"))

	_, flagged, err := c.Check(ctx, "task-1")
	require.NoError(t, err)
	require.True(t, flagged)

	store.SetClock(func() time.Time { return base.Add(11 * time.Minute) })

	_, flagged, err = c.Check(ctx, "task-1")
	require.NoError(t, err)
	assert.False(t, flagged)
}

func TestCorruptFlagStillCancels(t *testing.T) {
	store := coord.NewMemoryStore()
	c := NewController(store, 0)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "cancel:task-1", "{not json", time.Hour))

	info, flagged, err := c.Check(ctx, "task-1")
	require.NoError(t, err)
	require.True(t, flagged)
	assert.Equal(t, "unknown", info.CancelledBy)
}
