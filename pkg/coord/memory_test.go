package coord

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreSetGet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, ok, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "k", "v", 0))
	v, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestMemoryStoreSetNX(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	created, err := s.SetNX(ctx, "k", "first", 0)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.SetNX(ctx, "k", "second", 0)
	require.NoError(t, err)
	assert.False(t, created)

	v, _, _ := s.Get(ctx, "k")
	assert.Equal(t, "first", v)
}

func TestMemoryStoreDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.Set(ctx, "k", "v", 0))

	existed, err := s.Delete(ctx, "k")
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = s.Delete(ctx, "k")
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestMemoryStoreCounterFloor(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	n, err := s.Incr(ctx, "c", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = s.Decr(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	// Decrement below zero stays at zero.
	n, err = s.Decr(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	// Decrement of a missing counter stays at zero too.
	n, err = s.Decr(ctx, "never-set")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestMemoryStoreAppendList(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	n, err := s.Append(ctx, "log", "a", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.Append(ctx, "log", "b", 0)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	all, err := s.List(ctx, "log", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, all)

	tail, err := s.List(ctx, "log", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, tail)

	empty, err := s.List(ctx, "log", 2)
	require.NoError(t, err)
	assert.Empty(t, empty)

	length, err := s.Len(ctx, "log")
	require.NoError(t, err)
	assert.Equal(t, 2, length)
}

func TestMemoryStoreExpiry(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return now })

	require.NoError(t, s.Set(ctx, "k", "v", time.Hour))
	_, err := s.Append(ctx, "log", "a", time.Hour)
	require.NoError(t, err)

	_, ok, _ := s.Get(ctx, "k")
	assert.True(t, ok)

	now = now.Add(2 * time.Hour)

	_, ok, _ = s.Get(ctx, "k")
	assert.False(t, ok, "expected key to expire")

	length, _ := s.Len(ctx, "log")
	assert.Equal(t, 0, length, "expected list to expire")
}

func TestMemoryStoreConcurrentAppendSequencing(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	const writers = 20
	seqs := make([]int, writers)

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			n, err := s.Append(ctx, "log", "msg", 0)
			assert.NoError(t, err)
			seqs[i] = n
		}(i)
	}
	wg.Wait()

	// Every writer got a distinct, gap-free sequence number.
	seen := make(map[int]bool, writers)
	for _, n := range seqs {
		assert.False(t, seen[n], "duplicate sequence %d", n)
		seen[n] = true
	}
	for want := 1; want <= writers; want++ {
		assert.True(t, seen[want], "missing sequence %d", want)
	}
}

func TestMemoryStoreConcurrentIncr(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	const n = 100
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Incr(ctx, "c", 0)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	final, err := s.Incr(ctx, "c", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(n+1), final)
}
