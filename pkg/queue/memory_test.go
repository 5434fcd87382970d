package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dogwalker/pkg/proto"
)

func spec(id string) *proto.TaskSpec {
	return &proto.TaskSpec{
		MsgID:           "m-" + id,
		TaskID:          id,
		TaskDescription: "do something",
		BranchName:      "dogwalker/rex/" + id,
		DogName:         "rex",
		ThreadTS:        "1700000000.000100",
		ChannelID:       "C123",
		StartTime:       time.Now().UTC(),
	}
}

func TestMemoryQueueDelivers(t *testing.T) {
	q := NewMemoryQueue(4)
	defer q.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var got []string
	done := make(chan struct{})

	go func() {
		_ = q.Consume(ctx, func(_ context.Context, s *proto.TaskSpec) error {
			mu.Lock()
			got = append(got, s.TaskID)
			if len(got) == 2 {
				close(done)
			}
			mu.Unlock()
			return nil
		})
	}()

	require.NoError(t, q.Enqueue(ctx, spec("task-1")))
	require.NoError(t, q.Enqueue(ctx, spec("task-2")))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("tasks not delivered")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"task-1", "task-2"}, got)
}

func TestMemoryQueueRedeliversOnce(t *testing.T) {
	q := NewMemoryQueue(4)
	defer q.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	attempts := 0
	done := make(chan struct{})

	go func() {
		_ = q.Consume(ctx, func(_ context.Context, _ *proto.TaskSpec) error {
			mu.Lock()
			attempts++
			n := attempts
			mu.Unlock()
			if n == 1 {
				return errors.New("transient")
			}
			close(done)
			return nil
		})
	}()

	require.NoError(t, q.Enqueue(ctx, spec("task-1")))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task not redelivered")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, attempts)
}

func TestMemoryQueueEnqueueAfterClose(t *testing.T) {
	q := NewMemoryQueue(1)
	require.NoError(t, q.Close())

	err := q.Enqueue(context.Background(), spec("task-1"))
	assert.ErrorIs(t, err, ErrClosed)
}
