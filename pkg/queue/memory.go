package queue

import (
	"context"
	"errors"
	"sync"

	"dogwalker/pkg/logx"
	"dogwalker/pkg/proto"
)

// ErrClosed indicates the queue has been shut down.
var ErrClosed = errors.New("queue closed")

// MemoryQueue is a channel-backed queue for single-process deployments and
// tests. Delivery is at-least-once within the process: a handler error
// requeues the task once before giving up.
type MemoryQueue struct {
	mu     sync.Mutex
	tasks  chan *proto.TaskSpec
	closed bool
	logger *logx.Logger
}

func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = 64
	}
	return &MemoryQueue{
		tasks:  make(chan *proto.TaskSpec, capacity),
		logger: logx.NewLogger("queue"),
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, spec *proto.TaskSpec) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.mu.Unlock()

	select {
	case q.tasks <- spec:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) Consume(ctx context.Context, handler Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case spec, ok := <-q.tasks:
			if !ok {
				return ErrClosed
			}
			if err := handler(ctx, spec); err != nil {
				q.logger.Warn("Task %s failed, requeueing once: %v", spec.TaskID, err)
				if rerr := q.redeliver(ctx, spec, handler); rerr != nil {
					q.logger.Error("Task %s dropped after redelivery: %v", spec.TaskID, rerr)
				}
			}
		}
	}
}

func (q *MemoryQueue) redeliver(ctx context.Context, spec *proto.TaskSpec, handler Handler) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	return handler(ctx, spec)
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.tasks)
	}
	return nil
}
