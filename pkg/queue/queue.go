// Package queue delivers task specs from the listener to workers with
// at-least-once semantics. Workers ack after the task reaches a terminal
// phase; an unacked task is redelivered and restarted from the beginning.
package queue

import (
	"context"

	"dogwalker/pkg/proto"
)

// Handler processes one delivered task. A nil return acks the delivery; an
// error nacks it for redelivery.
type Handler func(ctx context.Context, spec *proto.TaskSpec) error

// TaskQueue is the dispatch channel between listener and workers.
type TaskQueue interface {
	// Enqueue submits a task for execution.
	Enqueue(ctx context.Context, spec *proto.TaskSpec) error

	// Consume blocks delivering tasks to the handler until ctx is done.
	Consume(ctx context.Context, handler Handler) error

	// Close releases queue resources.
	Close() error
}
