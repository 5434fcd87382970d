package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"dogwalker/pkg/logx"
	"dogwalker/pkg/proto"
)

const (
	// ackWait allows for long-running coding phases between checkpoints; the
	// worker calls InProgress from its heartbeat to extend it further.
	ackWait = 10 * time.Minute

	// maxDeliver bounds redelivery of a task that keeps crashing its worker.
	maxDeliver = 3

	fetchWait = 5 * time.Second
)

// NatsQueue is a JetStream work queue. The stream uses WorkQueuePolicy so
// each task is delivered to exactly one worker at a time; explicit acks give
// at-least-once delivery across worker crashes.
type NatsQueue struct {
	js       jetstream.JetStream
	consumer jetstream.Consumer
	subject  string
	logger   *logx.Logger
}

// NewNatsQueue connects the queue to NATS, creating the stream and durable
// consumer if needed.
func NewNatsQueue(ctx context.Context, nc *nats.Conn, stream, subject string) (*NatsQueue, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("failed to get jetstream context: %w", err)
	}

	st, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      stream,
		Subjects:  []string{subject},
		Retention: jetstream.WorkQueuePolicy,
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create stream %s: %w", stream, err)
	}

	consumer, err := st.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:    "dogwalker-workers",
		AckPolicy:  jetstream.AckExplicitPolicy,
		AckWait:    ackWait,
		MaxDeliver: maxDeliver,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer on %s: %w", stream, err)
	}

	return &NatsQueue{
		js:       js,
		consumer: consumer,
		subject:  subject,
		logger:   logx.NewLogger("queue"),
	}, nil
}

func (q *NatsQueue) Enqueue(ctx context.Context, spec *proto.TaskSpec) error {
	data, err := spec.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal task %s: %w", spec.TaskID, err)
	}
	if _, err := q.js.Publish(ctx, q.subject, data); err != nil {
		return fmt.Errorf("failed to publish task %s: %w", spec.TaskID, err)
	}
	q.logger.Info("Enqueued task %s for %s", spec.TaskID, spec.DogName)
	return nil
}

// Consume fetches tasks one at a time. Each worker process handles a single
// task at a time; concurrency comes from running multiple workers against
// the shared durable consumer.
func (q *NatsQueue) Consume(ctx context.Context, handler Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		batch, err := q.consumer.Fetch(1, jetstream.FetchMaxWait(fetchWait))
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			q.logger.Warn("Fetch failed, retrying: %v", err)
			time.Sleep(time.Second)
			continue
		}

		for msg := range batch.Messages() {
			q.handle(ctx, msg, handler)
		}
	}
}

func (q *NatsQueue) handle(ctx context.Context, msg jetstream.Msg, handler Handler) {
	spec, err := proto.UnmarshalTaskSpec(msg.Data())
	if err != nil {
		q.logger.Error("Dropping unparsable task: %v", err)
		// Malformed payloads will never parse; ack so they don't loop.
		if aerr := msg.Ack(); aerr != nil {
			q.logger.Error("Failed to ack bad task: %v", aerr)
		}
		return
	}

	// Keep the delivery alive while the handler runs.
	stop := q.heartbeat(ctx, msg)
	err = handler(ctx, spec)
	stop()

	if err != nil {
		q.logger.Warn("Task %s failed, nacking for redelivery: %v", spec.TaskID, err)
		if nerr := msg.Nak(); nerr != nil {
			q.logger.Error("Failed to nack task %s: %v", spec.TaskID, nerr)
		}
		return
	}
	if aerr := msg.Ack(); aerr != nil {
		q.logger.Error("Failed to ack task %s: %v", spec.TaskID, aerr)
	}
}

// heartbeat extends the ack deadline while a long task runs.
func (q *NatsQueue) heartbeat(ctx context.Context, msg jetstream.Msg) func() {
	hctx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(ackWait / 2)
		defer ticker.Stop()
		for {
			select {
			case <-hctx.Done():
				return
			case <-ticker.C:
				if err := msg.InProgress(); err != nil {
					q.logger.Warn("Failed to extend ack deadline: %v", err)
				}
			}
		}
	}()
	return cancel
}

func (q *NatsQueue) Close() error {
	return nil
}
