// Package relay carries feedback between chat threads and running tasks.
//
// A thread is bound to a task when the task is created. Humans post into the
// thread; the listener records each message into an append-only per-thread
// log in the coordination store. The worker drains new messages at phase
// checkpoints through a per-task read pointer that only ever moves forward,
// so no message is delivered twice and none is skipped.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"dogwalker/pkg/coord"
	"dogwalker/pkg/logx"
	"dogwalker/pkg/metrics"
	"dogwalker/pkg/proto"
)

var (
	// ErrAlreadyBound indicates the thread is bound to a different task.
	ErrAlreadyBound = errors.New("thread already bound to another task")

	// ErrUnbound indicates no task is bound to the thread.
	ErrUnbound = errors.New("no task bound to thread")

	// ErrTimeout indicates AwaitNext gave up waiting for a message.
	ErrTimeout = errors.New("timed out waiting for feedback")
)

func threadTasksKey(thread string) string { return "thread_tasks:" + thread }
func taskThreadsKey(taskID string) string { return "task_threads:" + taskID }
func messagesKey(thread string) string    { return "thread_messages:" + thread }
func readPtrKey(taskID string) string     { return "read_ptr:" + taskID }

// Relay implements the feedback contract over the coordination store.
type Relay struct {
	store  coord.Store
	ttl    time.Duration
	poll   time.Duration
	logger *logx.Logger
}

// New creates a relay. ttl is the retention window for mappings and logs;
// poll is the AwaitNext polling cadence.
func New(store coord.Store, ttl, poll time.Duration) *Relay {
	return &Relay{
		store:  store,
		ttl:    ttl,
		poll:   poll,
		logger: logx.NewLogger("relay"),
	}
}

// Bind writes both directions of the thread/task mapping with the shared
// retention TTL. Rebinding the same pair is a no-op; binding a thread that
// already maps to a different task fails with ErrAlreadyBound.
func (r *Relay) Bind(ctx context.Context, thread, taskID string) error {
	created, err := r.store.SetNX(ctx, threadTasksKey(thread), taskID, r.ttl)
	if err != nil {
		return fmt.Errorf("failed to bind thread %s: %w", thread, err)
	}
	if !created {
		existing, _, gerr := r.store.Get(ctx, threadTasksKey(thread))
		if gerr != nil {
			return fmt.Errorf("failed to bind thread %s: %w", thread, gerr)
		}
		if existing != taskID {
			return fmt.Errorf("%w: thread %s -> task %s", ErrAlreadyBound, thread, existing)
		}
	}

	if err := r.store.Set(ctx, taskThreadsKey(taskID), thread, r.ttl); err != nil {
		// Roll back the forward mapping so both directions exist or neither.
		if _, derr := r.store.Delete(ctx, threadTasksKey(thread)); derr != nil {
			r.logger.Warn("Failed to roll back thread mapping for %s: %v", thread, derr)
		}
		return fmt.Errorf("failed to bind task %s: %w", taskID, err)
	}

	r.logger.Info("Bound thread %s to task %s", thread, taskID)
	return nil
}

// TaskForThread resolves a thread to its bound task, or ErrUnbound.
func (r *Relay) TaskForThread(ctx context.Context, thread string) (string, error) {
	taskID, ok, err := r.store.Get(ctx, threadTasksKey(thread))
	if err != nil {
		return "", fmt.Errorf("failed to look up thread %s: %w", thread, err)
	}
	if !ok {
		return "", ErrUnbound
	}
	return taskID, nil
}

// ThreadForTask resolves a task to its bound thread, or ErrUnbound.
func (r *Relay) ThreadForTask(ctx context.Context, taskID string) (string, error) {
	thread, ok, err := r.store.Get(ctx, taskThreadsKey(taskID))
	if err != nil {
		return "", fmt.Errorf("failed to look up task %s: %w", taskID, err)
	}
	if !ok {
		return "", ErrUnbound
	}
	return thread, nil
}

// RecordMessage appends a human message to the thread's feedback log.
// Returns the message's sequence number, or ErrUnbound when no task is bound
// (callers drop the message and move on - not an error surfaced to humans).
func (r *Relay) RecordMessage(ctx context.Context, thread string, msg proto.FeedbackMessage) (int, error) {
	taskID, err := r.TaskForThread(ctx, thread)
	if err != nil {
		return 0, err
	}

	data, err := json.Marshal(&msg)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal feedback message: %w", err)
	}

	seq, err := r.store.Append(ctx, messagesKey(thread), string(data), r.ttl)
	if err != nil {
		return 0, fmt.Errorf("failed to append feedback for thread %s: %w", thread, err)
	}

	metrics.FeedbackMessages.WithLabelValues("recorded").Inc()
	r.logger.Info("Recorded message %d from %s in thread %s for task %s",
		seq, msg.UserName, thread, taskID)
	return seq, nil
}

// PeekNew returns messages with sequence numbers past the task's read
// pointer and advances the pointer by exactly the count returned. With no new
// arrivals it returns an empty slice and leaves the pointer alone, so
// repeated calls are an idempotent drain.
func (r *Relay) PeekNew(ctx context.Context, taskID string) ([]proto.FeedbackMessage, error) {
	thread, err := r.ThreadForTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	ptr, err := r.readPointer(ctx, taskID)
	if err != nil {
		return nil, err
	}

	raw, err := r.store.List(ctx, messagesKey(thread), ptr)
	if err != nil {
		return nil, fmt.Errorf("failed to read feedback for thread %s: %w", thread, err)
	}
	if len(raw) == 0 {
		return nil, nil
	}

	msgs := r.decode(thread, raw, ptr)
	if err := r.advancePointer(ctx, taskID, ptr, ptr+len(raw)); err != nil {
		return nil, err
	}

	metrics.FeedbackMessages.WithLabelValues("delivered").Add(float64(len(msgs)))
	r.logger.Info("Delivered %d new message(s) to task %s", len(msgs), taskID)
	return msgs, nil
}

// AwaitNext blocks until a new message arrives or the timeout elapses,
// advancing the read pointer past only the single message returned. Used for
// explicit question/answer exchanges; routine checkpoints use PeekNew.
func (r *Relay) AwaitNext(ctx context.Context, taskID string, timeout time.Duration) (proto.FeedbackMessage, error) {
	thread, err := r.ThreadForTask(ctx, taskID)
	if err != nil {
		return proto.FeedbackMessage{}, err
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(r.poll)
	defer ticker.Stop()

	for {
		ptr, perr := r.readPointer(ctx, taskID)
		if perr != nil {
			return proto.FeedbackMessage{}, perr
		}

		raw, lerr := r.store.List(ctx, messagesKey(thread), ptr)
		if lerr != nil {
			return proto.FeedbackMessage{}, fmt.Errorf("failed to read feedback for thread %s: %w", thread, lerr)
		}
		if len(raw) > 0 {
			msgs := r.decode(thread, raw[:1], ptr)
			if aerr := r.advancePointer(ctx, taskID, ptr, ptr+1); aerr != nil {
				return proto.FeedbackMessage{}, aerr
			}
			if len(msgs) == 0 {
				// Undecodable entry; pointer moved past it, keep waiting.
				continue
			}
			metrics.FeedbackMessages.WithLabelValues("delivered").Inc()
			return msgs[0], nil
		}

		select {
		case <-ctx.Done():
			return proto.FeedbackMessage{}, ctx.Err()
		case <-deadline.C:
			return proto.FeedbackMessage{}, ErrTimeout
		case <-ticker.C:
		}
	}
}

// AllMessages returns the full feedback history for the task's thread
// without touching the read pointer.
func (r *Relay) AllMessages(ctx context.Context, taskID string) ([]proto.FeedbackMessage, error) {
	thread, err := r.ThreadForTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	raw, err := r.store.List(ctx, messagesKey(thread), 0)
	if err != nil {
		return nil, fmt.Errorf("failed to read feedback for thread %s: %w", thread, err)
	}
	return r.decode(thread, raw, 0), nil
}

// FormatForPrompt renders messages into a directive block for the coding
// agent's next invocation.
func FormatForPrompt(msgs []proto.FeedbackMessage) string {
	if len(msgs) == 0 {
		return ""
	}

	var lines []string
	for i := range msgs {
		lines = append(lines, fmt.Sprintf("%s: %s", msgs[i].UserName, msgs[i].Text))
	}

	return fmt.Sprintf(`IMPORTANT - HUMAN FEEDBACK:
The humans following this task have posted feedback in the thread:

%s

Incorporate this feedback into your current work. Adjust the implementation
to match the request while keeping the rest of the task on course.`, strings.Join(lines, "\n\n"))
}

// RenderForPR renders the full message history as a markdown transcript for
// the PR body. Returns "" when the thread has no feedback.
func (r *Relay) RenderForPR(ctx context.Context, taskID string) (string, error) {
	msgs, err := r.AllMessages(ctx, taskID)
	if err != nil {
		return "", err
	}
	if len(msgs) == 0 {
		return "", nil
	}

	var b strings.Builder
	for i := range msgs {
		text := strings.ReplaceAll(msgs[i].Text, "*", `\*`)
		text = strings.ReplaceAll(text, "_", `\_`)
		b.WriteString(fmt.Sprintf("- **%s:** %s\n", msgs[i].UserName, text))
	}
	return b.String(), nil
}

// readPointer loads the task's cursor into its thread's message log.
func (r *Relay) readPointer(ctx context.Context, taskID string) (int, error) {
	raw, ok, err := r.store.Get(ctx, readPtrKey(taskID))
	if err != nil {
		return 0, fmt.Errorf("failed to read pointer for task %s: %w", taskID, err)
	}
	if !ok {
		return 0, nil
	}
	ptr, perr := strconv.Atoi(raw)
	if perr != nil {
		return 0, fmt.Errorf("read pointer for task %s holds %q", taskID, raw)
	}
	return ptr, nil
}

// advancePointer moves the cursor forward. The pointer is never moved
// backward; a single executor owns each task so from is authoritative.
func (r *Relay) advancePointer(ctx context.Context, taskID string, from, to int) error {
	if to <= from {
		return nil
	}
	if err := r.store.Set(ctx, readPtrKey(taskID), strconv.Itoa(to), r.ttl); err != nil {
		return fmt.Errorf("failed to advance read pointer for task %s: %w", taskID, err)
	}
	return nil
}

// decode parses raw log entries, skipping (and logging) corrupt ones.
func (r *Relay) decode(thread string, raw []string, base int) []proto.FeedbackMessage {
	msgs := make([]proto.FeedbackMessage, 0, len(raw))
	for i, item := range raw {
		var msg proto.FeedbackMessage
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			r.logger.Error("Failed to parse feedback at index %d in thread %s: %v", base+i, thread, err)
			continue
		}
		msg.Seq = base + i + 1
		msgs = append(msgs, msg)
	}
	return msgs
}
