package proto

import (
	"encoding/json"
	"fmt"
	"time"
)

// TaskSpec is the message enqueued by the entry point and consumed by the
// worker pool. Field names follow the wire contract.
//
//nolint:govet // Logical grouping preferred over memory optimization
type TaskSpec struct {
	MsgID               string    `json:"msg_id"` // Queue-level ID for redelivery tracing
	TaskID              string    `json:"task_id"`
	TaskDescription     string    `json:"task_description"`
	BranchName          string    `json:"branch_name"`
	DogName             string    `json:"agent_name"`
	DogDisplayName      string    `json:"agent_display_name"`
	DogEmail            string    `json:"agent_email"`
	ThreadTS            string    `json:"thread_ts"`
	ChannelID           string    `json:"channel_id"`
	RequesterName       string    `json:"requester_name"`
	RequesterProfileURL string    `json:"requester_profile_url"`
	StartTime           time.Time `json:"start_time"`
}

// Validate checks the fields a worker cannot proceed without.
func (t *TaskSpec) Validate() error {
	if t.TaskID == "" {
		return fmt.Errorf("task spec missing task_id")
	}
	if t.TaskDescription == "" {
		return fmt.Errorf("task spec missing task_description")
	}
	if t.BranchName == "" {
		return fmt.Errorf("task spec missing branch_name")
	}
	if t.DogName == "" {
		return fmt.Errorf("task spec missing agent_name")
	}
	if t.ThreadTS == "" || t.ChannelID == "" {
		return fmt.Errorf("task spec missing thread routing")
	}
	return nil
}

// Marshal serializes the task for the queue wire format.
func (t *TaskSpec) Marshal() ([]byte, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal task spec: %w", err)
	}
	return data, nil
}

// UnmarshalTaskSpec deserializes a queue payload.
func UnmarshalTaskSpec(data []byte) (*TaskSpec, error) {
	var spec TaskSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task spec: %w", err)
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &spec, nil
}

// FeedbackMessage is one human message recorded against a thread's
// append-only feedback log. Seq is assigned by the store append and is
// strictly increasing per thread.
type FeedbackMessage struct {
	UserID    string    `json:"user_id"`
	UserName  string    `json:"user_name"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	MessageTS string    `json:"message_ts"`
	Seq       int       `json:"seq"`
}

// CancelInfo records who cancelled a task and when.
type CancelInfo struct {
	CancelledBy   string    `json:"cancelled_by"`
	CancelledByID string    `json:"cancelled_by_id"`
	Timestamp     time.Time `json:"timestamp"`
}
