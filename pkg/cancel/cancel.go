// Package cancel provides cooperative task cancellation through the
// coordination store. Anyone can request cancellation; the worker observes
// the flag at its next phase checkpoint and winds the task down cleanly.
package cancel

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"dogwalker/pkg/coord"
	"dogwalker/pkg/logx"
	"dogwalker/pkg/metrics"
	"dogwalker/pkg/proto"
)

// DefaultFlagTTL bounds how long an unobserved cancellation flag lingers.
// A task that has not checkpointed within an hour is dead anyway.
const DefaultFlagTTL = time.Hour

func cancelKey(taskID string) string { return "cancel:" + taskID }

// Controller sets and checks cancellation flags.
type Controller struct {
	store  coord.Store
	ttl    time.Duration
	logger *logx.Logger
}

// NewController builds a controller whose flags expire after ttl. A zero
// ttl falls back to DefaultFlagTTL.
func NewController(store coord.Store, ttl time.Duration) *Controller {
	if ttl <= 0 {
		ttl = DefaultFlagTTL
	}
	return &Controller{
		store:  store,
		ttl:    ttl,
		logger: logx.NewLogger("cancel"),
	}
}

// RequestCancel flags the task for cancellation, recording who asked and
// when. Repeated requests overwrite the flag; the first observed value wins
// for attribution since the worker clears the flag when it acts on it.
func (c *Controller) RequestCancel(ctx context.Context, taskID, actorID, actorName string) error {
	info := proto.CancelInfo{
		CancelledBy:   actorName,
		CancelledByID: actorID,
		Timestamp:     time.Now().UTC(),
	}
	data, err := json.Marshal(&info)
	if err != nil {
		return fmt.Errorf("failed to marshal cancel flag: %w", err)
	}
	if err := c.store.Set(ctx, cancelKey(taskID), string(data), c.ttl); err != nil {
		return fmt.Errorf("failed to flag task %s for cancellation: %w", taskID, err)
	}

	metrics.CancelRequests.Inc()
	c.logger.Info("Task %s flagged for cancellation by %s", taskID, actorName)
	return nil
}

// Check reports whether the task has been flagged. A corrupt flag value
// still counts as a cancellation with unknown attribution.
func (c *Controller) Check(ctx context.Context, taskID string) (*proto.CancelInfo, bool, error) {
	raw, ok, err := c.store.Get(ctx, cancelKey(taskID))
	if err != nil {
		return nil, false, fmt.Errorf("failed to check cancel flag for task %s: %w", taskID, err)
	}
	if !ok {
		return nil, false, nil
	}

	var info proto.CancelInfo
	if jerr := json.Unmarshal([]byte(raw), &info); jerr != nil {
		c.logger.Error("Cancel flag for task %s holds unparsable value: %v", taskID, jerr)
		return &proto.CancelInfo{CancelledBy: "unknown"}, true, nil
	}
	return &info, true, nil
}

// Clear removes the flag after the worker has acted on it.
func (c *Controller) Clear(ctx context.Context, taskID string) error {
	if _, err := c.store.Delete(ctx, cancelKey(taskID)); err != nil {
		return fmt.Errorf("failed to clear cancel flag for task %s: %w", taskID, err)
	}
	return nil
}
