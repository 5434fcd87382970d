// Package kennel tracks the configured dogs and assigns tasks to the least
// busy one.
//
// Busy counters live in the coordination store so every listener and worker
// process observes the same load picture. If the store is unreachable the
// selector degrades to a local round-robin over the configured dogs and
// recovers automatically once the store responds.
package kennel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"dogwalker/pkg/config"
	"dogwalker/pkg/coord"
	"dogwalker/pkg/logx"
	"dogwalker/pkg/metrics"
)

// ErrNoDogsConfigured is returned when selection runs against an empty kennel.
var ErrNoDogsConfigured = errors.New("no dogs configured for task assignment")

// assignAttempts bounds the verified-assignment loop. Each retry re-reads the
// counters, so contention resolves within a few rounds.
const assignAttempts = 32

// counterKey is the per-dog active task counter (spec key
// active_tasks:{agent_name}).
func counterKey(dog string) string {
	return "active_tasks:" + dog
}

// memberKey records one task under its dog; its existence makes
// MarkBusy/MarkFree idempotent.
func memberKey(dog, taskID string) string {
	return fmt.Sprintf("active_task_ids:%s:%s", dog, taskID)
}

// DogStatus is one row of the kennel status view.
type DogStatus struct {
	Name        string `json:"name"`
	Email       string `json:"email"`
	ActiveTasks int64  `json:"active_tasks"`
}

// Selector implements least-busy dog selection over the coordination store.
type Selector struct {
	dogs   []config.Dog
	store  coord.Store
	ttl    time.Duration
	logger *logx.Logger

	mu       sync.Mutex
	rrCursor int
	degraded bool
}

// NewSelector creates a selector over the configured dogs. Dog order is the
// tie-break order for selection.
func NewSelector(dogs []config.Dog, store coord.Store, ttl time.Duration) *Selector {
	return &Selector{
		dogs:   dogs,
		store:  store,
		ttl:    ttl,
		logger: logx.NewLogger("kennel"),
	}
}

// Select returns the configured dog with the smallest active task count.
// Ties break by configuration order, so repeated calls against the same
// counters are deterministic. Select does not reserve the dog; use Assign
// for race-safe assignment.
func (s *Selector) Select(ctx context.Context) (config.Dog, error) {
	if len(s.dogs) == 0 {
		return config.Dog{}, ErrNoDogsConfigured
	}
	if len(s.dogs) == 1 {
		return s.dogs[0], nil
	}

	counts, err := s.counts(ctx)
	if err != nil {
		return s.roundRobin(err), nil
	}
	s.markHealthy()

	best := 0
	for i := 1; i < len(s.dogs); i++ {
		if counts[i] < counts[best] {
			best = i
		}
	}
	s.logger.Debug("Selected dog %s (%d active)", s.dogs[best].Name, counts[best])
	return s.dogs[best], nil
}

// Assign picks the least busy dog and atomically marks it busy with taskID.
//
// After the counter increment the selector verifies it was the unique
// incrementer at the observed minimum load; if a concurrent caller got there
// first it backs the increment out and retries against fresh counters. That
// keeps the maximum counter at ceil(assignments/dogs) under concurrent
// assignment.
func (s *Selector) Assign(ctx context.Context, taskID string) (config.Dog, error) {
	if len(s.dogs) == 0 {
		return config.Dog{}, ErrNoDogsConfigured
	}

	if len(s.dogs) == 1 {
		dog := s.dogs[0]
		if err := s.MarkBusy(ctx, dog.Name, taskID); err != nil {
			return s.roundRobin(err), nil
		}
		return dog, nil
	}

	for attempt := 0; attempt < assignAttempts; attempt++ {
		counts, err := s.counts(ctx)
		if err != nil {
			return s.roundRobin(err), nil
		}
		s.markHealthy()

		best := 0
		for i := 1; i < len(s.dogs); i++ {
			if counts[i] < counts[best] {
				best = i
			}
		}
		dog := s.dogs[best]

		newCount, err := s.store.Incr(ctx, counterKey(dog.Name), s.ttl)
		if err != nil {
			return s.roundRobin(err), nil
		}
		if newCount != counts[best]+1 {
			// Someone else landed on this dog between our read and our
			// increment. Back out and re-balance.
			if _, derr := s.store.Decr(ctx, counterKey(dog.Name)); derr != nil {
				s.logger.Warn("Failed to back out contended assignment on %s: %v", dog.Name, derr)
			}
			continue
		}

		if _, err := s.store.SetNX(ctx, memberKey(dog.Name, taskID), "1", s.ttl); err != nil {
			s.logger.Warn("Failed to record task %s under dog %s: %v", taskID, dog.Name, err)
		}
		s.logger.Info("Assigned task %s to dog %s (%d active)", taskID, dog.Name, newCount)
		return dog, nil
	}

	// Contention never resolved; take the tie-break dog unconditionally.
	dog := s.dogs[0]
	s.logger.Warn("Assignment contention exceeded %d attempts, forcing %s", assignAttempts, dog.Name)
	if err := s.MarkBusy(ctx, dog.Name, taskID); err != nil {
		s.logger.Warn("Failed to mark forced assignment busy: %v", err)
	}
	return dog, nil
}

// MarkBusy atomically increments the dog's counter and records the task under
// it. Calling twice for the same task has no further effect.
func (s *Selector) MarkBusy(ctx context.Context, dogName, taskID string) error {
	created, err := s.store.SetNX(ctx, memberKey(dogName, taskID), "1", s.ttl)
	if err != nil {
		return fmt.Errorf("failed to record task %s under dog %s: %w", taskID, dogName, err)
	}
	if !created {
		s.logger.Debug("Task %s already recorded under dog %s", taskID, dogName)
		return nil
	}

	count, err := s.store.Incr(ctx, counterKey(dogName), s.ttl)
	if err != nil {
		return fmt.Errorf("failed to increment busy counter for %s: %w", dogName, err)
	}
	s.logger.Info("Marked dog %s busy with task %s (%d active)", dogName, taskID, count)
	return nil
}

// MarkFree atomically decrements the dog's counter (floored at zero) and
// removes the task record. Safe to call on completion, failure, and
// cancellation alike; repeated calls for the same task are no-ops.
func (s *Selector) MarkFree(ctx context.Context, dogName, taskID string) error {
	existed, err := s.store.Delete(ctx, memberKey(dogName, taskID))
	if err != nil {
		return fmt.Errorf("failed to remove task %s from dog %s: %w", taskID, dogName, err)
	}
	if !existed {
		s.logger.Debug("Task %s was not recorded under dog %s", taskID, dogName)
		return nil
	}

	count, err := s.store.Decr(ctx, counterKey(dogName))
	if err != nil {
		return fmt.Errorf("failed to decrement busy counter for %s: %w", dogName, err)
	}
	s.logger.Info("Marked dog %s free from task %s (%d active)", dogName, taskID, count)
	return nil
}

// ActiveCount returns the dog's current active task count.
func (s *Selector) ActiveCount(ctx context.Context, dogName string) (int64, error) {
	raw, ok, err := s.store.Get(ctx, counterKey(dogName))
	if err != nil || !ok {
		return 0, err
	}
	var n int64
	if _, serr := fmt.Sscanf(raw, "%d", &n); serr != nil {
		return 0, fmt.Errorf("busy counter for %s holds %q", dogName, raw)
	}
	return n, nil
}

// Status reports every configured dog with its current load.
func (s *Selector) Status(ctx context.Context) []DogStatus {
	out := make([]DogStatus, 0, len(s.dogs))
	for i := range s.dogs {
		dog := &s.dogs[i]
		count, err := s.ActiveCount(ctx, dog.Name)
		if err != nil {
			s.logger.Warn("Failed to read active count for %s: %v", dog.Name, err)
		}
		out = append(out, DogStatus{Name: dog.Name, Email: dog.Email, ActiveTasks: count})
	}
	return out
}

// Dogs returns the configured dogs in tie-break order.
func (s *Selector) Dogs() []config.Dog {
	out := make([]config.Dog, len(s.dogs))
	copy(out, s.dogs)
	return out
}

// counts reads every dog's counter in configuration order.
func (s *Selector) counts(ctx context.Context) ([]int64, error) {
	counts := make([]int64, len(s.dogs))
	for i := range s.dogs {
		n, err := s.ActiveCount(ctx, s.dogs[i].Name)
		if err != nil {
			return nil, err
		}
		counts[i] = n
	}
	return counts, nil
}

// roundRobin is the degraded-mode fallback: local rotation over the
// configured dogs, sacrificing global fairness for availability.
func (s *Selector) roundRobin(cause error) config.Dog {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.degraded {
		s.degraded = true
		metrics.StoreDegraded.Inc()
		s.logger.Error("Coordination store unreachable, degrading to round-robin selection: %v", cause)
	}
	dog := s.dogs[s.rrCursor%len(s.dogs)]
	s.rrCursor++
	return dog
}

// markHealthy reverts degraded mode after a successful store round-trip.
func (s *Selector) markHealthy() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.degraded {
		s.degraded = false
		s.logger.Info("Coordination store recovered, resuming least-busy selection")
	}
}
