// Package proto defines the shared protocol types for the dogwalker system:
// task phases, queue messages, feedback messages, and terminal reports.
package proto

import "fmt"

// Phase represents a task lifecycle state.
type Phase string

// Phase constants - single source of truth for phase names.
const (
	PhaseQueued       Phase = "QUEUED"
	PhasePlanning     Phase = "PLANNING"
	PhaseDraftOpened  Phase = "DRAFT_OPENED"
	PhaseImplementing Phase = "IMPLEMENTING"
	PhaseSelfReview   Phase = "SELF_REVIEW"
	PhaseTesting      Phase = "TESTING"
	PhaseFinalizing   Phase = "FINALIZING"
	PhaseReady        Phase = "READY"
	PhaseFailed       Phase = "FAILED"
	PhaseCancelled    Phase = "CANCELLED"
)

// WorkingPhases lists the non-terminal phases after QUEUED, in execution order.
// PLANNING produces the plan, DRAFT_OPENED pushes the branch and opens the
// draft PR, FINALIZING promotes it out of draft.
var WorkingPhases = []Phase{
	PhasePlanning,
	PhaseDraftOpened,
	PhaseImplementing,
	PhaseSelfReview,
	PhaseTesting,
	PhaseFinalizing,
}

// ValidTransitions defines the canonical phase transition map. Every
// non-terminal phase may also transition to FAILED or CANCELLED.
var ValidTransitions = map[Phase][]Phase{
	PhaseQueued:       {PhasePlanning, PhaseFailed, PhaseCancelled},
	PhasePlanning:     {PhaseDraftOpened, PhaseFailed, PhaseCancelled},
	PhaseDraftOpened:  {PhaseImplementing, PhaseFailed, PhaseCancelled},
	PhaseImplementing: {PhaseSelfReview, PhaseFailed, PhaseCancelled},
	PhaseSelfReview:   {PhaseTesting, PhaseFailed, PhaseCancelled},
	PhaseTesting:      {PhaseFinalizing, PhaseFailed, PhaseCancelled},
	PhaseFinalizing:   {PhaseReady, PhaseFailed, PhaseCancelled},
	PhaseReady:        {},
	PhaseFailed:       {},
	PhaseCancelled:    {},
}

// IsTerminal returns true for READY, FAILED, and CANCELLED.
func (p Phase) IsTerminal() bool {
	return p == PhaseReady || p == PhaseFailed || p == PhaseCancelled
}

// IsValidTransition checks whether from -> to is allowed by the transition map.
func IsValidTransition(from, to Phase) bool {
	allowed, exists := ValidTransitions[from]
	if !exists {
		return false
	}
	for _, next := range allowed {
		if next == to {
			return true
		}
	}
	return false
}

// ValidatePhase checks whether a phase name is known.
func ValidatePhase(p Phase) error {
	if _, ok := ValidTransitions[p]; !ok {
		return fmt.Errorf("invalid phase: %s", p)
	}
	return nil
}

// NextWorkingPhase returns the phase that follows p in the working sequence,
// or false when p is the last working phase or not a working phase at all.
func NextWorkingPhase(p Phase) (Phase, bool) {
	for i, phase := range WorkingPhases {
		if phase == p && i+1 < len(WorkingPhases) {
			return WorkingPhases[i+1], true
		}
	}
	return "", false
}

// SplitWorkingPhases partitions the working sequence around the phase that was
// executing when a task stopped: phases up to and including at, then the rest.
func SplitWorkingPhases(at Phase) (completed, remaining []Phase) {
	idx := -1
	for i, phase := range WorkingPhases {
		if phase == at {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, append([]Phase{}, WorkingPhases...)
	}
	completed = append(completed, WorkingPhases[:idx+1]...)
	remaining = append(remaining, WorkingPhases[idx+1:]...)
	return completed, remaining
}
