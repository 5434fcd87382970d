package proto

import (
	"strings"
	"testing"
	"time"
)

func TestPhaseTransitions(t *testing.T) {
	// Working sequence must be chainable front to back.
	for i := 0; i < len(WorkingPhases)-1; i++ {
		from, to := WorkingPhases[i], WorkingPhases[i+1]
		if !IsValidTransition(from, to) {
			t.Errorf("Expected %s -> %s to be valid", from, to)
		}
	}

	// Every non-terminal phase can fail or be cancelled.
	for phase := range ValidTransitions {
		if phase.IsTerminal() {
			continue
		}
		if !IsValidTransition(phase, PhaseFailed) {
			t.Errorf("Expected %s -> FAILED to be valid", phase)
		}
		if !IsValidTransition(phase, PhaseCancelled) {
			t.Errorf("Expected %s -> CANCELLED to be valid", phase)
		}
	}

	// Terminal phases go nowhere.
	for _, terminal := range []Phase{PhaseReady, PhaseFailed, PhaseCancelled} {
		if IsValidTransition(terminal, PhasePlanning) {
			t.Errorf("Expected no transitions out of %s", terminal)
		}
	}

	// No skipping ahead.
	if IsValidTransition(PhasePlanning, PhaseTesting) {
		t.Error("Expected PLANNING -> TESTING to be invalid")
	}
}

func TestSplitWorkingPhases(t *testing.T) {
	completed, remaining := SplitWorkingPhases(PhaseSelfReview)

	wantCompleted := []Phase{PhasePlanning, PhaseDraftOpened, PhaseImplementing, PhaseSelfReview}
	wantRemaining := []Phase{PhaseTesting, PhaseFinalizing}

	if len(completed) != len(wantCompleted) {
		t.Fatalf("Expected %d completed phases, got %d", len(wantCompleted), len(completed))
	}
	for i, p := range wantCompleted {
		if completed[i] != p {
			t.Errorf("completed[%d]: expected %s, got %s", i, p, completed[i])
		}
	}
	for i, p := range wantRemaining {
		if remaining[i] != p {
			t.Errorf("remaining[%d]: expected %s, got %s", i, p, remaining[i])
		}
	}
}

func TestSplitWorkingPhasesNothingDone(t *testing.T) {
	completed, remaining := SplitWorkingPhases(PhaseQueued)
	if len(completed) != 0 {
		t.Errorf("Expected no completed phases, got %v", completed)
	}
	if len(remaining) != len(WorkingPhases) {
		t.Errorf("Expected all phases remaining, got %v", remaining)
	}
}

func TestTaskSpecRoundTrip(t *testing.T) {
	spec := &TaskSpec{
		MsgID:           "m1",
		TaskID:          "C123_1700000000.000100",
		TaskDescription: "add rate limiting to /api/login",
		BranchName:      "dogwalker/rex/add-rate-limiting-to-api-login",
		DogName:         "rex",
		DogEmail:        "rex@example.com",
		ThreadTS:        "1700000000.000100",
		ChannelID:       "C123",
		RequesterName:   "alice",
		StartTime:       time.Now().UTC().Truncate(time.Second),
	}

	data, err := spec.Marshal()
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	got, err := UnmarshalTaskSpec(data)
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if got.TaskID != spec.TaskID || got.DogName != spec.DogName || got.BranchName != spec.BranchName {
		t.Errorf("Round trip mismatch: %+v", got)
	}
}

func TestTaskSpecValidate(t *testing.T) {
	spec := &TaskSpec{TaskID: "t1"}
	if err := spec.Validate(); err == nil {
		t.Error("Expected validation error for incomplete spec")
	}
}

func TestReportMarkCompletedIdempotent(t *testing.T) {
	r := &Report{}
	r.MarkCompleted(PhasePlanning)
	r.MarkCompleted(PhasePlanning)
	if len(r.CompletedPhases) != 1 {
		t.Errorf("Expected 1 completed phase, got %d", len(r.CompletedPhases))
	}
}

func TestReportAddFilesDeduplicates(t *testing.T) {
	r := &Report{}
	r.AddFiles([]string{"a.go", "b.go"})
	r.AddFiles([]string{"b.go", "c.go", ""})
	if len(r.FilesTouched) != 3 {
		t.Errorf("Expected 3 files, got %v", r.FilesTouched)
	}
}

func TestRenderPRBodyCancelled(t *testing.T) {
	passed := true
	r := &Report{
		TaskID:          "t1",
		DogName:         "rex",
		Terminal:        PhaseCancelled,
		CompletedPhases: []Phase{PhasePlanning, PhaseDraftOpened},
		RemainingPhases: []Phase{PhaseImplementing, PhaseSelfReview, PhaseTesting, PhaseFinalizing},
		Plan:            "1. do the thing",
		TestsPassed:     &passed,
		CancelledBy:     "alice",
		Duration:        90 * time.Second,
	}

	body := r.RenderPRBody()
	for _, want := range []string{"Cancelled by **alice**", "PLANNING, DRAFT_OPENED", "IMPLEMENTING", "do the thing"} {
		if !strings.Contains(body, want) {
			t.Errorf("Expected PR body to contain %q\n%s", want, body)
		}
	}
}
