package proto

import (
	"fmt"
	"strings"
	"time"
)

// Report is the accumulated result summary for a task. The runner fills it in
// phase by phase and finalizes it at the terminal transition.
//
//nolint:govet // Logical grouping preferred over memory optimization
type Report struct {
	TaskID          string        `json:"task_id"`
	DogName         string        `json:"dog_name"`
	Terminal        Phase         `json:"terminal"`
	CompletedPhases []Phase       `json:"completed_phases"`
	RemainingPhases []Phase       `json:"remaining_phases"`
	Title           string        `json:"title,omitempty"`
	Plan            string        `json:"plan,omitempty"`
	FilesTouched    []string      `json:"files_touched,omitempty"`
	TestsPassed     *bool         `json:"tests_passed,omitempty"`
	Feedback        string        `json:"feedback,omitempty"`
	PRURL           string        `json:"pr_url,omitempty"`
	StartTime       time.Time     `json:"start_time"`
	Duration        time.Duration `json:"duration"`
	CancelledBy     string        `json:"cancelled_by,omitempty"`
	Error           string        `json:"error,omitempty"`
}

// MarkCompleted appends a phase to the completed list, once.
func (r *Report) MarkCompleted(p Phase) {
	for _, done := range r.CompletedPhases {
		if done == p {
			return
		}
	}
	r.CompletedPhases = append(r.CompletedPhases, p)
}

// AddFiles merges files into FilesTouched, preserving first-seen order.
func (r *Report) AddFiles(files []string) {
	seen := make(map[string]bool, len(r.FilesTouched))
	for _, f := range r.FilesTouched {
		seen[f] = true
	}
	for _, f := range files {
		if f != "" && !seen[f] {
			seen[f] = true
			r.FilesTouched = append(r.FilesTouched, f)
		}
	}
}

// RenderPRBody produces the pull request description for this report.
func (r *Report) RenderPRBody() string {
	var b strings.Builder

	b.WriteString("## Task\n\n")
	b.WriteString(fmt.Sprintf("Assigned to **%s** (task `%s`).\n\n", r.DogName, r.TaskID))

	if r.Plan != "" {
		b.WriteString("## Plan\n\n")
		b.WriteString(strings.TrimSpace(r.Plan))
		b.WriteString("\n\n")
	}

	if len(r.FilesTouched) > 0 {
		b.WriteString("## Files changed\n\n")
		for _, f := range r.FilesTouched {
			b.WriteString(fmt.Sprintf("- `%s`\n", f))
		}
		b.WriteString("\n")
	}

	if r.TestsPassed != nil {
		b.WriteString("## Tests\n\n")
		if *r.TestsPassed {
			b.WriteString("All tests passing.\n\n")
		} else {
			b.WriteString("Tests failing - see thread for details.\n\n")
		}
	}

	if r.Feedback != "" {
		b.WriteString("## Thread feedback\n\n")
		b.WriteString(r.Feedback)
		b.WriteString("\n\n")
	}

	if r.Terminal == PhaseCancelled {
		b.WriteString("## Cancelled\n\n")
		b.WriteString(fmt.Sprintf("Cancelled by **%s** after %s.\n\n", r.CancelledBy, r.Duration.Round(time.Second)))
		b.WriteString(fmt.Sprintf("Completed phases: %s\n\n", joinPhases(r.CompletedPhases)))
		b.WriteString(fmt.Sprintf("Not completed: %s\n\n", joinPhases(r.RemainingPhases)))
	}

	b.WriteString(fmt.Sprintf("---\n_Duration: %s_\n", r.Duration.Round(time.Second)))
	return b.String()
}

func joinPhases(phases []Phase) string {
	if len(phases) == 0 {
		return "(none)"
	}
	parts := make([]string, len(phases))
	for i, p := range phases {
		parts[i] = string(p)
	}
	return strings.Join(parts, ", ")
}
