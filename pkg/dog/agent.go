// Package dog abstracts the coding agents that execute task phases. Each
// configured dog maps to an agent backend; the runner drives it one phase at
// a time and interprets the structured result.
package dog

import (
	"context"
	"errors"
)

// ErrNoChanges indicates the agent decided the phase requires no code
// changes. The runner treats this as a logical failure, not a retry.
var ErrNoChanges = errors.New("agent produced no changes")

// Request is a single phase invocation.
type Request struct {
	TaskID  string
	Workdir string
	Prompt  string
}

// Result is the structured outcome of one invocation.
type Result struct {
	// Output is the agent's summary of what it did.
	Output string

	// FilesTouched lists files the agent created or modified this phase.
	FilesTouched []string

	// Verdict carries a pass/fail judgment for review and test phases;
	// empty for phases that produce work rather than judge it.
	Verdict string

	// NoChanges is set when the agent ran but changed nothing.
	NoChanges bool
}

const (
	VerdictPass = "pass"
	VerdictFail = "fail"
)

// Agent executes coding work. Implementations must honor ctx cancellation.
type Agent interface {
	Execute(ctx context.Context, req Request) (*Result, error)
}
