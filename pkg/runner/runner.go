// Package runner executes tasks through their phase sequence. Each phase
// runs the coding agent once; between phases the runner checkpoints against
// the coordination store, observing cancellation first and then draining any
// thread feedback into the next prompt.
package runner

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"dogwalker/pkg/cancel"
	"dogwalker/pkg/chat"
	"dogwalker/pkg/dog"
	"dogwalker/pkg/github"
	"dogwalker/pkg/kennel"
	"dogwalker/pkg/logx"
	"dogwalker/pkg/metrics"
	"dogwalker/pkg/persistence"
	"dogwalker/pkg/proto"
	"dogwalker/pkg/relay"
)

const maxTitleLen = 60

// Options tunes runner timing. The retry schedule comes from configuration
// so tests can run it in milliseconds.
type Options struct {
	RetryBackoff []time.Duration
	WorkDir      string
}

// Runner drives one task at a time from QUEUED to a terminal phase.
type Runner struct {
	agent     dog.Agent
	publisher github.Publisher
	messenger chat.Messenger
	relay     *relay.Relay
	canceller *cancel.Controller
	selector  *kennel.Selector
	archive   *persistence.Store // nil disables archiving
	opts      Options
	logger    *logx.Logger
}

func New(agent dog.Agent, publisher github.Publisher, messenger chat.Messenger,
	r *relay.Relay, c *cancel.Controller, s *kennel.Selector,
	archive *persistence.Store, opts Options) *Runner {
	return &Runner{
		agent:     agent,
		publisher: publisher,
		messenger: messenger,
		relay:     r,
		canceller: c,
		selector:  s,
		archive:   archive,
		opts:      opts,
		logger:    logx.NewLogger("runner"),
	}
}

// taskRun is the mutable state of one execution.
type taskRun struct {
	spec     *proto.TaskSpec
	report   *proto.Report
	prRef    *github.PRRef
	pending  []proto.FeedbackMessage // feedback not yet folded into a prompt
	lastDone proto.Phase
}

// Run executes the task to a terminal phase. It returns an error only when
// the task should be redelivered (worker shutdown mid-task); every terminal
// outcome, including FAILED, returns nil so the queue acks.
func (r *Runner) Run(ctx context.Context, spec *proto.TaskSpec) error {
	if err := spec.Validate(); err != nil {
		r.logger.Error("Rejecting invalid task: %v", err)
		return nil
	}

	// Redelivered tasks restart from the beginning; the busy mark is
	// idempotent so this never double-counts.
	if err := r.selector.MarkBusy(ctx, spec.DogName, spec.TaskID); err != nil {
		r.logger.Warn("Failed to mark %s busy for task %s: %v", spec.DogName, spec.TaskID, err)
	}

	run := &taskRun{
		spec: spec,
		report: &proto.Report{
			TaskID:    spec.TaskID,
			DogName:   spec.DogName,
			StartTime: spec.StartTime,
		},
		lastDone: proto.PhaseQueued,
	}

	r.logger.Info("Task %s starting on %s: %s", spec.TaskID, spec.DogName, spec.TaskDescription)

	for _, phase := range proto.WorkingPhases {
		// PLANNING runs immediately; every later phase gets a checkpoint.
		if phase != proto.PhasePlanning {
			stopped, err := r.checkpoint(ctx, run)
			if err != nil {
				return err
			}
			if stopped {
				return nil
			}
		}

		if err := r.runPhaseWithRetry(ctx, run, phase); err != nil {
			if ctx.Err() != nil {
				// Shutdown mid-task: leave the busy mark, nack for redelivery.
				return fmt.Errorf("task %s interrupted during %s: %w", spec.TaskID, phase, ctx.Err())
			}
			r.finish(ctx, run, proto.PhaseFailed, err)
			return nil
		}

		run.report.MarkCompleted(phase)
		run.lastDone = phase
	}

	r.finish(ctx, run, proto.PhaseReady, nil)
	return nil
}

// checkpoint observes cancellation and feedback between phases. Cancellation
// always wins: a cancel flag set before the checkpoint stops the task even
// when feedback arrived after it. Returns stopped=true when the task reached
// CANCELLED.
func (r *Runner) checkpoint(ctx context.Context, run *taskRun) (stopped bool, err error) {
	info, flagged, cerr := r.canceller.Check(ctx, run.spec.TaskID)
	if cerr != nil {
		r.logger.Warn("Cancel check failed for task %s, continuing: %v", run.spec.TaskID, cerr)
	} else if flagged {
		run.report.CancelledBy = info.CancelledBy
		r.finish(ctx, run, proto.PhaseCancelled, nil)
		return true, nil
	}

	msgs, ferr := r.relay.PeekNew(ctx, run.spec.TaskID)
	if ferr != nil && !errors.Is(ferr, relay.ErrUnbound) {
		r.logger.Warn("Feedback drain failed for task %s, continuing: %v", run.spec.TaskID, ferr)
		return false, nil
	}
	if len(msgs) > 0 {
		run.pending = append(run.pending, msgs...)
		r.post(ctx, run, fmt.Sprintf("Picked up %d feedback message(s), folding into the next step.", len(msgs)))
	}
	return false, nil
}

// runPhaseWithRetry executes one phase, retrying transient failures on the
// configured backoff schedule. Logical failures and cancellation are not
// retried.
func (r *Runner) runPhaseWithRetry(ctx context.Context, run *taskRun, phase proto.Phase) error {
	started := time.Now()
	defer func() {
		metrics.PhaseDuration.WithLabelValues(string(phase), run.spec.TaskID, run.spec.DogName).
			Observe(time.Since(started).Seconds())
	}()

	var lastErr error
	for attempt := 0; ; attempt++ {
		lastErr = r.runPhase(ctx, run, phase)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return lastErr
		}
		if !shouldRetry(lastErr) {
			return lastErr
		}
		if attempt >= len(r.opts.RetryBackoff) {
			return fmt.Errorf("phase %s failed after %d attempts: %w", phase, attempt+1, lastErr)
		}

		metrics.RetryAttempts.WithLabelValues(string(phase)).Inc()
		r.logger.Warn("Task %s phase %s attempt %d failed, retrying in %s: %v",
			run.spec.TaskID, phase, attempt+1, r.opts.RetryBackoff[attempt], lastErr)
		select {
		case <-ctx.Done():
			return lastErr
		case <-time.After(r.opts.RetryBackoff[attempt]):
		}
	}
}

func (r *Runner) runPhase(ctx context.Context, run *taskRun, phase proto.Phase) error {
	switch phase {
	case proto.PhasePlanning:
		return r.runPlanning(ctx, run)
	case proto.PhaseDraftOpened:
		return r.runDraftOpened(ctx, run)
	case proto.PhaseImplementing:
		return r.runImplementing(ctx, run)
	case proto.PhaseSelfReview:
		return r.runSelfReview(ctx, run)
	case proto.PhaseTesting:
		return r.runTesting(ctx, run)
	case proto.PhaseFinalizing:
		return r.runFinalizing(ctx, run)
	default:
		return logicalf("unknown phase %s", phase)
	}
}

func (r *Runner) runPlanning(ctx context.Context, run *taskRun) error {
	result, err := r.execute(ctx, run, fmt.Sprintf(
		"Plan the following task. Study the repository, then produce a short implementation plan.\n\nTask: %s",
		run.spec.TaskDescription))
	if err != nil {
		return err
	}
	run.report.Plan = result.Output
	run.report.Title = prTitle(run.spec.TaskDescription, result.Output)
	return nil
}

func (r *Runner) runDraftOpened(ctx context.Context, run *taskRun) error {
	if err := r.publisher.EnsureBranch(ctx, run.spec.BranchName); err != nil {
		return err
	}

	// A redelivered task may already have a draft from its first delivery.
	if existing, err := r.publisher.GetPR(ctx, run.spec.BranchName); err == nil && existing != nil {
		run.prRef = existing
		run.report.PRURL = existing.URL
		r.logger.Info("Task %s reusing PR #%d on %s", run.spec.TaskID, existing.Number, run.spec.BranchName)
		return nil
	}

	body := fmt.Sprintf("Work in progress.\n\n## Task\n\n%s\n\n## Plan\n\n%s\n\n_Requested by %s._",
		run.spec.TaskDescription, run.report.Plan, run.spec.RequesterName)
	ref, err := r.publisher.CreateDraft(ctx, run.spec.BranchName, run.report.Title, body)
	if err != nil {
		return err
	}

	run.prRef = ref
	run.report.PRURL = ref.URL
	r.post(ctx, run, fmt.Sprintf("Draft PR opened: %s", ref.URL))
	return nil
}

func (r *Runner) runImplementing(ctx context.Context, run *taskRun) error {
	result, err := r.execute(ctx, run, fmt.Sprintf(
		"Implement the planned work on branch %s and commit as you go.\n\nTask: %s\n\nPlan:\n%s",
		run.spec.BranchName, run.spec.TaskDescription, run.report.Plan))
	if err != nil {
		return err
	}
	run.report.AddFiles(result.FilesTouched)
	return nil
}

func (r *Runner) runSelfReview(ctx context.Context, run *taskRun) error {
	result, err := r.execute(ctx, run,
		"Review your changes as a careful colleague would. Fix anything you find and commit the fixes.")
	if err != nil {
		return err
	}
	run.report.AddFiles(result.FilesTouched)
	return nil
}

func (r *Runner) runTesting(ctx context.Context, run *taskRun) error {
	result, err := r.execute(ctx, run,
		"Run the project's test suite. Fix failures caused by your changes, commit the fixes, "+
			"and give a pass or fail verdict on the final state.")
	if err != nil {
		return err
	}
	run.report.AddFiles(result.FilesTouched)

	passed := result.Verdict != dog.VerdictFail
	run.report.TestsPassed = &passed
	if !passed {
		return logicalf("tests failing after fixes: %s", firstLine(result.Output))
	}
	return nil
}

func (r *Runner) runFinalizing(ctx context.Context, run *taskRun) error {
	if run.prRef == nil {
		return logicalf("no PR to finalize for task %s", run.spec.TaskID)
	}

	feedback, err := r.relay.RenderForPR(ctx, run.spec.TaskID)
	if err != nil {
		r.logger.Warn("Could not render feedback for task %s: %v", run.spec.TaskID, err)
	} else {
		run.report.Feedback = feedback
	}

	run.report.Duration = time.Since(run.report.StartTime)
	if err := r.publisher.UpdateBody(ctx, run.prRef, run.report.RenderPRBody()); err != nil {
		return err
	}
	if err := r.publisher.UpdateTitle(ctx, run.prRef, run.report.Title); err != nil {
		return err
	}
	return r.publisher.MarkReady(ctx, run.prRef)
}

// execute invokes the agent, folding any pending feedback into the prompt.
func (r *Runner) execute(ctx context.Context, run *taskRun, prompt string) (*dog.Result, error) {
	if len(run.pending) > 0 {
		prompt = prompt + "\n\n" + relay.FormatForPrompt(run.pending)
		run.pending = nil
	}

	result, err := r.agent.Execute(ctx, dog.Request{
		TaskID:  run.spec.TaskID,
		Workdir: filepath.Join(r.opts.WorkDir, run.spec.TaskID),
		Prompt:  prompt,
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// finish drives the task to its terminal phase: report bookkeeping, PR
// update, thread notification, archive, and always the busy release.
func (r *Runner) finish(ctx context.Context, run *taskRun, terminal proto.Phase, cause error) {
	report := run.report
	report.Terminal = terminal
	report.Duration = time.Since(report.StartTime)
	if cause != nil {
		report.Error = cause.Error()
	}
	if terminal == proto.PhaseCancelled {
		report.CompletedPhases, report.RemainingPhases = proto.SplitWorkingPhases(run.lastDone)
		if err := r.canceller.Clear(ctx, run.spec.TaskID); err != nil {
			r.logger.Warn("Failed to clear cancel flag for task %s: %v", run.spec.TaskID, err)
		}
	}

	if run.prRef != nil {
		if err := r.publisher.UpdateBody(ctx, run.prRef, report.RenderPRBody()); err != nil {
			r.logger.Warn("Failed to update PR body for task %s: %v", run.spec.TaskID, err)
		}
	}

	r.post(ctx, run, terminalMessage(run, terminal))

	if err := r.selector.MarkFree(ctx, run.spec.DogName, run.spec.TaskID); err != nil {
		r.logger.Error("Failed to release %s after task %s: %v", run.spec.DogName, run.spec.TaskID, err)
	}

	if r.archive != nil {
		if err := r.archive.RecordReport(ctx, run.spec, report); err != nil {
			r.logger.Error("Failed to archive report for task %s: %v", run.spec.TaskID, err)
		}
	}

	metrics.TasksTerminal.WithLabelValues(string(terminal)).Inc()
	r.logger.Info("Task %s reached %s after %s", run.spec.TaskID, terminal, report.Duration.Round(time.Second))
}

func terminalMessage(run *taskRun, terminal proto.Phase) string {
	switch terminal {
	case proto.PhaseReady:
		return fmt.Sprintf(":white_check_mark: *%s* finished! PR is ready for review: %s",
			run.spec.DogDisplayName, run.report.PRURL)
	case proto.PhaseCancelled:
		msg := fmt.Sprintf(":octagonal_sign: Task cancelled by %s.", run.report.CancelledBy)
		if run.report.PRURL != "" {
			msg += fmt.Sprintf(" Partial work is on the draft PR: %s", run.report.PRURL)
		}
		return msg
	default:
		return fmt.Sprintf(":x: *%s* could not finish the task: %s",
			run.spec.DogDisplayName, run.report.Error)
	}
}

func (r *Runner) post(ctx context.Context, run *taskRun, text string) {
	if err := r.messenger.Post(ctx, run.spec.ChannelID, run.spec.ThreadTS, text); err != nil {
		r.logger.Warn("Failed to post to thread %s: %v", run.spec.ThreadTS, err)
	}
}

// prTitle derives the PR title from the plan's first line, falling back to
// the task description, truncated to fit. Truncation counts runes so a
// multi-byte character is never split.
func prTitle(description, plan string) string {
	title := firstLine(plan)
	if title == "" {
		title = firstLine(description)
	}
	if utf8.RuneCountInString(title) > maxTitleLen {
		runes := []rune(title)
		title = strings.TrimSpace(string(runes[:maxTitleLen-3])) + "..."
	}
	return "[Dogwalker] " + title
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(strings.TrimLeft(s, "# "))
}

// logicalError marks failures that retrying cannot help: bad input, failing
// tests, a phase that cannot run. They fail the task immediately.
type logicalError struct{ msg string }

func (e *logicalError) Error() string { return e.msg }

func logicalf(format string, args ...any) error {
	return &logicalError{msg: fmt.Sprintf(format, args...)}
}

func isLogical(err error) bool {
	var le *logicalError
	return errors.As(err, &le)
}

// RetryableError lets a collaborator declare its own retry class instead of
// relying on message inspection.
type RetryableError interface {
	error
	ShouldRetry() bool
}

// shouldRetry classifies an error as transient. Classification is positive:
// only recognizable network, rate-limit, and server-error signatures retry.
// Everything else, including auth rejections and other client errors, fails
// the phase immediately.
func shouldRetry(err error) bool {
	if errors.Is(err, dog.ErrNoChanges) || isLogical(err) {
		return false
	}

	var re RetryableError
	if errors.As(err, &re) {
		return re.ShouldRetry()
	}

	errStr := err.Error()

	// Network failures.
	if strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "connection") ||
		strings.Contains(errStr, "network") ||
		strings.Contains(errStr, "temporary") ||
		strings.Contains(errStr, "unavailable") {
		return true
	}

	// Rate limiting.
	if strings.Contains(errStr, "rate") || strings.Contains(errStr, "429") {
		return true
	}

	// Server errors.
	if strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504") {
		return true
	}

	return false
}
