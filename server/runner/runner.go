// Package runner executes lifecycle step sequences for submissions in the
// background.
//
// The runner serializes work per submission: a deploy, update or undeploy
// already in flight for a submission rejects further requests for the same
// submission with ErrRunInProgress, while other submissions proceed
// unhindered. Each run builds a fresh orchestrator from the current server
// dependencies, so a configuration reload takes effect on the next run
// without disturbing runs in progress.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/micado-scale/submitter/logging"
	"github.com/micado-scale/submitter/orchestrator"
	"github.com/micado-scale/submitter/pipeline"
	"github.com/micado-scale/submitter/submission"
)

// ErrRunInProgress is returned when a submission already has a run in flight.
var ErrRunInProgress = errors.New("submission already has a run in progress")

// Provider hands out the current dependencies for a run. Implementations
// must return an orchestrator whose adaptor logs flow into the given
// collector.
type Provider interface {
	Orchestrator(collector *logging.Collector) (*orchestrator.Orchestrator, error)
	Store() submission.Store
}

// Runner executes step sequences for submissions.
type Runner struct {
	logger   *slog.Logger
	provider Provider
	history  History

	mu     sync.Mutex
	active map[string]*RunStatus // submission ID -> in-flight run
}

// Option configures a Runner.
type Option func(*Runner)

// WithHistory replaces the default in-memory run history.
func WithHistory(h History) Option {
	return func(r *Runner) { r.history = h }
}

// New creates a Runner.
func New(logger *slog.Logger, provider Provider, opts ...Option) *Runner {
	r := &Runner{
		logger:   logger.With("component", "runner"),
		provider: provider,
		history:  NewMemoryHistory(0),
		active:   make(map[string]*RunStatus),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Deploy runs translate then execute for the submission.
func (r *Runner) Deploy(sub *submission.Context) error {
	return r.start(sub, pipeline.StepTranslate, pipeline.StepExecute)
}

// Update runs the update step for the submission.
func (r *Runner) Update(sub *submission.Context) error {
	return r.start(sub, pipeline.StepUpdate)
}

// Undeploy runs undeploy then cleanup for the submission.
func (r *Runner) Undeploy(sub *submission.Context) error {
	return r.start(sub, pipeline.StepUndeploy, pipeline.StepCleanup)
}

// Status returns the in-flight run for the submission, if any.
func (r *Runner) Status(submissionID string) (RunStatus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	status, ok := r.active[submissionID]
	if !ok {
		return RunStatus{}, false
	}
	return *status, true
}

// IsRunning reports whether the submission has a run in flight.
func (r *Runner) IsRunning(submissionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[submissionID]
	return ok
}

// History returns completed runs, most recent first.
func (r *Runner) History() []RunStatus {
	return r.history.Runs()
}

// start claims the submission and launches the step sequence in the
// background. The state machine is pre-checked for the first step so that
// obviously invalid requests fail synchronously.
func (r *Runner) start(sub *submission.Context, steps ...pipeline.Step) error {
	if err := sub.CanRun(steps[0]); err != nil {
		return err
	}

	r.mu.Lock()
	if _, ok := r.active[sub.ID]; ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrRunInProgress, sub.ID)
	}
	status := &RunStatus{
		SubmissionID: sub.ID,
		Steps:        steps,
		State:        RunStateRunning,
		StartedAt:    time.Now(),
	}
	r.active[sub.ID] = status
	r.mu.Unlock()

	r.logger.Info("starting run", "submission", sub.ID, "steps", stepNames(steps))

	go func() {
		err := r.execute(context.Background(), sub, status)
		r.finish(sub.ID, status, err)
	}()

	return nil
}

// execute runs the steps in order, stopping at the first step whose
// aggregate status is not success.
func (r *Runner) execute(ctx context.Context, sub *submission.Context, status *RunStatus) error {
	collector := logging.NewCollector()
	orch, err := r.provider.Orchestrator(collector)
	if err != nil {
		return fmt.Errorf("building orchestrator: %w", err)
	}

	for _, step := range status.Steps {
		result, err := orch.RunStep(ctx, step, sub)
		if err != nil {
			return fmt.Errorf("step %s: %w", step, err)
		}

		r.mu.Lock()
		status.Results = append(status.Results, result)
		status.Logs = collector.All()
		r.mu.Unlock()

		if !result.IsSuccess() {
			return fmt.Errorf("step %s ended with status %s", step, result.Status)
		}
	}
	return nil
}

// finish releases the submission and records the run in history.
func (r *Runner) finish(submissionID string, status *RunStatus, err error) {
	r.mu.Lock()
	now := time.Now()
	status.State = RunStateDone
	status.EndedAt = &now
	if err != nil {
		status.Error = err.Error()
	}
	final := *status
	delete(r.active, submissionID)
	r.mu.Unlock()

	duration := now.Sub(final.StartedAt)
	if err != nil {
		r.logger.Error("run failed", "submission", submissionID, "error", err, "duration", duration)
	} else {
		r.logger.Info("run completed", "submission", submissionID, "duration", duration)
	}

	r.history.Add(final)
}

func stepNames(steps []pipeline.Step) []string {
	names := make([]string, len(steps))
	for i, s := range steps {
		names[i] = s.String()
	}
	return names
}
