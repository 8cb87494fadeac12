// Package orchestrator coordinates one lifecycle step of a submission: it
// partitions the template's nodes and policies across the registered
// adaptors, invokes each adaptor in the step's configured order, and
// aggregates the per-adaptor outcomes into a single step result.
//
// Adaptor invocations within a step are strictly sequential: each adaptor may
// depend on side effects of the previous one (infrastructure before
// containers, containers before policies). Independent submissions can be
// orchestrated concurrently; the registry and pipeline are read-only after
// load, and each submission owns its own Context.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/micado-scale/submitter/adaptorclient"
	"github.com/micado-scale/submitter/pipeline"
	"github.com/micado-scale/submitter/registry"
	"github.com/micado-scale/submitter/submission"
	"github.com/micado-scale/submitter/template"
)

// Invoker abstracts the adaptor client so tests can substitute fakes.
type Invoker interface {
	// Adaptor returns the descriptor this invoker calls.
	Adaptor() *registry.Descriptor
	// Invoke dispatches one step to the adaptor with its matched subset.
	Invoke(ctx context.Context, step pipeline.Step, submissionID string, subset adaptorclient.Subset) (adaptorclient.Outcome, error)
}

// StepObserver receives the outcome of each completed step, e.g. for metrics.
type StepObserver interface {
	ObserveStep(step pipeline.Step, status submission.Status, duration time.Duration)
}

// Orchestrator runs lifecycle steps for submissions.
type Orchestrator struct {
	registry *registry.Registry
	pipeline *pipeline.Pipeline
	invokers map[string]Invoker
	store    submission.Store
	observer StepObserver
	logger   *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger.With("component", "orchestrator") }
}

// WithStore persists submission state after every step.
func WithStore(store submission.Store) Option {
	return func(o *Orchestrator) { o.store = store }
}

// WithObserver reports step outcomes to the observer.
func WithObserver(obs StepObserver) Option {
	return func(o *Orchestrator) { o.observer = obs }
}

// WithInvoker replaces the invoker for one adaptor. Used by tests and
// dry-run tooling.
func WithInvoker(inv Invoker) Option {
	return func(o *Orchestrator) { o.invokers[inv.Adaptor().Name] = inv }
}

// WithAdaptorTimeout bounds each adaptor call made by the default clients.
func WithAdaptorTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		for name, inv := range o.invokers {
			if client, ok := inv.(*adaptorclient.Client); ok {
				o.invokers[name] = adaptorclient.New(client.Adaptor(), adaptorclient.WithTimeout(d))
			}
		}
	}
}

// New creates an Orchestrator over the given registry and pipeline. By
// default every registered adaptor gets a real HTTP client.
func New(reg *registry.Registry, pipe *pipeline.Pipeline, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry: reg,
		pipeline: pipe,
		invokers: make(map[string]Invoker),
		logger:   slog.Default().With("component", "orchestrator"),
	}
	for _, d := range reg.All() {
		o.invokers[d.Name] = adaptorclient.New(d)
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Partition resolves every node and policy of the template to its owning
// adaptor. Returns the subsets keyed by adaptor name. An unmatched type is a
// hard error; nothing is dispatched in that case.
func (o *Orchestrator) Partition(tpl *template.Template) (map[string]adaptorclient.Subset, error) {
	subsets := make(map[string]adaptorclient.Subset)

	for _, node := range tpl.Nodes {
		d, err := o.registry.Match(node.Type)
		if err != nil {
			return nil, fmt.Errorf("node %q: %w", node.Name, err)
		}
		subset := subsets[d.Name]
		subset.Nodes = append(subset.Nodes, node)
		subsets[d.Name] = subset
	}

	for _, policy := range tpl.Policies {
		d, err := o.registry.Match(policy.Type)
		if err != nil {
			return nil, fmt.Errorf("policy %q: %w", policy.Name, err)
		}
		subset := subsets[d.Name]
		subset.Policies = append(subset.Policies, policy)
		subsets[d.Name] = subset
	}

	return subsets, nil
}

// RunStep executes one lifecycle step for a submission.
//
// Pre-flight failures (state machine violation, unknown step, unmatched
// type) are returned as errors before any adaptor is contacted. Once
// dispatch begins, per-adaptor failures are attached to the returned result:
// translate/execute/update halt at the first failure, undeploy/cleanup
// attempt every adaptor and report all outcomes.
func (o *Orchestrator) RunStep(ctx context.Context, step pipeline.Step, sub *submission.Context) (*submission.Result, error) {
	if err := sub.CanRun(step); err != nil {
		return nil, err
	}

	order, err := o.pipeline.Order(step)
	if err != nil {
		return nil, err
	}

	tpl := sub.Template
	if tpl == nil {
		tpl = &template.Template{}
	}
	subsets, err := o.Partition(tpl)
	if err != nil {
		return nil, err
	}
	o.warnUnroutedSubsets(step, order, subsets)

	logger := o.logger.With("submission", sub.ID, "step", step.String())
	logger.Info("running step", "adaptors", len(order), "entities", tpl.Entities())

	result := &submission.Result{
		SubmissionID: sub.ID,
		Step:         step,
		Status:       submission.StatusSuccess,
		StartedAt:    time.Now(),
	}

	halted := false
	for _, d := range order {
		if halted {
			result.Adaptors = append(result.Adaptors, submission.StepResult{
				Adaptor: d.Name,
				Outcome: submission.OutcomeNotInvoked,
			})
			continue
		}

		sr := o.invokeAdaptor(ctx, step, sub.ID, d, subsets[d.Name], logger)
		result.Adaptors = append(result.Adaptors, sr)

		if sr.Outcome != submission.OutcomeFailed {
			continue
		}

		if ctx.Err() != nil {
			// Cancellation halts every step kind; no partial state
			// transition is recorded.
			result.Status = submission.StatusCancelled
			halted = true
			continue
		}

		result.Status = submission.StatusFailed
		if step.FailFast() {
			logger.Error("step halted by adaptor failure", "adaptor", d.Name, "error", sr.Error)
			halted = true
			continue
		}
		// Best-effort steps keep going to reclaim as much as possible.
		logger.Warn("adaptor failed, continuing best-effort step", "adaptor", d.Name, "error", sr.Error)
	}

	result.EndedAt = time.Now()

	sub.Record(result)
	if o.store != nil {
		if err := o.store.Save(sub); err != nil {
			logger.Error("failed to persist submission", "error", err)
		}
	}
	if o.observer != nil {
		o.observer.ObserveStep(step, result.Status, result.EndedAt.Sub(result.StartedAt))
	}

	logger.Info("step finished", "status", result.Status)
	return result, nil
}

// invokeAdaptor calls one adaptor and converts the outcome into a StepResult.
// Adaptors with an empty subset are still invoked: some perform step-scoped
// bookkeeping regardless of subset size.
func (o *Orchestrator) invokeAdaptor(ctx context.Context, step pipeline.Step, submissionID string, d *registry.Descriptor, subset adaptorclient.Subset, logger *slog.Logger) submission.StepResult {
	inv, ok := o.invokers[d.Name]
	if !ok {
		return submission.StepResult{
			Adaptor: d.Name,
			Outcome: submission.OutcomeFailed,
			Error:   fmt.Sprintf("no invoker registered for adaptor %s", d.Name),
		}
	}

	start := time.Now()
	outcome, err := inv.Invoke(ctx, step, submissionID, subset)
	sr := submission.StepResult{
		Adaptor:  d.Name,
		Entities: subset.Entities(),
		Duration: time.Since(start),
	}

	switch {
	case err != nil:
		sr.Outcome = submission.OutcomeFailed
		sr.Error = err.Error()
	case outcome.Skipped:
		sr.Outcome = submission.OutcomeSkipped
		sr.Artifacts = outcome.Artifacts
	default:
		sr.Outcome = submission.OutcomeSuccess
		sr.Artifacts = outcome.Artifacts
	}

	logger.Debug("adaptor invoked",
		"adaptor", d.Name,
		"outcome", sr.Outcome,
		"entities", sr.Entities,
		"duration", sr.Duration,
	)
	return sr
}

// warnUnroutedSubsets flags entities matched to an adaptor the step order
// never invokes. This points at a configuration gap; the step itself
// proceeds with the adaptors it has.
func (o *Orchestrator) warnUnroutedSubsets(step pipeline.Step, order []*registry.Descriptor, subsets map[string]adaptorclient.Subset) {
	inOrder := make(map[string]bool, len(order))
	for _, d := range order {
		inOrder[d.Name] = true
	}
	for name, subset := range subsets {
		if !inOrder[name] && subset.Entities() > 0 {
			o.logger.Warn("entities matched to adaptor outside step order",
				"step", step.String(), "adaptor", name, "entities", subset.Entities())
		}
	}
}

// IsTransient reports whether an adaptor error is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, adaptorclient.ErrUnreachable) || errors.Is(err, adaptorclient.ErrTimeout)
}
