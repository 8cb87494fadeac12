// Package submission tracks the lifecycle of one deployed application
// instance: its state machine, per-step results, and the artifact locations
// adaptors produced for it. Records persist across process restarts so a
// later undeploy or cleanup can still find everything.
package submission

import (
	"errors"
	"fmt"
	"time"

	"github.com/micado-scale/submitter/pipeline"
	"github.com/micado-scale/submitter/template"
)

// ErrInvalidStepForState is returned when a step is requested that the
// submission's current state does not permit.
var ErrInvalidStepForState = errors.New("step not valid for submission state")

// State is the lifecycle state of a submission.
type State string

const (
	StateCreated    State = "created"
	StateTranslated State = "translated"
	StateExecuted   State = "executed"
	StateUpdated    State = "updated"
	StateUndeployed State = "undeployed"
	StateCleanedUp  State = "cleaned_up"
)

// Context is the whole-lifetime record of one submission. It is mutated only
// by the orchestrator, after a step completes.
type Context struct {
	// ID uniquely identifies the submission. Adaptor artifact paths are
	// namespaced by it.
	ID string `json:"id"`
	// AppName is the template's application name.
	AppName string `json:"app_name"`

	State     State     `json:"state"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Template is the topology the submission was last run with. Kept so
	// undeploy/cleanup in a later process invocation can rebuild the
	// per-adaptor partition.
	Template *template.Template `json:"template,omitempty"`

	// Artifacts maps adaptor name to the artifact paths it has produced.
	Artifacts map[string][]string `json:"artifacts,omitempty"`

	// LastResult is the aggregate result of the most recent step invocation.
	LastResult *Result `json:"last_result,omitempty"`
}

// New creates a submission in the Created state.
func New(id, appName string) *Context {
	now := time.Now()
	return &Context{
		ID:        id,
		AppName:   appName,
		State:     StateCreated,
		CreatedAt: now,
		UpdatedAt: now,
		Artifacts: make(map[string][]string),
	}
}

// CanRun reports whether the submission's state permits the given step.
// The state machine is
//
//	Created -> Translated -> Executed -> {Updated}* -> Undeployed -> CleanedUp
//
// with Undeployed reachable from any state after Translated, and CleanedUp
// terminal.
func (c *Context) CanRun(step pipeline.Step) error {
	if c.State == StateCleanedUp {
		return fmt.Errorf("%w: submission %s is cleaned up", ErrInvalidStepForState, c.ID)
	}

	allowed := false
	switch step {
	case pipeline.StepTranslate:
		allowed = c.State == StateCreated || c.State == StateTranslated
	case pipeline.StepExecute:
		allowed = c.State == StateTranslated
	case pipeline.StepUpdate:
		allowed = c.State == StateExecuted || c.State == StateUpdated
	case pipeline.StepUndeploy:
		allowed = c.State == StateTranslated || c.State == StateExecuted ||
			c.State == StateUpdated || c.State == StateUndeployed
	case pipeline.StepCleanup:
		allowed = c.State == StateUndeployed
	}

	if !allowed {
		return fmt.Errorf("%w: cannot %s while %s", ErrInvalidStepForState, step, c.State)
	}
	return nil
}

// stateAfter maps a successfully completed step to the resulting state.
func stateAfter(step pipeline.Step) State {
	switch step {
	case pipeline.StepTranslate:
		return StateTranslated
	case pipeline.StepExecute:
		return StateExecuted
	case pipeline.StepUpdate:
		return StateUpdated
	case pipeline.StepUndeploy:
		return StateUndeployed
	case pipeline.StepCleanup:
		return StateCleanedUp
	}
	return ""
}

// Record attaches a step result to the submission. The state only advances
// when the step succeeded; failed and cancelled steps leave it untouched so
// the caller can retry or roll back. Artifacts reported by individual
// adaptors are merged in either way.
func (c *Context) Record(result *Result) {
	c.LastResult = result
	c.UpdatedAt = time.Now()

	if c.Artifacts == nil {
		c.Artifacts = make(map[string][]string)
	}
	for _, sr := range result.Adaptors {
		if len(sr.Artifacts) > 0 {
			c.Artifacts[sr.Adaptor] = sr.Artifacts
		}
	}

	if result.Status == StatusSuccess {
		if next := stateAfter(result.Step); next != "" {
			c.State = next
		}
	}
}
