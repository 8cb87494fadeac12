// Package pipeline defines the fixed lifecycle steps and the ordered list of
// adaptors each step dispatches to.
//
// Order is significant and differs per step: infrastructure must exist before
// containers are scheduled, and undeploy reverses the creation order. The
// pipeline is loaded once from the step stanza and immutable afterwards.
package pipeline

import (
	"errors"
	"fmt"

	"github.com/micado-scale/submitter/registry"
)

// Step is one lifecycle phase of a deployment submission.
type Step string

const (
	StepTranslate Step = "translate"
	StepExecute   Step = "execute"
	StepUpdate    Step = "update"
	StepUndeploy  Step = "undeploy"
	StepCleanup   Step = "cleanup"
)

var (
	// ErrUnknownStep is returned for step names outside the closed
	// enumeration, or steps with no configured adaptor order.
	ErrUnknownStep = errors.New("unknown step")
	// ErrDanglingAdaptorReference is returned at load time when a step order
	// references an adaptor name absent from the registry.
	ErrDanglingAdaptorReference = errors.New("step order references unregistered adaptor")
)

// Steps returns the closed set of lifecycle steps in their natural order.
func Steps() []Step {
	return []Step{StepTranslate, StepExecute, StepUpdate, StepUndeploy, StepCleanup}
}

// ParseStep validates a step name against the closed enumeration.
func ParseStep(name string) (Step, error) {
	switch Step(name) {
	case StepTranslate, StepExecute, StepUpdate, StepUndeploy, StepCleanup:
		return Step(name), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStep, name)
}

// FailFast reports whether a per-adaptor failure halts the step immediately.
// Undeploy and cleanup are best-effort instead: every adaptor is attempted so
// as much of the deployment as possible is reclaimed.
func (s Step) FailFast() bool {
	switch s {
	case StepUndeploy, StepCleanup:
		return false
	}
	return true
}

// String returns the step name.
func (s Step) String() string { return string(s) }

// Pipeline maps each lifecycle step to its ordered adaptor sequence.
type Pipeline struct {
	orders map[Step][]*registry.Descriptor
}

// Load builds the Pipeline from the step stanza, resolving adaptor names
// against the registry. Unknown step names and references to unregistered
// adaptors are load-time errors.
func Load(stepOrders map[string][]string, reg *registry.Registry) (*Pipeline, error) {
	p := &Pipeline{orders: make(map[Step][]*registry.Descriptor, len(stepOrders))}

	for name, adaptorNames := range stepOrders {
		step, err := ParseStep(name)
		if err != nil {
			return nil, err
		}

		order := make([]*registry.Descriptor, 0, len(adaptorNames))
		for _, adaptorName := range adaptorNames {
			d, ok := reg.Lookup(adaptorName)
			if !ok {
				return nil, fmt.Errorf("%w: step %s names %q", ErrDanglingAdaptorReference, step, adaptorName)
			}
			order = append(order, d)
		}
		p.orders[step] = order
	}

	return p, nil
}

// Order returns the ordered adaptor sequence for a step. A step with no
// configured (or an empty) order is reported as unknown.
func (p *Pipeline) Order(step Step) ([]*registry.Descriptor, error) {
	order, ok := p.orders[step]
	if !ok || len(order) == 0 {
		return nil, fmt.Errorf("%w: no adaptor order for %q", ErrUnknownStep, step)
	}
	out := make([]*registry.Descriptor, len(order))
	copy(out, order)
	return out, nil
}
