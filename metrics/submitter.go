package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/micado-scale/submitter/pipeline"
	"github.com/micado-scale/submitter/submission"
)

// Submitter holds the deployment-level metrics. It satisfies the
// orchestrator's StepObserver interface.
type Submitter struct {
	stepsTotal        CounterVec
	stepDuration      GaugeVec
	activeSubmissions Gauge
}

// NewSubmitter registers the submitter metrics on the given registry.
func NewSubmitter(reg Registry) (*Submitter, error) {
	stepsTotal, err := reg.NewCounterVec(prometheus.CounterOpts{
		Name: "steps_total",
		Help: "Completed lifecycle steps by step name and aggregate status.",
	}, []string{"step", "status"})
	if err != nil {
		return nil, fmt.Errorf("creating steps_total: %w", err)
	}

	stepDuration, err := reg.NewGaugeVec(prometheus.GaugeOpts{
		Name: "step_duration_seconds",
		Help: "Duration of the most recent run of each lifecycle step.",
	}, []string{"step"})
	if err != nil {
		return nil, fmt.Errorf("creating step_duration_seconds: %w", err)
	}

	activeSubmissions, err := reg.NewGauge(prometheus.GaugeOpts{
		Name: "active_submissions",
		Help: "Submissions that are deployed or partway through their lifecycle.",
	})
	if err != nil {
		return nil, fmt.Errorf("creating active_submissions: %w", err)
	}

	return &Submitter{
		stepsTotal:        stepsTotal,
		stepDuration:      stepDuration,
		activeSubmissions: activeSubmissions,
	}, nil
}

// ObserveStep records one completed lifecycle step.
func (s *Submitter) ObserveStep(step pipeline.Step, status submission.Status, duration time.Duration) {
	s.stepsTotal.With(prometheus.Labels{
		"step":   step.String(),
		"status": string(status),
	}).Inc()
	s.stepDuration.With(prometheus.Labels{"step": step.String()}).Set(duration.Seconds())
}

// SetActiveSubmissions updates the live submission gauge.
func (s *Submitter) SetActiveSubmissions(n int) {
	s.activeSubmissions.Set(float64(n))
}
