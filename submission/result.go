package submission

import (
	"time"

	"github.com/micado-scale/submitter/pipeline"
)

// Outcome is the per-adaptor result of one step invocation.
type Outcome string

const (
	// OutcomeSuccess means the adaptor completed the step.
	OutcomeSuccess Outcome = "success"
	// OutcomeFailed means the adaptor reported or suffered a failure.
	OutcomeFailed Outcome = "failed"
	// OutcomeSkipped means the adaptor had nothing to do for this step,
	// e.g. an unchanged update payload or cleanup with no artifacts.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeNotInvoked means the step halted before reaching this adaptor.
	OutcomeNotInvoked Outcome = "not_invoked"
)

// Status is the aggregate result of one step invocation.
type Status string

const (
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// StepResult is the outcome of one adaptor handling one step.
type StepResult struct {
	Adaptor   string        `json:"adaptor"`
	Outcome   Outcome       `json:"outcome"`
	Artifacts []string      `json:"artifacts,omitempty"`
	Error     string        `json:"error,omitempty"`
	Entities  int           `json:"entities"` // nodes+policies in the subset
	Duration  time.Duration `json:"duration_ns"`
}

// Result aggregates the per-adaptor results of one step invocation, in
// invocation order.
type Result struct {
	SubmissionID string        `json:"submission_id"`
	Step         pipeline.Step `json:"step"`
	Status       Status        `json:"status"`
	Adaptors     []StepResult  `json:"adaptors"`
	StartedAt    time.Time     `json:"started_at"`
	EndedAt      time.Time     `json:"ended_at"`
}

// Failed returns the per-adaptor results that failed.
func (r *Result) Failed() []StepResult {
	var failed []StepResult
	for _, sr := range r.Adaptors {
		if sr.Outcome == OutcomeFailed {
			failed = append(failed, sr)
		}
	}
	return failed
}

// IsSuccess reports whether the step as a whole succeeded.
func (r *Result) IsSuccess() bool {
	return r.Status == StatusSuccess
}
