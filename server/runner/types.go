package runner

import (
	"time"

	"github.com/micado-scale/submitter/logging"
	"github.com/micado-scale/submitter/pipeline"
	"github.com/micado-scale/submitter/submission"
)

// RunState is the lifecycle of one background run.
type RunState int

const (
	// RunStateRunning indicates the run's steps are still executing.
	RunStateRunning RunState = iota
	// RunStateDone indicates the run finished, successfully or not.
	RunStateDone
)

func (s RunState) String() string {
	switch s {
	case RunStateRunning:
		return "running"
	case RunStateDone:
		return "done"
	default:
		return "unknown"
	}
}

// MarshalJSON implements json.Marshaler.
func (s RunState) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// RunStatus describes one background run: a sequence of lifecycle steps
// executed for a single submission.
type RunStatus struct {
	// SubmissionID identifies the submission the run operates on.
	SubmissionID string `json:"submission_id"`
	// Steps is the step sequence the run executes, in order.
	Steps []pipeline.Step `json:"steps"`
	// State is the current state of the run.
	State RunState `json:"state"`
	// StartedAt is when the run started.
	StartedAt time.Time `json:"started_at"`
	// EndedAt is when the run ended. Nil while running.
	EndedAt *time.Time `json:"ended_at,omitempty"`
	// Error holds the message of the step failure that ended the run early.
	Error string `json:"error,omitempty"`
	// Results are the aggregate results of the steps that ran.
	Results []*submission.Result `json:"results,omitempty"`
	// Logs are the log entries captured per adaptor during the run.
	Logs map[string][]logging.Entry `json:"logs,omitempty"`
}
