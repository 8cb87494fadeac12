// Package adaptorclient invokes one backend adaptor for one lifecycle step.
//
// A call carries the node/policy subset matched to the adaptor and is
// mirrored as file artifacts under the adaptor's volume, namespaced by
// submission ID so concurrent submissions never collide. Artifact writes are
// all-or-nothing: payloads go to a temp file and are renamed into place only
// after the adaptor accepted the step, so a failed call leaves no partial
// artifact behind.
//
// The client classifies failures but never retries; retry policy belongs to
// the caller.
package adaptorclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/micado-scale/submitter/pipeline"
	"github.com/micado-scale/submitter/registry"
	"github.com/micado-scale/submitter/template"
)

var (
	// ErrUnreachable means the adaptor endpoint could not be contacted.
	// Transient; the caller may retry with backoff.
	ErrUnreachable = errors.New("adaptor unreachable")
	// ErrTimeout means the call exceeded its bounded timeout. Transient.
	ErrTimeout = errors.New("adaptor call timed out")
	// ErrRejected means the adaptor reported a semantic failure. Not
	// retryable; the adaptor's message is surfaced verbatim.
	ErrRejected = errors.New("adaptor rejected step")
)

const defaultTimeout = 60 * time.Second

// Subset is the slice of a template matched to one adaptor.
type Subset struct {
	Nodes    []template.Node   `json:"nodes"`
	Policies []template.Policy `json:"policies"`
}

// Entities returns the number of nodes and policies in the subset.
func (s Subset) Entities() int { return len(s.Nodes) + len(s.Policies) }

// Outcome is the successful result of one adaptor call.
type Outcome struct {
	// Skipped is set when the adaptor had nothing to do: an update with an
	// unchanged payload, or undeploy/cleanup with no prior artifacts.
	Skipped bool
	// Message is the adaptor's status message, if any.
	Message string
	// Artifacts are the paths written or claimed under the adaptor volume.
	Artifacts []string
}

// Client invokes a single registered adaptor.
type Client struct {
	adaptor    *registry.Descriptor
	httpClient *http.Client
	timeout    time.Duration
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout bounds each adaptor call.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger.With("adaptor", c.adaptor.Name) }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New creates a Client for the given adaptor.
func New(adaptor *registry.Descriptor, opts ...Option) *Client {
	c := &Client{
		adaptor:    adaptor,
		httpClient: &http.Client{},
		timeout:    defaultTimeout,
		logger:     slog.Default().With("adaptor", adaptor.Name),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Adaptor returns the descriptor this client calls.
func (c *Client) Adaptor() *registry.Descriptor { return c.adaptor }

// stepRequest is the wire payload for one (step, adaptor, submission) call.
type stepRequest struct {
	SubmissionID string            `json:"submission_id"`
	Step         string            `json:"step"`
	Nodes        []template.Node   `json:"nodes"`
	Policies     []template.Policy `json:"policies"`
}

// stepResponse is the adaptor's reply.
type stepResponse struct {
	Status    string   `json:"status"` // "ok" or "error"
	Message   string   `json:"message,omitempty"`
	Artifacts []string `json:"artifacts,omitempty"` // relative to the volume
}

// Invoke sends the subset to the adaptor for the given step.
//
// translate/execute write the desired-state payload; update compares the new
// payload against the previous one and skips the call when nothing changed;
// undeploy is skipped when the submission never produced a payload for this
// adaptor; cleanup removes the submission's artifact directory on success.
func (c *Client) Invoke(ctx context.Context, step pipeline.Step, submissionID string, subset Subset) (Outcome, error) {
	dir := filepath.Join(c.adaptor.Volume, submissionID)
	payloadPath := filepath.Join(dir, "payload.json")

	switch step {
	case pipeline.StepUndeploy:
		if !fileExists(payloadPath) {
			c.logger.Info("no payload for submission, skipping undeploy", "submission", submissionID)
			return Outcome{Skipped: true, Message: "no artifacts to undeploy"}, nil
		}
		return c.call(ctx, step, submissionID, subset, payloadPath, nil)

	case pipeline.StepCleanup:
		if !fileExists(dir) {
			c.logger.Info("no artifact dir for submission, skipping cleanup", "submission", submissionID)
			return Outcome{Skipped: true, Message: "no artifacts to clean up"}, nil
		}
		outcome, err := c.call(ctx, step, submissionID, subset, payloadPath, nil)
		if err != nil {
			return Outcome{}, err
		}
		if err := os.RemoveAll(dir); err != nil {
			return Outcome{}, fmt.Errorf("removing artifact dir: %w", err)
		}
		outcome.Artifacts = nil
		return outcome, nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return Outcome{}, fmt.Errorf("creating artifact dir: %w", err)
	}

	payload, err := marshalPayload(submissionID, subset)
	if err != nil {
		return Outcome{}, err
	}

	tmp := payloadPath + ".tmp"
	if err := os.WriteFile(tmp, payload, 0644); err != nil {
		return Outcome{}, fmt.Errorf("writing payload: %w", err)
	}

	if step == pipeline.StepUpdate {
		if previous, err := os.ReadFile(payloadPath); err == nil && bytes.Equal(previous, payload) {
			os.Remove(tmp)
			c.logger.Info("payload unchanged, skipping update", "submission", submissionID)
			return Outcome{Skipped: true, Message: "nothing to update", Artifacts: []string{payloadPath}}, nil
		}
	}

	outcome, err := c.call(ctx, step, submissionID, subset, payloadPath, func() error {
		return os.Rename(tmp, payloadPath)
	})
	if err != nil {
		os.Remove(tmp)
		return Outcome{}, err
	}
	return outcome, nil
}

// call performs the HTTP exchange. commit, if non-nil, finalizes pending
// artifact writes once the adaptor accepted the step.
func (c *Client) call(ctx context.Context, step pipeline.Step, submissionID string, subset Subset, payloadPath string, commit func() error) (Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := marshalRequest(submissionID, step, subset)
	if err != nil {
		return Outcome{}, err
	}

	url := fmt.Sprintf("%s/v1/%s", c.adaptor.Endpoint, step)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Outcome{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	c.logger.Debug("invoking adaptor", "step", step, "submission", submissionID, "entities", subset.Entities())
	start := time.Now()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Outcome{}, c.classify(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: reading response: %v", ErrUnreachable, err)
	}

	var reply stepResponse
	if len(respBody) > 0 {
		// A non-JSON body is treated as a plain rejection message below.
		_ = json.Unmarshal(respBody, &reply)
	}

	if resp.StatusCode/100 != 2 || reply.Status == "error" {
		msg := reply.Message
		if msg == "" {
			msg = fmt.Sprintf("status %d: %s", resp.StatusCode, bytes.TrimSpace(respBody))
		}
		return Outcome{}, fmt.Errorf("%w: %s", ErrRejected, msg)
	}

	if commit != nil {
		if err := commit(); err != nil {
			return Outcome{}, fmt.Errorf("finalizing payload: %w", err)
		}
	}

	artifacts := []string{payloadPath}
	for _, rel := range reply.Artifacts {
		artifacts = append(artifacts, filepath.Join(c.adaptor.Volume, submissionID, rel))
	}

	c.logger.Info("adaptor call completed",
		"step", step,
		"submission", submissionID,
		"duration", time.Since(start),
	)
	return Outcome{Message: reply.Message, Artifacts: artifacts}, nil
}

// classify maps a transport error onto the client's error taxonomy.
// Caller-initiated cancellation is passed through untouched so the caller
// can tell it apart from a timeout.
func (c *Client) classify(err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %s", ErrTimeout, c.adaptor.Name)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %s", ErrTimeout, c.adaptor.Name)
	}
	return fmt.Errorf("%w: %s: %v", ErrUnreachable, c.adaptor.Name, err)
}

// desiredState is the artifact mirrored to the adaptor volume. It carries no
// step name so an unchanged topology yields a byte-identical payload across
// steps, which is what update diffing relies on.
type desiredState struct {
	SubmissionID string            `json:"submission_id"`
	Nodes        []template.Node   `json:"nodes"`
	Policies     []template.Policy `json:"policies"`
}

func marshalPayload(submissionID string, subset Subset) ([]byte, error) {
	payload, err := json.MarshalIndent(desiredState{
		SubmissionID: submissionID,
		Nodes:        orEmpty(subset.Nodes),
		Policies:     orEmpty(subset.Policies),
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling payload: %w", err)
	}
	return payload, nil
}

func marshalRequest(submissionID string, step pipeline.Step, subset Subset) ([]byte, error) {
	body, err := json.Marshal(stepRequest{
		SubmissionID: submissionID,
		Step:         step.String(),
		Nodes:        orEmpty(subset.Nodes),
		Policies:     orEmpty(subset.Policies),
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}
	return body, nil
}

// orEmpty keeps empty subsets as [] rather than null on the wire.
func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
