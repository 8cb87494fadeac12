package handlers

import (
	"fmt"
	"net/http"

	"github.com/micado-scale/submitter/server/runner"
	"github.com/micado-scale/submitter/submission"
)

// AppStatus combines the persisted submission record with any in-flight run.
type AppStatus struct {
	ID        string             `json:"id"`
	Name      string             `json:"name"`
	State     submission.State   `json:"state"`
	Artifacts map[string][]string `json:"artifacts,omitempty"`
	LastResult *submission.Result `json:"last_result,omitempty"`
	Run       *runner.RunStatus  `json:"run,omitempty"`
}

// StatusHandler reports the status of one application.
type StatusHandler struct {
	store submission.Store
	runs  RunStatusProvider
}

// NewStatusHandler creates a new StatusHandler.
func NewStatusHandler(store submission.Store, runs RunStatusProvider) *StatusHandler {
	return &StatusHandler{store: store, runs: runs}
}

// ServeHTTP implements http.Handler.
func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sub, ok := h.store.Get(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, ErrorResponse{
			Error: fmt.Sprintf("application %q not found", id),
		})
		return
	}

	status := AppStatus{
		ID:         sub.ID,
		Name:       sub.AppName,
		State:      sub.State,
		Artifacts:  sub.Artifacts,
		LastResult: sub.LastResult,
	}
	if run, running := h.runs.Status(id); running {
		status.Run = &run
	}

	writeJSON(w, http.StatusOK, status)
}

// ListHandler reports the status of all known applications.
type ListHandler struct {
	store submission.Store
	runs  RunStatusProvider
}

// NewListHandler creates a new ListHandler.
func NewListHandler(store submission.Store, runs RunStatusProvider) *ListHandler {
	return &ListHandler{store: store, runs: runs}
}

// ServeHTTP implements http.Handler.
func (h *ListHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	subs := h.store.List()
	statuses := make([]AppStatus, 0, len(subs))
	for _, sub := range subs {
		status := AppStatus{
			ID:    sub.ID,
			Name:  sub.AppName,
			State: sub.State,
		}
		if run, running := h.runs.Status(sub.ID); running {
			status.Run = &run
		}
		statuses = append(statuses, status)
	}
	writeJSON(w, http.StatusOK, statuses)
}
