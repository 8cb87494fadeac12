package handlers

import (
	"fmt"
	"net/http"

	"github.com/micado-scale/submitter/submission"
)

// UndeployHandler tears an application down and reclaims its artifacts.
type UndeployHandler struct {
	store    submission.Store
	deployer Deployer
}

// NewUndeployHandler creates a new UndeployHandler.
func NewUndeployHandler(store submission.Store, deployer Deployer) *UndeployHandler {
	return &UndeployHandler{store: store, deployer: deployer}
}

// ServeHTTP implements http.Handler.
func (h *UndeployHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sub, ok := h.store.Get(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, ErrorResponse{
			Error: fmt.Sprintf("application %q not found", id),
		})
		return
	}

	if err := h.deployer.Undeploy(sub); err != nil {
		writeJSON(w, deployErrorStatus(err), ErrorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusAccepted, AppResponse{ID: id})
}
