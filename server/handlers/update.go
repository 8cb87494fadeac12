package handlers

import (
	"fmt"
	"net/http"

	"github.com/micado-scale/submitter/submission"
)

// UpdateHandler applies a new ADT to a deployed application.
type UpdateHandler struct {
	store    submission.Store
	deployer Deployer
}

// NewUpdateHandler creates a new UpdateHandler.
func NewUpdateHandler(store submission.Store, deployer Deployer) *UpdateHandler {
	return &UpdateHandler{store: store, deployer: deployer}
}

// ServeHTTP implements http.Handler.
func (h *UpdateHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sub, ok := h.store.Get(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, ErrorResponse{
			Error: fmt.Sprintf("application %q not found", id),
		})
		return
	}

	_, tpl, okReq := decodeAppRequest(w, r)
	if !okReq {
		return
	}

	sub.Template = tpl
	if err := h.deployer.Update(sub); err != nil {
		writeJSON(w, deployErrorStatus(err), ErrorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusAccepted, AppResponse{ID: id})
}
