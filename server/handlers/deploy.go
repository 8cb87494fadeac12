package handlers

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/micado-scale/submitter/server/runner"
	"github.com/micado-scale/submitter/submission"
	"github.com/micado-scale/submitter/template"
)

// AppRequest is the request body for deploy and update calls. The ADT is the
// application description template as a YAML document.
type AppRequest struct {
	ID  string `json:"id,omitempty"`
	ADT string `json:"adt"`
}

// AppResponse acknowledges an accepted deploy or update.
type AppResponse struct {
	ID string `json:"id"`
}

// DeployHandler accepts a new application and starts its deployment.
type DeployHandler struct {
	store    submission.Store
	deployer Deployer
}

// NewDeployHandler creates a new DeployHandler.
func NewDeployHandler(store submission.Store, deployer Deployer) *DeployHandler {
	return &DeployHandler{store: store, deployer: deployer}
}

// ServeHTTP implements http.Handler.
func (h *DeployHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	req, tpl, ok := decodeAppRequest(w, r)
	if !ok {
		return
	}

	id := req.ID
	if id == "" {
		id = generateID(tpl.Name)
	}
	if _, exists := h.store.Get(id); exists {
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error: fmt.Sprintf("application %q already exists", id),
		})
		return
	}

	sub := submission.New(id, tpl.Name)
	sub.Template = tpl
	if err := h.store.Save(sub); err != nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}

	if err := h.deployer.Deploy(sub); err != nil {
		writeJSON(w, deployErrorStatus(err), ErrorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusAccepted, AppResponse{ID: id})
}

// decodeAppRequest parses the request body and its embedded ADT. Writes the
// error response itself when parsing fails.
func decodeAppRequest(w http.ResponseWriter, r *http.Request) (AppRequest, *template.Template, bool) {
	var req AppRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error: fmt.Sprintf("invalid JSON: %v", err),
		})
		return req, nil, false
	}
	if req.ADT == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "adt is required"})
		return req, nil, false
	}

	tpl, err := template.Parse([]byte(req.ADT))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error: fmt.Sprintf("invalid template: %v", err),
		})
		return req, nil, false
	}
	return req, tpl, true
}

// deployErrorStatus maps runner and state machine errors to HTTP statuses.
func deployErrorStatus(err error) int {
	if errors.Is(err, runner.ErrRunInProgress) || errors.Is(err, submission.ErrInvalidStepForState) {
		return http.StatusConflict
	}
	return http.StatusBadRequest
}

// generateID builds a unique application ID from the template name.
func generateID(name string) string {
	buf := make([]byte, 4)
	rand.Read(buf)
	if name == "" {
		name = "app"
	}
	return name + "-" + hex.EncodeToString(buf)
}
