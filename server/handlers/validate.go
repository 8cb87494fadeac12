package handlers

import (
	"net/http"
)

// ValidateResponse reports how a template's entities map onto adaptors.
type ValidateResponse struct {
	Name     string         `json:"name"`
	Entities map[string]int `json:"entities_per_adaptor"`
}

// ValidateHandler checks a template against the registered adaptors without
// deploying anything.
type ValidateHandler struct {
	validator TemplateValidator
}

// NewValidateHandler creates a new ValidateHandler.
func NewValidateHandler(validator TemplateValidator) *ValidateHandler {
	return &ValidateHandler{validator: validator}
}

// ServeHTTP implements http.Handler.
func (h *ValidateHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_, tpl, ok := decodeAppRequest(w, r)
	if !ok {
		return
	}

	entities, err := h.validator.ValidateTemplate(tpl)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, ValidateResponse{
		Name:     tpl.Name,
		Entities: entities,
	})
}
