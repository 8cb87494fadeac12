package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"log/slog"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/micado-scale/submitter/template"
)

func TestHandleHealth(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	HandleHealth(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
}

type fakeReloader struct {
	err   error
	calls int
}

func (f *fakeReloader) Reload() error {
	f.calls++
	return f.err
}

func TestReloadHandler(t *testing.T) {
	reloader := &fakeReloader{}
	handler := NewReloadHandler(slog.Default(), reloader)

	req := httptest.NewRequest(http.MethodPost, "/reload", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, 1, reloader.calls)
}

func TestReloadHandler_Error(t *testing.T) {
	reloader := &fakeReloader{err: errors.New("bad config")}
	handler := NewReloadHandler(slog.Default(), reloader)

	req := httptest.NewRequest(http.MethodPost, "/reload", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "bad config")
}

type fakeValidator struct {
	entities map[string]int
	err      error
}

func (f *fakeValidator) ValidateTemplate(tpl *template.Template) (map[string]int, error) {
	return f.entities, f.err
}

func TestValidateHandler(t *testing.T) {
	handler := NewValidateHandler(&fakeValidator{entities: map[string]int{"Kubernetes": 1, "Pk": 1}})

	req := httptest.NewRequest(http.MethodPost, "/v1.0/validate", strings.NewReader(appBody(t, "")))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"Kubernetes":1`)
}

func TestValidateHandler_UnmatchedType(t *testing.T) {
	handler := NewValidateHandler(&fakeValidator{err: errors.New(`no adaptor for type "tosca.nodes.Database.MySQL"`)})

	req := httptest.NewRequest(http.MethodPost, "/v1.0/validate", strings.NewReader(appBody(t, "")))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "no adaptor for type")
}
