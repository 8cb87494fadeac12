package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/micado-scale/submitter/server/handlers"
	"github.com/micado-scale/submitter/submission"
)

const testADT = `
tosca_definitions_version: tosca_simple_yaml_1_2
metadata:
  template_name: wordpress
topology_template:
  node_templates:
    web:
      type: tosca.nodes.MiCADO.Container.Application.Docker
`

// newTestServer writes a config pointing at the given adaptor endpoint and
// builds a Server with an in-memory store.
func newTestServer(t *testing.T, adaptorURL, passwordHash string) (*Server, *http.ServeMux) {
	t.Helper()
	dir := t.TempDir()

	cfg := fmt.Sprintf(`
main_config:
  adaptor_timeout: 5s
step:
  translate: [Kubernetes]
  execute: [Kubernetes]
  update: [Kubernetes]
  undeploy: [Kubernetes]
  cleanup: [Kubernetes]
adaptor_config:
  Kubernetes:
    types:
      - tosca.nodes.MiCADO.Container.*
    endpoint: %s
    volume: %s
server:
  admin_user: admin
  admin_password_hash: %q
  state_dir: %s
maintenance:
  disabled: true
`, adaptorURL, filepath.Join(dir, "kubernetes"), passwordHash, filepath.Join(dir, "state"))

	configPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(cfg), 0o644))

	srv, err := New(configPath, WithStore(submission.NewMemoryStore()))
	require.NoError(t, err)

	mux := http.NewServeMux()
	srv.registerRoutes(mux)
	return srv, mux
}

// okAdaptor accepts every step.
func okAdaptor(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status": "ok"}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func hashPassword(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

func TestServer_DeployLifecycle(t *testing.T) {
	adaptor := okAdaptor(t)
	srv, mux := newTestServer(t, adaptor.URL, hashPassword(t, "secret"))

	body, err := json.Marshal(handlers.AppRequest{ID: "wp-1", ADT: testADT})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1.0/app", strings.NewReader(string(body)))
	req.SetBasicAuth("admin", "secret")
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	// The deploy run (translate + execute) completes in the background.
	require.Eventually(t, func() bool {
		sub, ok := srv.store.Get("wp-1")
		return ok && sub.State == submission.StateExecuted
	}, 5*time.Second, 10*time.Millisecond)

	// Status endpoint reflects the persisted state.
	req = httptest.NewRequest(http.MethodGet, "/v1.0/app/wp-1", nil)
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"state":"executed"`)
}

func TestServer_AuthRequired(t *testing.T) {
	adaptor := okAdaptor(t)
	_, mux := newTestServer(t, adaptor.URL, hashPassword(t, "secret"))

	req := httptest.NewRequest(http.MethodPost, "/reload", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/reload", nil)
	req.SetBasicAuth("admin", "wrong")
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/reload", nil)
	req.SetBasicAuth("admin", "secret")
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestServer_ConfigRedactsCredentials(t *testing.T) {
	adaptor := okAdaptor(t)
	srv, mux := newTestServer(t, adaptor.URL, hashPassword(t, "secret"))

	req := httptest.NewRequest(http.MethodGet, "/config", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "REDACTED")
	assert.NotContains(t, w.Body.String(), srv.Config().Server.AdminPasswordHash)
}

func TestServer_Validate(t *testing.T) {
	adaptor := okAdaptor(t)
	_, mux := newTestServer(t, adaptor.URL, hashPassword(t, "secret"))

	body, err := json.Marshal(handlers.AppRequest{ADT: testADT})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1.0/validate", strings.NewReader(string(body)))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"Kubernetes":1`)

	// An unknown type is rejected before anything is dispatched.
	bad := strings.Replace(testADT, "tosca.nodes.MiCADO.Container.Application.Docker", "tosca.nodes.Database.MySQL", 1)
	body, err = json.Marshal(handlers.AppRequest{ADT: bad})
	require.NoError(t, err)

	req = httptest.NewRequest(http.MethodPost, "/v1.0/validate", strings.NewReader(string(body)))
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServer_SweepRetiresCleanedUp(t *testing.T) {
	adaptor := okAdaptor(t)
	srv, _ := newTestServer(t, adaptor.URL, hashPassword(t, "secret"))

	done := submission.New("old-1", "wordpress")
	done.State = submission.StateCleanedUp
	require.NoError(t, srv.store.Save(done))

	live := submission.New("wp-1", "wordpress")
	live.State = submission.StateExecuted
	require.NoError(t, srv.store.Save(live))

	require.NoError(t, srv.Sweep(context.Background()))

	_, ok := srv.store.Get("old-1")
	assert.False(t, ok)
	_, ok = srv.store.Get("wp-1")
	assert.True(t, ok)
}
