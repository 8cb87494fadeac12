package adaptorclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/micado-scale/submitter/pipeline"
	"github.com/micado-scale/submitter/registry"
	"github.com/micado-scale/submitter/template"
)

func testSubset() Subset {
	return Subset{
		Nodes: []template.Node{
			{Name: "wordpress", Type: "tosca.nodes.MiCADO.Container.Application.Docker"},
		},
	}
}

func newTestClient(t *testing.T, handler http.Handler, opts ...Option) (*Client, string) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	volume := t.TempDir()
	adaptor := &registry.Descriptor{
		Name:     "KubernetesAdaptor",
		Types:    []string{"tosca.nodes.MiCADO.Container.*"},
		Endpoint: srv.URL,
		Volume:   volume,
	}
	return New(adaptor, opts...), volume
}

func okHandler(t *testing.T, wantStep string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/"+wantStep, r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var req stepRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, wantStep, req.Step)
		assert.NotNil(t, req.Nodes)

		json.NewEncoder(w).Encode(stepResponse{Status: "ok", Message: "done"})
	})
}

func TestInvoke_ExecuteWritesPayload(t *testing.T) {
	client, volume := newTestClient(t, okHandler(t, "execute"))

	outcome, err := client.Invoke(context.Background(), pipeline.StepExecute, "wp-1", testSubset())
	require.NoError(t, err)
	assert.False(t, outcome.Skipped)
	assert.Equal(t, "done", outcome.Message)

	payloadPath := filepath.Join(volume, "wp-1", "payload.json")
	assert.Contains(t, outcome.Artifacts, payloadPath)

	data, err := os.ReadFile(payloadPath)
	require.NoError(t, err)
	var payload desiredState
	require.NoError(t, json.Unmarshal(data, &payload))
	assert.Equal(t, "wp-1", payload.SubmissionID)
	require.Len(t, payload.Nodes, 1)

	// No temp file remains.
	_, statErr := os.Stat(payloadPath + ".tmp")
	assert.True(t, os.IsNotExist(statErr))
}

func TestInvoke_RejectedLeavesNoArtifact(t *testing.T) {
	client, volume := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(stepResponse{Status: "error", Message: "unsupported image"})
	}))

	_, err := client.Invoke(context.Background(), pipeline.StepExecute, "wp-1", testSubset())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRejected)
	assert.Contains(t, err.Error(), "unsupported image")

	// All-or-nothing: neither the payload nor its temp file exist.
	entries, readErr := os.ReadDir(filepath.Join(volume, "wp-1"))
	require.NoError(t, readErr)
	assert.Empty(t, entries)
}

func TestInvoke_Unreachable(t *testing.T) {
	volume := t.TempDir()
	client := New(&registry.Descriptor{
		Name:     "OccopusAdaptor",
		Endpoint: "http://127.0.0.1:1", // nothing listens here
		Volume:   volume,
	})

	_, err := client.Invoke(context.Background(), pipeline.StepExecute, "wp-1", Subset{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnreachable)
}

func TestInvoke_Timeout(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}), WithTimeout(20*time.Millisecond))

	_, err := client.Invoke(context.Background(), pipeline.StepExecute, "wp-1", Subset{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestInvoke_CancellationPassesThrough(t *testing.T) {
	started := make(chan struct{})
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		time.Sleep(time.Second)
	}))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	_, err := client.Invoke(ctx, pipeline.StepExecute, "wp-1", Subset{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrTimeout)
	assert.NotErrorIs(t, err, ErrUnreachable)
}

func TestInvoke_UpdateSkipsUnchangedPayload(t *testing.T) {
	calls := 0
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		json.NewEncoder(w).Encode(stepResponse{Status: "ok"})
	})
	client, _ := newTestClient(t, handler)

	subset := testSubset()
	_, err := client.Invoke(context.Background(), pipeline.StepExecute, "wp-1", subset)
	require.NoError(t, err)
	require.Equal(t, 1, calls)

	// Unchanged topology: no call reaches the adaptor.
	outcome, err := client.Invoke(context.Background(), pipeline.StepUpdate, "wp-1", subset)
	require.NoError(t, err)
	assert.True(t, outcome.Skipped)
	assert.Equal(t, 1, calls)

	// Changed topology: the adaptor is called again.
	subset.Nodes[0].Properties = map[string]any{"replicas": 3}
	outcome, err = client.Invoke(context.Background(), pipeline.StepUpdate, "wp-1", subset)
	require.NoError(t, err)
	assert.False(t, outcome.Skipped)
	assert.Equal(t, 2, calls)
}

func TestInvoke_UndeployWithoutPayloadSkips(t *testing.T) {
	calls := 0
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))

	outcome, err := client.Invoke(context.Background(), pipeline.StepUndeploy, "never-deployed", Subset{})
	require.NoError(t, err)
	assert.True(t, outcome.Skipped)
	assert.Zero(t, calls)
}

func TestInvoke_CleanupRemovesArtifactDir(t *testing.T) {
	client, volume := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(stepResponse{Status: "ok"})
	}))

	_, err := client.Invoke(context.Background(), pipeline.StepExecute, "wp-1", testSubset())
	require.NoError(t, err)

	outcome, err := client.Invoke(context.Background(), pipeline.StepCleanup, "wp-1", Subset{})
	require.NoError(t, err)
	assert.False(t, outcome.Skipped)

	_, statErr := os.Stat(filepath.Join(volume, "wp-1"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestInvoke_CleanupWithoutArtifactsSkips(t *testing.T) {
	client, _ := newTestClient(t, okHandler(t, "cleanup"))

	outcome, err := client.Invoke(context.Background(), pipeline.StepCleanup, "never-deployed", Subset{})
	require.NoError(t, err)
	assert.True(t, outcome.Skipped)
}

func TestInvoke_AdaptorReportedArtifacts(t *testing.T) {
	client, volume := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(stepResponse{Status: "ok", Artifacts: []string{"manifests.yaml"}})
	}))

	outcome, err := client.Invoke(context.Background(), pipeline.StepExecute, "wp-1", testSubset())
	require.NoError(t, err)
	assert.Contains(t, outcome.Artifacts, filepath.Join(volume, "wp-1", "manifests.yaml"))
}
