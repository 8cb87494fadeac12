package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/micado-scale/submitter/adaptorclient"
	"github.com/micado-scale/submitter/pipeline"
	"github.com/micado-scale/submitter/registry"
	"github.com/micado-scale/submitter/submission"
	"github.com/micado-scale/submitter/template"
)

// fakeInvoker records every call and returns canned outcomes.
type fakeInvoker struct {
	mu        sync.Mutex
	adaptor   *registry.Descriptor
	calls     []fakeCall
	err       error
	outcome   adaptorclient.Outcome
	onInvoke  func(ctx context.Context)
	callOrder *[]string // shared across invokers to observe dispatch order
}

type fakeCall struct {
	step   pipeline.Step
	subset adaptorclient.Subset
}

func (f *fakeInvoker) Adaptor() *registry.Descriptor { return f.adaptor }

func (f *fakeInvoker) Invoke(ctx context.Context, step pipeline.Step, submissionID string, subset adaptorclient.Subset) (adaptorclient.Outcome, error) {
	f.mu.Lock()
	f.calls = append(f.calls, fakeCall{step: step, subset: subset})
	if f.callOrder != nil {
		*f.callOrder = append(*f.callOrder, f.adaptor.Name)
	}
	f.mu.Unlock()
	if f.onInvoke != nil {
		f.onInvoke(ctx)
	}
	if f.err != nil {
		return adaptorclient.Outcome{}, f.err
	}
	return f.outcome, nil
}

type fixture struct {
	orch     *Orchestrator
	invokers map[string]*fakeInvoker
	store    *submission.MemoryStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	reg, err := registry.New(
		registry.Descriptor{
			Name:     "Occopus",
			Types:    []string{"tosca.nodes.MiCADO.Occopus.*"},
			Endpoint: "http://occopus:5000",
			Volume:   dir + "/occopus",
		},
		registry.Descriptor{
			Name:     "Kubernetes",
			Types:    []string{"tosca.nodes.MiCADO.Container.*"},
			Endpoint: "http://kubernetes:5000",
			Volume:   dir + "/kubernetes",
		},
		registry.Descriptor{
			Name:     "Pk",
			Types:    []string{"tosca.policies.Scaling.MiCADO"},
			Endpoint: "http://pk:5000",
			Volume:   dir + "/pk",
		},
	)
	require.NoError(t, err)

	pipe, err := pipeline.Load(map[string][]string{
		"translate": {"Occopus", "Kubernetes", "Pk"},
		"execute":   {"Occopus", "Kubernetes", "Pk"},
		"update":    {"Occopus", "Kubernetes", "Pk"},
		"undeploy":  {"Pk", "Kubernetes", "Occopus"},
		"cleanup":   {"Pk", "Kubernetes", "Occopus"},
	}, reg)
	require.NoError(t, err)

	order := []string{}
	invokers := make(map[string]*fakeInvoker)
	store := submission.NewMemoryStore()
	opts := []Option{WithStore(store)}
	for _, d := range reg.All() {
		inv := &fakeInvoker{adaptor: d, callOrder: &order}
		invokers[d.Name] = inv
		opts = append(opts, WithInvoker(inv))
	}

	return &fixture{
		orch:     New(reg, pipe, opts...),
		invokers: invokers,
		store:    store,
	}
}

func (f *fixture) callOrder() []string {
	for _, inv := range f.invokers {
		inv.mu.Lock()
		defer inv.mu.Unlock()
		return *inv.callOrder
	}
	return nil
}

func sampleTemplate() *template.Template {
	return &template.Template{
		Name: "wordpress",
		Nodes: []template.Node{
			{Name: "web", Type: "tosca.nodes.MiCADO.Container.Application.Docker"},
			{Name: "worker-vm", Type: "tosca.nodes.MiCADO.Occopus.CloudSigma.Compute"},
		},
		Policies: []template.Policy{
			{Name: "scalability", Type: "tosca.policies.Scaling.MiCADO"},
		},
	}
}

func TestPartition(t *testing.T) {
	f := newFixture(t)

	subsets, err := f.orch.Partition(sampleTemplate())
	require.NoError(t, err)

	assert.Len(t, subsets["Occopus"].Nodes, 1)
	assert.Equal(t, "worker-vm", subsets["Occopus"].Nodes[0].Name)
	assert.Len(t, subsets["Kubernetes"].Nodes, 1)
	assert.Len(t, subsets["Pk"].Policies, 1)
}

func TestPartition_UnmatchedType(t *testing.T) {
	f := newFixture(t)

	_, err := f.orch.Partition(&template.Template{
		Nodes: []template.Node{{Name: "db", Type: "tosca.nodes.Database.MySQL"}},
	})
	require.ErrorIs(t, err, registry.ErrUnmatchedType)
	assert.Contains(t, err.Error(), "db")
}

func TestRunStep_TranslateInvokesAllInOrder(t *testing.T) {
	f := newFixture(t)
	sub := submission.New("wp-1", "wordpress")
	sub.Template = sampleTemplate()

	result, err := f.orch.RunStep(context.Background(), pipeline.StepTranslate, sub)
	require.NoError(t, err)

	assert.Equal(t, submission.StatusSuccess, result.Status)
	assert.Equal(t, []string{"Occopus", "Kubernetes", "Pk"}, f.callOrder())
	assert.Equal(t, submission.StateTranslated, sub.State)

	// Every adaptor is invoked, including the container adaptor whose
	// subset carries only one node.
	require.Len(t, result.Adaptors, 3)
	for _, sr := range result.Adaptors {
		assert.Equal(t, submission.OutcomeSuccess, sr.Outcome)
	}
	assert.Equal(t, 1, result.Adaptors[0].Entities)
	assert.Equal(t, 1, result.Adaptors[1].Entities)
	assert.Equal(t, 1, result.Adaptors[2].Entities)
}

func TestRunStep_EmptySubsetStillInvoked(t *testing.T) {
	f := newFixture(t)
	sub := submission.New("wp-1", "wordpress")
	// Only a policy: the two node adaptors get empty subsets.
	sub.Template = &template.Template{
		Policies: []template.Policy{
			{Name: "scalability", Type: "tosca.policies.Scaling.MiCADO"},
		},
	}

	result, err := f.orch.RunStep(context.Background(), pipeline.StepTranslate, sub)
	require.NoError(t, err)
	require.Equal(t, submission.StatusSuccess, result.Status)

	assert.Len(t, f.invokers["Occopus"].calls, 1)
	assert.Len(t, f.invokers["Kubernetes"].calls, 1)
	assert.Len(t, f.invokers["Pk"].calls, 1)
	assert.Equal(t, 0, f.invokers["Occopus"].calls[0].subset.Entities())
}

func TestRunStep_UndeployReversedOrder(t *testing.T) {
	f := newFixture(t)
	sub := submission.New("wp-1", "wordpress")
	sub.Template = sampleTemplate()

	_, err := f.orch.RunStep(context.Background(), pipeline.StepTranslate, sub)
	require.NoError(t, err)
	for _, inv := range f.invokers {
		inv.mu.Lock()
		*inv.callOrder = nil
		inv.mu.Unlock()
		break
	}

	result, err := f.orch.RunStep(context.Background(), pipeline.StepUndeploy, sub)
	require.NoError(t, err)
	assert.Equal(t, submission.StatusSuccess, result.Status)
	assert.Equal(t, []string{"Pk", "Kubernetes", "Occopus"}, f.callOrder())
	assert.Equal(t, submission.StateUndeployed, sub.State)
}

func TestRunStep_FailFastHaltsRemaining(t *testing.T) {
	f := newFixture(t)
	f.invokers["Occopus"].err = errors.New("infrastructure rollout failed")

	sub := submission.New("wp-1", "wordpress")
	sub.Template = sampleTemplate()

	result, err := f.orch.RunStep(context.Background(), pipeline.StepTranslate, sub)
	require.NoError(t, err)

	assert.Equal(t, submission.StatusFailed, result.Status)
	require.Len(t, result.Adaptors, 3)
	assert.Equal(t, submission.OutcomeFailed, result.Adaptors[0].Outcome)
	assert.Equal(t, submission.OutcomeNotInvoked, result.Adaptors[1].Outcome)
	assert.Equal(t, submission.OutcomeNotInvoked, result.Adaptors[2].Outcome)
	assert.Contains(t, result.Adaptors[0].Error, "infrastructure rollout failed")

	// Only the failing adaptor was contacted.
	assert.Equal(t, []string{"Occopus"}, f.callOrder())
	assert.Equal(t, submission.StateCreated, sub.State)
}

func TestRunStep_BestEffortContinues(t *testing.T) {
	f := newFixture(t)
	sub := submission.New("wp-1", "wordpress")
	sub.Template = sampleTemplate()
	_, err := f.orch.RunStep(context.Background(), pipeline.StepTranslate, sub)
	require.NoError(t, err)

	// The first adaptor in undeploy order fails; the rest still run.
	f.invokers["Pk"].err = errors.New("policy teardown failed")

	result, err := f.orch.RunStep(context.Background(), pipeline.StepUndeploy, sub)
	require.NoError(t, err)

	assert.Equal(t, submission.StatusFailed, result.Status)
	require.Len(t, result.Adaptors, 3)
	assert.Equal(t, submission.OutcomeFailed, result.Adaptors[0].Outcome)
	assert.Equal(t, submission.OutcomeSuccess, result.Adaptors[1].Outcome)
	assert.Equal(t, submission.OutcomeSuccess, result.Adaptors[2].Outcome)

	// A failed step never advances the state machine.
	assert.Equal(t, submission.StateTranslated, sub.State)
}

func TestRunStep_SkippedDoesNotFailStep(t *testing.T) {
	f := newFixture(t)
	f.invokers["Kubernetes"].outcome = adaptorclient.Outcome{Skipped: true, Message: "unchanged"}

	sub := submission.New("wp-1", "wordpress")
	sub.Template = sampleTemplate()
	mustRun(t, f, pipeline.StepTranslate, sub)
	mustRun(t, f, pipeline.StepExecute, sub)

	result, err := f.orch.RunStep(context.Background(), pipeline.StepUpdate, sub)
	require.NoError(t, err)

	assert.Equal(t, submission.StatusSuccess, result.Status)
	assert.Equal(t, submission.OutcomeSkipped, result.Adaptors[1].Outcome)
	assert.Equal(t, submission.StateUpdated, sub.State)
}

func TestRunStep_InvalidStepForState(t *testing.T) {
	f := newFixture(t)
	sub := submission.New("wp-1", "wordpress")
	sub.Template = sampleTemplate()

	_, err := f.orch.RunStep(context.Background(), pipeline.StepCleanup, sub)
	require.ErrorIs(t, err, submission.ErrInvalidStepForState)

	// Nothing was dispatched.
	assert.Empty(t, f.callOrder())
}

func TestRunStep_UnmatchedTypeBlocksDispatch(t *testing.T) {
	f := newFixture(t)
	sub := submission.New("wp-1", "wordpress")
	sub.Template = &template.Template{
		Nodes: []template.Node{
			{Name: "web", Type: "tosca.nodes.MiCADO.Container.Application.Docker"},
			{Name: "db", Type: "tosca.nodes.Database.MySQL"},
		},
	}

	_, err := f.orch.RunStep(context.Background(), pipeline.StepTranslate, sub)
	require.ErrorIs(t, err, registry.ErrUnmatchedType)
	assert.Empty(t, f.callOrder())
	assert.Equal(t, submission.StateCreated, sub.State)
}

func TestRunStep_CancellationYieldsCancelled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	f.invokers["Kubernetes"].onInvoke = func(context.Context) { cancel() }
	f.invokers["Kubernetes"].err = context.Canceled

	sub := submission.New("wp-1", "wordpress")
	sub.Template = sampleTemplate()

	result, err := f.orch.RunStep(ctx, pipeline.StepTranslate, sub)
	require.NoError(t, err)

	assert.Equal(t, submission.StatusCancelled, result.Status)
	require.Len(t, result.Adaptors, 3)
	assert.Equal(t, submission.OutcomeSuccess, result.Adaptors[0].Outcome)
	assert.Equal(t, submission.OutcomeFailed, result.Adaptors[1].Outcome)
	assert.Equal(t, submission.OutcomeNotInvoked, result.Adaptors[2].Outcome)

	// No partial state transition.
	assert.Equal(t, submission.StateCreated, sub.State)
}

func TestRunStep_PersistsSubmission(t *testing.T) {
	f := newFixture(t)
	sub := submission.New("wp-1", "wordpress")
	sub.Template = sampleTemplate()

	_, err := f.orch.RunStep(context.Background(), pipeline.StepTranslate, sub)
	require.NoError(t, err)

	saved, ok := f.store.Get("wp-1")
	require.True(t, ok)
	assert.Equal(t, submission.StateTranslated, saved.State)
	require.NotNil(t, saved.LastResult)
	assert.Equal(t, pipeline.StepTranslate, saved.LastResult.Step)
}

type recordingObserver struct {
	mu    sync.Mutex
	steps []pipeline.Step
}

func (r *recordingObserver) ObserveStep(step pipeline.Step, status submission.Status, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, step)
}

func TestRunStep_NotifiesObserver(t *testing.T) {
	f := newFixture(t)
	obs := &recordingObserver{}
	WithObserver(obs)(f.orch)

	sub := submission.New("wp-1", "wordpress")
	sub.Template = sampleTemplate()

	_, err := f.orch.RunStep(context.Background(), pipeline.StepTranslate, sub)
	require.NoError(t, err)
	assert.Equal(t, []pipeline.Step{pipeline.StepTranslate}, obs.steps)
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(adaptorclient.ErrUnreachable))
	assert.True(t, IsTransient(adaptorclient.ErrTimeout))
	assert.False(t, IsTransient(adaptorclient.ErrRejected))
	assert.False(t, IsTransient(errors.New("boom")))
}

func mustRun(t *testing.T, f *fixture, step pipeline.Step, sub *submission.Context) {
	t.Helper()
	result, err := f.orch.RunStep(context.Background(), step, sub)
	require.NoError(t, err)
	require.Equal(t, submission.StatusSuccess, result.Status)
}
