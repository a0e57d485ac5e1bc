package lmstudio

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	calls   []string
	results map[string]Result
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) Result {
	key := strings.Join(args, " ")
	f.calls = append(f.calls, key)
	if name != "lms" {
		return Result{ExitCode: -1, Stderr: "unexpected binary " + name}
	}
	if res, ok := f.results[key]; ok {
		return res
	}
	return Result{}
}

// probeAfter fails the first n probes.
func probeAfter(n int) ProbeFunc {
	calls := 0
	return func(context.Context) error {
		calls++
		if calls <= n {
			return errors.New("connection refused")
		}
		return nil
	}
}

func newTestManager(runner Runner, probe ProbeFunc) *Manager {
	return New(Options{
		Binary: "lms",
		Model:  "ibm/granite-3.1-8b",
		Delay:  time.Millisecond,
		Runner: runner,
		Probe:  probe,
	})
}

func TestEnsureUsesRunningServer(t *testing.T) {
	t.Parallel()
	runner := &fakeRunner{results: map[string]Result{
		"ps": {Stdout: "LOADED MODELS\nibm/granite-3.1-8b\n"},
	}}
	m := newTestManager(runner, probeAfter(0))

	require.NoError(t, m.Ensure(context.Background()))
	assert.False(t, m.Started())
	assert.Equal(t, []string{"ps"}, runner.calls)

	require.NoError(t, m.Stop(context.Background()))
	assert.Equal(t, []string{"ps"}, runner.calls, "server it did not start is left running")
}

func TestEnsureStartsServerAndLoadsModel(t *testing.T) {
	t.Parallel()
	runner := &fakeRunner{results: map[string]Result{
		"ps": {Stdout: "No models loaded\n"},
	}}
	m := newTestManager(runner, probeAfter(1))

	require.NoError(t, m.Ensure(context.Background()))
	assert.True(t, m.Started())
	assert.Equal(t, []string{"server start", "ps", "load ibm/granite-3.1-8b"}, runner.calls)

	require.NoError(t, m.Stop(context.Background()))
	assert.Equal(t, "server stop", runner.calls[len(runner.calls)-1])
	assert.False(t, m.Started())
}

func TestEnsureGivesUpAfterAttempts(t *testing.T) {
	t.Parallel()
	runner := &fakeRunner{}
	m := newTestManager(runner, probeAfter(100))

	err := m.Ensure(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unreachable after 3 attempts")
	assert.Equal(t, []string{"server start", "server start", "server start"}, runner.calls)

	assert.True(t, m.Started(), "a launched server is stopped even when it never answered")
	require.NoError(t, m.Stop(context.Background()))
	assert.Equal(t, "server stop", runner.calls[len(runner.calls)-1])
}

func TestEnsureFailsWhenStartFails(t *testing.T) {
	t.Parallel()
	runner := &fakeRunner{results: map[string]Result{
		"server start": {ExitCode: 2, Stderr: "lms: not installed"},
	}}
	m := newTestManager(runner, probeAfter(100))

	err := m.Ensure(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lms: not installed")
}

func TestEnsureUnloadsDuplicates(t *testing.T) {
	t.Parallel()
	runner := &fakeRunner{results: map[string]Result{
		"ps": {Stdout: "ibm/granite-3.1-8b\n  ibm/granite-3.1-8b:2  \nother/model:2\n"},
	}}
	m := newTestManager(runner, probeAfter(0))

	require.NoError(t, m.Ensure(context.Background()))
	assert.Equal(t, []string{"ps", "unload ibm/granite-3.1-8b:2"}, runner.calls)
}

func TestUnloadModel(t *testing.T) {
	t.Parallel()
	runner := &fakeRunner{results: map[string]Result{
		"unload missing/model": {ExitCode: 1, Stderr: "model not loaded"},
	}}
	m := newTestManager(runner, probeAfter(0))
	require.NoError(t, m.UnloadModel(context.Background()))
	assert.Equal(t, []string{"unload ibm/granite-3.1-8b"}, runner.calls)

	m = New(Options{Binary: "lms", Model: "missing/model", Runner: runner, Probe: probeAfter(0)})
	err := m.UnloadModel(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model not loaded")
}

func TestModelsProbe(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/models" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","data":[{"id":"ibm/granite-3.1-8b","object":"model","created":0,"owned_by":"me"}]}`))
	}))
	defer srv.Close()

	assert.NoError(t, modelsProbe(srv.URL+"/v1", "not-needed")(context.Background()))
	assert.Error(t, modelsProbe(srv.URL+"/nope", "not-needed")(context.Background()))
}

func TestExecRunnerCapturesExitCode(t *testing.T) {
	t.Parallel()
	res := ExecRunner{}.Run(context.Background(), "/definitely/not/a/binary")
	assert.Equal(t, -1, res.ExitCode)
	assert.Contains(t, res.failure(), "failed to start")
}
