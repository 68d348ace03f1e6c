package models

import (
	"bytes"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tangled.sh/tangled.sh/runner/workflow"
)

func newTestContext() *RunContext {
	return NewRunContext(
		RunId{Workflow: "docker", Rkey: "3abc"},
		workflow.Event{Kind: "push", Ref: "refs/heads/main", Actor: "alice", Inputs: map[string]string{"env": "prod"}},
		map[string]string{"REGISTRY": "ghcr.io"},
		map[string]string{"TOKEN": "hunter2", "SHORT": "ab", "EMPTY": ""},
	)
}

func TestOutputsAppendOnly(t *testing.T) {
	rc := newTestContext()

	require.NoError(t, rc.SetOutputs("build", map[string]string{"digest": "sha256:1"}))
	assert.ErrorIs(t, rc.SetOutputs("build", map[string]string{"digest": "sha256:2"}), ErrOutputsExist)

	v, ok := rc.Output("build", "digest")
	assert.True(t, ok)
	assert.Equal(t, "sha256:1", v)

	_, ok = rc.Output("build", "missing")
	assert.False(t, ok)
	_, ok = rc.Output("other", "digest")
	assert.False(t, ok)
}

func TestForJobIsolatesOutputs(t *testing.T) {
	rc := newTestContext()
	a := rc.ForJob(map[string]string{"JOB": "a"})
	b := rc.ForJob(nil)

	require.NoError(t, a.SetOutputs("s", map[string]string{"k": "a"}))
	require.NoError(t, b.SetOutputs("s", map[string]string{"k": "b"}))

	va, _ := a.Output("s", "k")
	vb, _ := b.Output("s", "k")
	assert.Equal(t, "a", va)
	assert.Equal(t, "b", vb)

	secret, ok := a.Secret("TOKEN")
	assert.True(t, ok)
	assert.Equal(t, "hunter2", secret)

	job, _ := a.Env("JOB")
	assert.Equal(t, "a", job)
	reg, _ := a.Env("REGISTRY")
	assert.Equal(t, "ghcr.io", reg)
	_, ok = b.Env("JOB")
	assert.False(t, ok)
}

func TestConcurrentOutputs(t *testing.T) {
	rc := newTestContext()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = rc.SetOutputs("same", map[string]string{"k": "v"})
			rc.Output("same", "k")
		}()
	}
	wg.Wait()

	v, ok := rc.Output("same", "k")
	assert.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestSecretValuesLongestFirst(t *testing.T) {
	rc := newTestContext()
	assert.Equal(t, []string{"hunter2", "ab"}, rc.SecretValues())
}

func TestRunContextNeverLogsSecrets(t *testing.T) {
	rc := newTestContext()

	var buf bytes.Buffer
	slog.New(slog.NewTextHandler(&buf, nil)).Info("run", "ctx", rc)

	assert.NotContains(t, buf.String(), "hunter2")
	assert.Contains(t, buf.String(), "refs/heads/main")
	assert.NotContains(t, rc.String(), "hunter2")
}

func TestInputs(t *testing.T) {
	rc := newTestContext()
	v, ok := rc.Input("env")
	assert.True(t, ok)
	assert.Equal(t, "prod", v)
}
