package actions

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tangled.sh/tangled.sh/runner/workflow"
)

func constAction(code int) Action {
	return ActionFunc(func(context.Context, Invocation, io.Writer, io.Writer) (int, error) {
		return code, nil
	})
}

func exitCode(t *testing.T, a Action) int {
	t.Helper()
	code, err := a.Run(context.Background(), Invocation{}, io.Discard, io.Discard)
	require.NoError(t, err)
	return code
}

func TestRegistryLookup(t *testing.T) {
	r := NewRegistry()
	r.Register("build", constAction(1))
	r.RegisterVersion("build", "v2", constAction(2))

	a, err := r.Lookup(workflow.ActionRef{Name: "build", Version: "v2"})
	require.NoError(t, err)
	assert.Equal(t, 2, exitCode(t, a))

	// unknown version falls back to the unversioned registration
	a, err = r.Lookup(workflow.ActionRef{Name: "build", Version: "v3"})
	require.NoError(t, err)
	assert.Equal(t, 1, exitCode(t, a))

	a, err = r.Lookup(workflow.ActionRef{Name: "build"})
	require.NoError(t, err)
	assert.Equal(t, 1, exitCode(t, a))

	_, err = r.Lookup(workflow.ActionRef{Name: "deploy", Version: "v1"})
	assert.ErrorIs(t, err, ErrUnknownAction)
}

type resolverFunc func(workflow.ActionRef) (Action, bool)

func (f resolverFunc) Resolve(ref workflow.ActionRef) (Action, bool) {
	return f(ref)
}

func TestRegistryResolvers(t *testing.T) {
	r := NewRegistry()
	r.Register("build", constAction(1))
	r.AddResolver(resolverFunc(func(ref workflow.ActionRef) (Action, bool) {
		if ref.Name == "build" || ref.Name == "lint" {
			return constAction(7), true
		}
		return nil, false
	}))

	a, err := r.Lookup(workflow.ActionRef{Name: "build"})
	require.NoError(t, err)
	assert.Equal(t, 1, exitCode(t, a), "registrations win over resolvers")

	a, err = r.Lookup(workflow.ActionRef{Name: "lint"})
	require.NoError(t, err)
	assert.Equal(t, 7, exitCode(t, a))
}

func TestDefaultRegistry(t *testing.T) {
	r := Default(Options{ActionsDir: t.TempDir()}, slog.Default())

	for _, name := range []string{ActionShell, ActionCheckout} {
		_, err := r.Lookup(workflow.ActionRef{Name: name})
		assert.NoError(t, err, name)
	}

	// no docker client, no container actions
	for _, name := range []string{ActionDocker, ActionNixery} {
		_, err := r.Lookup(workflow.ActionRef{Name: name})
		assert.ErrorIs(t, err, ErrUnknownAction, name)
	}
}
