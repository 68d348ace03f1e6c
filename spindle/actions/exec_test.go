package actions

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tangled.sh/tangled.sh/runner/workflow"
)

func installAction(t *testing.T, dir, name, version, script string, mode os.FileMode) {
	t.Helper()
	p := filepath.Join(dir, name, version)
	require.NoError(t, os.MkdirAll(p, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(p, executableName), []byte(script), mode))
}

func TestExecResolver(t *testing.T) {
	dir := t.TempDir()
	installAction(t, dir, "tools/greet", "v1", "#!/bin/sh\necho \"hi $INPUT_NAME\"\n", 0o755)
	installAction(t, dir, "tools/greet", "latest", "#!/bin/sh\necho latest\n", 0o755)
	installAction(t, dir, "tools/noexec", "v1", "#!/bin/sh\n", 0o644)

	r := ExecResolver{Dir: dir}

	a, ok := r.Resolve(workflow.ActionRef{Name: "tools/greet", Version: "v1"})
	require.True(t, ok)

	var stdout bytes.Buffer
	code, err := a.Run(context.Background(), Invocation{
		Params:    workflow.Params{"name": "spindle"},
		Workspace: t.TempDir(),
	}, &stdout, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, "hi spindle\n", stdout.String())

	a, ok = r.Resolve(workflow.ActionRef{Name: "tools/greet"})
	require.True(t, ok)
	assert.Equal(t, filepath.Join(dir, "tools/greet", "latest", executableName), a.(Executable).Path)

	_, ok = r.Resolve(workflow.ActionRef{Name: "tools/greet", Version: "v9"})
	assert.False(t, ok)

	_, ok = r.Resolve(workflow.ActionRef{Name: "tools/noexec", Version: "v1"})
	assert.False(t, ok, "non-executable files are not actions")

	_, ok = r.Resolve(workflow.ActionRef{Name: "../../etc", Version: "v1"})
	assert.False(t, ok)

	_, ok = ExecResolver{}.Resolve(workflow.ActionRef{Name: "tools/greet", Version: "v1"})
	assert.False(t, ok)
}
