package actions

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tangled.sh/tangled.sh/runner/workflow"
)

func TestWorkflowImage(t *testing.T) {
	assert.Equal(t, "nixery.tangled.sh/bash/git/coreutils/nix", workflowImage(nil, "nixery.tangled.sh"))
	assert.Equal(t, "nixery.tangled.sh/go/gcc/bash/git/coreutils/nix", workflowImage([]string{"go", "gcc", "bash"}, "nixery.tangled.sh"))
}

func TestDependencyCommand(t *testing.T) {
	assert.Empty(t, dependencyCommand(nil))

	cmd := dependencyCommand([]string{"github:nix-community/home-manager#home-manager", "git+https://tangled.sh/foo#bar"})
	assert.Contains(t, cmd, "profile install")
	assert.Contains(t, cmd, "'github:nix-community/home-manager#home-manager' 'git+https://tangled.sh/foo#bar'")
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"go", "gcc", "jq"}, splitList("go, gcc\njq"))
	assert.Empty(t, splitList(""))
}

func TestNixeryMissingRun(t *testing.T) {
	n := &Nixery{Host: "nixery.tangled.sh"}
	_, err := n.Run(context.Background(), Invocation{Params: workflow.Params{"packages": "go"}}, &bytes.Buffer{}, &bytes.Buffer{})
	require.ErrorIs(t, err, ErrMissingParam)
}
