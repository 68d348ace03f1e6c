package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tangled.sh/tangled.sh/runner/spindle/models"
	"tangled.sh/tangled.sh/runner/workflow"
)

func TestInterpolate(t *testing.T) {
	rc := models.NewRunContext(
		models.RunId{Workflow: "ci", Rkey: "1"},
		workflow.Event{
			Kind:   "manual",
			Ref:    "refs/tags/v1.0.0",
			Actor:  "alice",
			Sha:    "abc",
			Repo:   "did:plc:foo/repo",
			Inputs: map[string]string{"target": "prod"},
		},
		map[string]string{"REGION": "eu"},
		map[string]string{"TOKEN": "s3cr3t"},
	)
	require.NoError(t, rc.SetOutputs("build", map[string]string{"artifact": "app.tar"}))

	tests := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{"${{ secrets.TOKEN }}", "s3cr3t"},
		{"${{steps.build.outputs.artifact}}", "app.tar"},
		{"${{ steps.build.outputs.nope }}", ""},
		{"${{ steps.other.outputs.artifact }}", ""},
		{"${{ event.kind }}/${{ event.actor }}/${{ event.sha }}", "manual/alice/abc"},
		{"${{ event.tag }}${{ event.branch }}", "v1.0.0"},
		{"${{ event.repo }}", "did:plc:foo/repo"},
		{"deploy to ${{ inputs.target }}", "deploy to prod"},
		{"${{ inputs.missing }}", ""},
		{"${{ env.REGION }}-${{ env.NONE }}", "eu-"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Interpolate(tt.in, rc)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestInterpolateErrors(t *testing.T) {
	rc := models.NewRunContext(models.RunId{}, workflow.Event{}, nil, nil)

	_, err := Interpolate("${{ secrets.MISSING }}", rc)
	assert.ErrorIs(t, err, ErrMissingSecret)

	_, err = Interpolate("${{ github.sha }}", rc)
	assert.ErrorIs(t, err, ErrUnknownPlaceholder)

	_, err = Interpolate("${{ event.nope }}", rc)
	assert.ErrorIs(t, err, ErrUnknownPlaceholder)
}
