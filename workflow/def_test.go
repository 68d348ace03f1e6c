package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const buildAndPush = `
name: docker
on:
  push:
    branches: [main]
env:
  REGISTRY: ghcr.io
jobs:
  build:
    runs-on: host
    steps:
      - uses: checkout@v1
      - name: login
        id: login
        uses: registry/login@v3
        with:
          registry: ${{ env.REGISTRY }}
          password: ${{ secrets.REGISTRY_TOKEN }}
      - uses: qemu/setup@v3
      - uses: buildx/setup@v3
        timeout: 90s
        retries: 2
      - uses: build-push@v6
        needs: login
        with:
          push: true
          tags: user/app:latest
  lint:
    steps:
      - run: go vet ./...
`

func TestUnmarshalWorkflow(t *testing.T) {
	def, err := FromFile(".spindle/workflows/docker.yml", []byte(buildAndPush))
	require.NoError(t, err, "YAML should unmarshal without error")

	assert.Equal(t, "docker", def.Name)
	assert.Equal(t, ".spindle/workflows/docker.yml", def.File)
	assert.Equal(t, []string{"push"}, def.On.Kinds())
	assert.ElementsMatch(t, []string{"main"}, def.On.Events["push"].Branches)
	assert.Equal(t, "ghcr.io", def.Env["REGISTRY"])

	require.Len(t, def.Jobs, 2)
	assert.Equal(t, "build", def.Jobs[0].Name, "job order follows the document")
	assert.Equal(t, "lint", def.Jobs[1].Name)

	build := def.Jobs[0]
	assert.Equal(t, "host", build.RunsOn)
	require.Len(t, build.Steps, 5)
	assert.Equal(t, ActionRef{Name: "checkout", Version: "v1"}, build.Steps[0].Uses)
	assert.Equal(t, "login", build.Steps[1].ID)
	assert.Equal(t, "${{ secrets.REGISTRY_TOKEN }}", build.Steps[1].With["password"])
	assert.Equal(t, 90*time.Second, build.Steps[3].Timeout.Std())
	assert.Equal(t, 2, build.Steps[3].Retries)
	assert.Equal(t, StringList{"login"}, build.Steps[4].Needs)
	assert.Equal(t, "true", build.Steps[4].With["push"], "scalars keep their literal text")

	assert.Equal(t, "go vet ./...", def.Jobs[1].Steps[0].Run)
}

func TestUnmarshalNameFromFile(t *testing.T) {
	def, err := FromFile("ci/test.yaml", []byte("jobs:\n  a:\n    steps:\n      - run: echo ok\n"))
	require.NoError(t, err)
	assert.Equal(t, "test", def.Name)
	assert.Nil(t, def.On.Events, "absent trigger matches everything")
}

func TestUnmarshalDuplicateJob(t *testing.T) {
	_, err := FromFile("dup.yml", []byte("jobs:\n  a: {}\n  a: {}\n"))
	assert.Error(t, err)
}

func TestUnmarshalBadActionRef(t *testing.T) {
	_, err := FromFile("bad.yml", []byte("jobs:\n  a:\n    steps:\n      - uses: foo@\n"))
	assert.Error(t, err)
}

func TestUnmarshalDurationSeconds(t *testing.T) {
	def, err := FromFile("t.yml", []byte("jobs:\n  a:\n    steps:\n      - run: sleep 1\n        timeout: 30\n"))
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, def.Jobs[0].Steps[0].Timeout.Std())
}

func TestParseActionRef(t *testing.T) {
	tests := []struct {
		in      string
		want    ActionRef
		wantErr bool
	}{
		{in: "actions/checkout@v4", want: ActionRef{Name: "actions/checkout", Version: "v4"}},
		{in: "shell", want: ActionRef{Name: "shell"}},
		{in: "docker://alpine:3.20", want: ActionRef{Name: ActionDocker, Image: "alpine:3.20"}},
		{in: "docker://", wantErr: true},
		{in: "@v1", wantErr: true},
		{in: "x@", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseActionRef(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.in, got.String())
		})
	}
}

func TestStepAction(t *testing.T) {
	s := Step{Run: "make test"}

	ref, params := s.Action("host")
	assert.Equal(t, ActionRef{Name: ActionShell}, ref)
	assert.Equal(t, "make test", params["run"])

	ref, params = s.Action("docker://golang:1.24")
	assert.Equal(t, ActionDocker, ref.Name)
	assert.Equal(t, "golang:1.24", params["image"])
	assert.Equal(t, "make test", params["run"])

	s = Step{Uses: ActionRef{Name: "build-push", Version: "v6"}, With: Params{"push": "true"}}
	ref, params = s.Action("host")
	assert.Equal(t, "build-push@v6", ref.String())
	assert.Equal(t, Params{"push": "true"}, params)
}

func TestStepDisplayName(t *testing.T) {
	assert.Equal(t, "named", Step{Name: "named", Run: "x"}.DisplayName())
	assert.Equal(t, "qemu/setup@v3", Step{Uses: ActionRef{Name: "qemu/setup", Version: "v3"}}.DisplayName())
	assert.Equal(t, "echo one", Step{Run: "echo one\necho two"}.DisplayName())
}
