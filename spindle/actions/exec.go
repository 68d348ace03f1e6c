package actions

import (
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	securejoin "github.com/cyphar/filepath-securejoin"

	"tangled.sh/tangled.sh/runner/workflow"
)

const executableName = "action"

// ExecResolver finds actions installed as executables under
// <Dir>/<identifier>/<version>/action. Unversioned references use the
// "latest" directory.
type ExecResolver struct {
	Dir string
}

func (r ExecResolver) Resolve(ref workflow.ActionRef) (Action, bool) {
	if r.Dir == "" || ref.Name == "" || ref.Image != "" {
		return nil, false
	}

	version := ref.Version
	if version == "" {
		version = "latest"
	}

	// references like ../../bin stay inside the actions dir
	p, err := securejoin.SecureJoin(r.Dir, filepath.Join(filepath.FromSlash(ref.Name), version, executableName))
	if err != nil {
		return nil, false
	}

	info, err := os.Stat(p)
	if err != nil || info.IsDir() || info.Mode().Perm()&0o111 == 0 {
		return nil, false
	}

	return Executable{Path: p}, true
}

// Executable runs an external program with its parameters exported as
// INPUT_<KEY>.
type Executable struct {
	Path string
}

func (e Executable) Run(ctx context.Context, inv Invocation, stdout, stderr io.Writer) (int, error) {
	envs := ConstructEnvs(inv.Env)
	envs.AddInputs(inv.Params)
	envs.AddEnv("SPINDLE_WORKSPACE", inv.Workspace)

	cmd := exec.Command(e.Path)
	cmd.Dir = inv.Workspace
	cmd.Env = environ(envs)

	return runProcess(ctx, cmd, stdout, stderr)
}
