package actions

import (
	"context"
	"fmt"
	"io"
	"os/exec"
)

// Shell runs the `run` parameter with a shell on the host, in the job's
// workspace.
type Shell struct {
	// defaults to bash
	Shell string
}

func (s Shell) Run(ctx context.Context, inv Invocation, stdout, stderr io.Writer) (int, error) {
	script := inv.Params["run"]
	if script == "" {
		return -1, fmt.Errorf("%w: run", ErrMissingParam)
	}

	shell := inv.Param("shell", s.Shell)
	if shell == "" {
		shell = "bash"
	}

	envs := ConstructEnvs(inv.Env)
	envs.AddInputs(inv.Params, "run", "shell")

	cmd := exec.Command(shell, "-c", script)
	cmd.Dir = inv.Workspace
	cmd.Env = environ(envs)

	return runProcess(ctx, cmd, stdout, stderr)
}
