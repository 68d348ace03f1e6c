package actions

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"time"
)

// grace period for stdio to drain after the process group is killed
const waitDelay = 2 * time.Second

// runProcess runs cmd to completion. When ctx is done the whole process
// group is killed, so that children of a shell go down with it.
func runProcess(ctx context.Context, cmd *exec.Cmd, stdout, stderr io.Writer) (int, error) {
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = waitDelay
	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		return -1, err
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		killProcessGroup(cmd)
		<-done
		return -1, ctx.Err()
	}

	if err == nil {
		return 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	if errors.Is(err, exec.ErrWaitDelay) {
		return cmd.ProcessState.ExitCode(), nil
	}
	return -1, err
}

// hostEnv are the only host variables a step process inherits. Anything
// else, the runner's own credentials included, reaches a step only through
// its run context.
var hostEnv = []string{"PATH", "HOME", "TMPDIR", "LANG", "LC_ALL", "USER", "TZ"}

// environ is the allowed part of the host environment with overrides
// appended, later entries win.
func environ(envs EnvVars) []string {
	out := make([]string, 0, len(hostEnv)+len(envs))
	for _, k := range hostEnv {
		if v, ok := os.LookupEnv(k); ok {
			out = append(out, k+"="+v)
		}
	}
	return append(out, envs.Slice()...)
}
