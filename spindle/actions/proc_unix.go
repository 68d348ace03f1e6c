//go:build unix

package actions

import (
	"os/exec"
	"syscall"
)

func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	// negative pid signals the whole group
	_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
}
