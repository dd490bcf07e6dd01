//go:build !windows
// +build !windows

package workqueue

import (
	"os"
	"os/exec"
	"syscall"
)

// setProcessGroup puts the task's command in its own process group so that
// killProcessGroup can take down the shell and everything it spawned.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}

func killProcessGroup(process *os.Process) {
	// Negative pid signals the whole process group
	_ = syscall.Kill(-process.Pid, syscall.SIGKILL)
}
