//go:build windows
// +build windows

package workqueue

import (
	"os"
	"os/exec"
)

// setProcessGroup is a no-op on Windows; tasks run as plain child processes.
func setProcessGroup(cmd *exec.Cmd) {
}

func killProcessGroup(process *os.Process) {
	_ = process.Kill()
}
