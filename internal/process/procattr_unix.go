//go:build !windows

package process

import (
	"os/exec"
	"syscall"
)

// lookupCommand finds binaries on PATH
const lookupCommand = "which"

// setProcessGroup puts the child in its own process group so a timeout can
// take down anything it spawned.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
		_ = cmd.Process.Kill()
	}
}
