//go:build !windows

package supervisor

import (
	"os/exec"
	"syscall"
)

// configureSysProcAttrs puts the child in its own process group so the whole
// tree can be signalled at once.
func configureSysProcAttrs(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func killProcessGroup(pid int) error {
	return syscall.Kill(-pid, syscall.SIGKILL)
}
