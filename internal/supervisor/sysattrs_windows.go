//go:build windows

package supervisor

import (
	"os"
	"os/exec"
)

func configureSysProcAttrs(_ *exec.Cmd) {}

func killProcessGroup(pid int) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return p.Kill()
}
