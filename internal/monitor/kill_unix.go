//go:build unix

package monitor

import (
	"errors"
	"os/exec"
	"syscall"
)

// killProcess sends SIGKILL to the whole process group. A group that is
// already gone is not an error.
func killProcess(cmd *exec.Cmd) error {
	err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}
