//go:build unix

package proc

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// SetGroupKill runs cmd in its own process group and kills the whole group
// on context cancellation, so backgrounded children cannot outlive the
// timeout.
func SetGroupKill(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		// Negative PID addresses the process group.
		return unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	}
}
