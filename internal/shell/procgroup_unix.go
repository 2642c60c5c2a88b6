//go:build unix

package shell

import (
	"os/exec"
	"syscall"
)

// killProcessGroup runs c in its own process group and makes context
// cancellation kill every process in it, including backgrounded children
// that would otherwise keep the output pipes open
func killProcessGroup(c *exec.Cmd) {
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	c.Cancel = func() error {
		return syscall.Kill(-c.Process.Pid, syscall.SIGKILL)
	}
}
