//go:build !windows

package pty

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// killGroup kills the command and everything it started. The PTY makes the
// command a session leader, so its pid is also its process group id.
func killGroup(p *os.Process) error {
	err := unix.Kill(-p.Pid, unix.SIGKILL)
	if errors.Is(err, unix.ESRCH) {
		return p.Kill()
	}
	return err
}
