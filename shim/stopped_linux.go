//go:build linux

package shim

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// waitStopped blocks until pid has stopped or exited. The process is left
// unreaped for cmd.Wait.
func waitStopped(pid int) error {
	var info unix.Siginfo
	for {
		err := unix.Waitid(unix.P_PID, pid, &info, unix.WSTOPPED|unix.WEXITED|unix.WNOWAIT, nil)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return fmt.Errorf("waiting for process %d to stop: %w", pid, err)
		}
		return nil
	}
}
