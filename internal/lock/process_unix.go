//go:build !windows

package lock

import (
	"errors"
	"os"
	"syscall"
)

// pidAlive reports whether the process that wrote a lock file still runs.
// Signal 0 probes without delivering anything; EPERM still means alive.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = p.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}
