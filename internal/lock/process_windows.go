//go:build windows

package lock

import (
	"errors"

	"golang.org/x/sys/windows"
)

// pidAlive reports whether the process that wrote a lock file still runs.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	h, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(pid))
	if err != nil {
		// access denied: the process exists under another user
		return errors.Is(err, windows.ERROR_ACCESS_DENIED)
	}
	windows.CloseHandle(h)
	return true
}
