//go:build !windows

package monitor

import (
	"errors"
	"syscall"
)

// IsProcessRunning probes pid with a signal-0 send, the POSIX idiom for
// checking liveness without actually signalling the process. PID 0 and
// negative PIDs are never considered running.
func IsProcessRunning(pid int) (ProcessStatus, error) {
	if pid <= 0 {
		return ProcessStatus{Running: false, Exists: false}, nil
	}

	err := syscall.Kill(pid, 0)
	switch {
	case err == nil:
		return ProcessStatus{Running: true, Exists: true}, nil
	case errors.Is(err, syscall.ESRCH):
		return ProcessStatus{Running: false, Exists: false}, nil
	case errors.Is(err, syscall.EPERM):
		// Process exists but is owned by another user; we can't signal it
		// but its mere existence means it is still running.
		return ProcessStatus{Running: true, Exists: true}, nil
	default:
		return ProcessStatus{}, err
	}
}
