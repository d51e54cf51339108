//go:build windows

package monitor

import (
	"syscall"
)

const stillActive = 259

// IsProcessRunning probes pid by opening a handle to it and querying its
// exit code, the Windows analogue of a POSIX signal-0 send. PID 0 and
// negative PIDs are never considered running.
func IsProcessRunning(pid int) (ProcessStatus, error) {
	if pid <= 0 {
		return ProcessStatus{Running: false, Exists: false}, nil
	}

	const desiredAccess = syscall.PROCESS_QUERY_LIMITED_INFORMATION
	handle, err := syscall.OpenProcess(desiredAccess, false, uint32(pid))
	if err != nil {
		// ERROR_INVALID_PARAMETER (87) is returned for a pid that never
		// existed or has already been fully reaped.
		return ProcessStatus{Running: false, Exists: false}, nil
	}
	defer syscall.CloseHandle(handle)

	var exitCode uint32
	if err := syscall.GetExitCodeProcess(handle, &exitCode); err != nil {
		return ProcessStatus{}, err
	}

	if exitCode == stillActive {
		return ProcessStatus{Running: true, Exists: true}, nil
	}
	return ProcessStatus{Running: false, Exists: true}, nil
}
