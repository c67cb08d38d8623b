//go:build windows

package pidfile

import (
	"errors"
	"syscall"
)

// Exit code reported by GetExitCodeProcess while a process runs
const stillActive = 259

// alive reports whether a process with the given PID exists (Windows)
func alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	handle, err := syscall.OpenProcess(syscall.PROCESS_QUERY_INFORMATION, false, uint32(pid))
	if err != nil {
		// Protected processes refuse the query but still exist
		return errors.Is(err, syscall.ERROR_ACCESS_DENIED)
	}
	defer syscall.CloseHandle(handle)

	var code uint32
	if err := syscall.GetExitCodeProcess(handle, &code); err != nil {
		return true
	}
	return code == stillActive
}
