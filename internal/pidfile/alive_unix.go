//go:build !windows

package pidfile

import (
	"errors"
	"os"
	"syscall"
)

// alive reports whether a process with the given PID exists (Unix)
func alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Signal 0 checks existence without delivering anything
	err = proc.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}
