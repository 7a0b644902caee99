//go:build !windows

package control

import (
	"syscall"
)

// killProcess sends SIGKILL to the process. ESRCH means the process is
// already gone, which callers treat as a no-op.
func killProcess(pid int) error {
	return syscall.Kill(pid, syscall.SIGKILL)
}
