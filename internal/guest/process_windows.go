//go:build windows

package guest

import (
	"os/exec"
	"syscall"

	"conductor/pkg/logging"
)

// configureProcAttr on Windows creates a new process group via creation
// flags; true process-group signaling is unavailable, so killProcessTree
// falls back to terminating the individual process (grounded on
// internal/testing/process_windows.go).
func configureProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP}
}

func killProcessTree(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	if err := cmd.Process.Kill(); err != nil {
		logging.Warn("guest", "failed to terminate process %d: %v", cmd.Process.Pid, err)
	}
}
