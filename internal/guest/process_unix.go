//go:build !windows

package guest

import (
	"os/exec"
	"syscall"

	"conductor/pkg/logging"
)

// configureProcAttr starts cmd in its own process group so the whole tree
// can be killed at once (grounded on
// internal/testing/process_unix.go's configureProcAttr).
func configureProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killProcessTree sends SIGTERM and then SIGKILL to the command's process
// group, so the whole test process tree is stopped on expiry.
// cmd.Process may already be reaped by the context deadline by the time
// this runs; errors are logged, not returned, since this is cleanup on an
// already-failed invocation.
func killProcessTree(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	pid := cmd.Process.Pid
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil {
		if err2 := syscall.Kill(pid, syscall.SIGTERM); err2 != nil {
			logging.Warn("guest", "failed to terminate process group -%d: %v (pid %d: %v)", pid, err, pid, err2)
		}
	}
	_ = syscall.Kill(-pid, syscall.SIGKILL)
}
