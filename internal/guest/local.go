package guest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"conductor/pkg/logging"
)

// LocalProvisioner provisions a guest that runs commands directly on the
// engine's own host, the `how: local` variant. It has no external
// dependency to acquire, so it always supports parallel provisioning.
type LocalProvisioner struct{}

func (LocalProvisioner) Provision(_ context.Context, spec Spec) (Guest, error) {
	name := spec.Name
	if name == "" {
		name = "localhost"
	}
	return &LocalGuest{name: name, role: spec.Role}, nil
}

func (LocalProvisioner) SupportsParallelProvision() bool { return true }

// LocalGuest runs test and phase commands as child processes of the engine,
// one process group per invocation so that a timeout or cancellation can
// kill the whole tree (grounded on the teacher's process-group management
// in internal/testing/process_unix.go / process_windows.go).
type LocalGuest struct {
	name string
	role string
}

func (g *LocalGuest) Name() string { return g.name }
func (g *LocalGuest) Role() string { return g.role }

func (g *LocalGuest) Run(ctx context.Context, cmdline []string, env map[string]string, timeout time.Duration, tty bool) (int, string, string, error) {
	if len(cmdline) == 0 {
		return -1, "", "", fmt.Errorf("guest %s: empty command", g.name)
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, cmdline[0], cmdline[1:]...)
	configureProcAttr(cmd)
	cmd.Env = os.Environ()
	for k, v := range env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			logging.Warn("guest", "run failed on %s: %v", g.name, err)
			return -1, stdout.String(), stderr.String(), err
		}
	}
	if runCtx.Err() != nil {
		killProcessTree(cmd)
	}
	return exitCode, stdout.String(), stderr.String(), nil
}

func (g *LocalGuest) Push(_ context.Context, localPath, remotePath string) error {
	return copyFile(localPath, remotePath)
}

func (g *LocalGuest) Pull(_ context.Context, remotePath, localPath string) error {
	return copyFile(remotePath, localPath)
}

// Reboot is unsupported for the local guest: rebooting the engine's own
// host mid-run is out of scope, matching spec §6's optional capability
// flags (SupportsReboot reports false).
func (g *LocalGuest) Reboot(context.Context, string, time.Duration) error {
	return fmt.Errorf("guest %s: local guest does not support reboot", g.name)
}

func (g *LocalGuest) Release(context.Context) error { return nil }

func (g *LocalGuest) Topology() Topology {
	return Topology{Name: g.name, Role: g.role, Addresses: map[string]string{"ipv4": "127.0.0.1"}}
}

func (g *LocalGuest) SupportsReboot() bool    { return false }
func (g *LocalGuest) SupportsFilePush() bool  { return true }
func (g *LocalGuest) RequiresElevation() bool { return false }

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("copy %s -> %s: %w", src, dst, err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("copy %s -> %s: %w", src, dst, err)
	}
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("copy %s -> %s: %w", src, dst, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copy %s -> %s: %w", src, dst, err)
	}
	return nil
}
