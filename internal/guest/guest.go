// Package guest implements the Guest capability contract consumed by the
// step engine and test invoker (spec §6). Concrete provisioners beyond the
// local guest are out of scope (spec §1); this package provides the
// interface, a provisioner registry keyed by `how`, and a local-process
// guest used by the `local` provisioner and by tests.
package guest

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Spec describes how to acquire a guest: the provisioner variant (`how`)
// plus provisioner-specific options, mirroring a `provision` phase's fields.
type Spec struct {
	How     string
	Name    string
	Role    string
	Options map[string]interface{}
}

// Topology is the data exposed to tests about every guest in the plan
// (spec §6 "Guest.topology() -> { name, role, address-by-family, ... }").
type Topology struct {
	Name      string
	Role      string
	Addresses map[string]string // address family ("ipv4", "ipv6", ...) -> address
}

// Guest is the capability abstraction for a reachable execution target
// (spec §6).
type Guest interface {
	Name() string
	Role() string
	// Run executes cmd with env on the guest, allocating a tty iff tty is
	// true, and is bound by timeout. It returns the process exit code and
	// captured stdout/stderr.
	Run(ctx context.Context, cmd []string, env map[string]string, timeout time.Duration, tty bool) (exitCode int, stdout, stderr string, err error)
	// Push copies localPath to remotePath on the guest.
	Push(ctx context.Context, localPath, remotePath string) error
	// Pull copies remotePath on the guest back to localPath.
	Pull(ctx context.Context, remotePath, localPath string) error
	// Reboot reboots the guest, optionally running command first, and
	// blocks until reconnected or timeout elapses.
	Reboot(ctx context.Context, command string, timeout time.Duration) error
	// Release tears down any guest-held resources (SSH masters, temp
	// directories, ...).
	Release(ctx context.Context) error
	Topology() Topology
	// SupportsReboot/SupportsFilePush/RequiresElevation report the
	// capability flags carried by every guest (spec §3).
	SupportsReboot() bool
	SupportsFilePush() bool
	RequiresElevation() bool
}

// Provisioner constructs a Guest from a Spec.
type Provisioner interface {
	// Provision acquires a new guest. SupportsParallelProvision reports
	// whether this provisioner variant may be run concurrently with its own
	// kind when provisioning several guests at once (spec §4.4, §6
	// "Optional flag supports_parallel_provision").
	Provision(ctx context.Context, spec Spec) (Guest, error)
	SupportsParallelProvision() bool
}

// Registry maps a provisioner's `how` name to its implementation.
type Registry struct {
	mu           sync.RWMutex
	provisioners map[string]Provisioner
}

// NewRegistry returns a Registry pre-populated with the built-in `local`
// provisioner.
func NewRegistry() *Registry {
	r := &Registry{provisioners: make(map[string]Provisioner)}
	r.Register("local", LocalProvisioner{})
	return r
}

// Register adds or replaces the provisioner for the given `how` name.
func (r *Registry) Register(how string, p Provisioner) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.provisioners[how] = p
}

// Acquire looks up the provisioner named by spec.How and provisions a guest.
func (r *Registry) Acquire(ctx context.Context, spec Spec) (Guest, error) {
	r.mu.RLock()
	p, ok := r.provisioners[spec.How]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("guest: no provisioner registered for how=%q", spec.How)
	}
	return p.Provision(ctx, spec)
}

// SupportsParallel reports whether every named provisioner supports
// parallel provisioning, the condition spec §4.4 requires before
// provisioning fans guests out concurrently ("Provisioning specifically
// runs guests in parallel only when all requested provisioner variants
// declare parallel-safe capability; otherwise it falls back to sequential").
func (r *Registry) SupportsParallel(hows []string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, how := range hows {
		p, ok := r.provisioners[how]
		if !ok || !p.SupportsParallelProvision() {
			return false
		}
	}
	return true
}
