// Package invoker implements the Test Invoker (spec §4.5): runs one test
// invocation on one guest end to end — environment layering, pre/post
// checks, the reboot and restart loops, subresult harvest, and result
// interpretation.
package invoker

import "time"

// Invocation is one Test Invocation, derived from a discover phase's
// output (spec §3). Serial is unique within the run; the same test
// appearing in multiple discover phases receives distinct serials.
type Invocation struct {
	Serial       int
	Name         string
	Script       []string
	Framework    string // "shell" | "beakerlib"
	Environment  map[string]string
	Duration     time.Duration
	TTY          bool
	ResultPolicy string // "respect" | "xfail" | "info" | "custom" | "restraint"
	Restart      RestartPolicy
	Guests       []string // discover phase's raw `where` (guest names or roles); resolved against live guests at execute time
	DataPath     string
}

// RestartPolicy is the restart-on-exit-code configuration (spec §4.5 step 5).
type RestartPolicy struct {
	ExitCodes []int
	MaxCount  int
}

// ShouldRestart reports whether exitCode warrants a restart given the
// invocation has already restarted restartCount times.
func (p RestartPolicy) ShouldRestart(exitCode, restartCount int) bool {
	if restartCount >= p.MaxCount {
		return false
	}
	for _, c := range p.ExitCodes {
		if c == exitCode {
			return true
		}
	}
	return false
}
