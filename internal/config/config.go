// Package config holds the engine's configuration value. There is no global
// mutable configuration anywhere in this module: each cmd/ subcommand builds
// one EngineConfig from DefaultEngineConfig and its own flags and threads it
// explicitly through every constructor that needs it, the way the teacher
// threads a TestConfiguration through its test-framework factory.
package config

import (
	"fmt"
	"time"
)

// EngineConfig carries the knobs that affect an engine run: where the
// workdir tree lives, how verbose logging is, and the default timeouts
// applied when a plan/phase/test does not specify its own.
type EngineConfig struct {
	// WorkdirRoot is the directory under which per-run workdirs are created
	// (default "/var/tmp/conductor", or a path from --workdir-root).
	WorkdirRoot string

	// Debug enables verbose (DEBUG level) logging.
	Debug bool

	// OutputMode is "cli" or "tui"; see pkg/logging.Initcommon.
	OutputMode string

	// DefaultTestTimeout bounds a single test invocation when the test's own
	// metadata does not set "duration".
	DefaultTestTimeout time.Duration

	// DefaultRebootTimeout bounds how long the engine waits for a guest to
	// come back after a reboot request before declaring the guest lost.
	DefaultRebootTimeout time.Duration

	// MaxGuestsPerPhase is checked by Validate (it must not be negative) but
	// is not read by the dispatcher: every phase fans out to all of its
	// applicable guests at once, one goroutine per guest.
	MaxGuestsPerPhase int

	// KeepWorkdirOnSuccess is carried in the configuration but not read by
	// the engine, which does not delete workdirs after a run.
	KeepWorkdirOnSuccess bool
}

// DefaultEngineConfig returns the engine's baked-in defaults, which the
// cmd/ subcommands then override from their CLI flags.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		WorkdirRoot:          "/var/tmp/conductor",
		Debug:                false,
		OutputMode:           "cli",
		DefaultTestTimeout:   5 * time.Minute,
		DefaultRebootTimeout: 10 * time.Minute,
		MaxGuestsPerPhase:    0,
		KeepWorkdirOnSuccess: false,
	}
}

// Validate reports configuration errors that would otherwise surface as
// confusing failures deep inside a run.
func (c EngineConfig) Validate() error {
	if c.WorkdirRoot == "" {
		return fmt.Errorf("workdir root must not be empty")
	}
	if c.DefaultTestTimeout <= 0 {
		return fmt.Errorf("default test timeout must be positive, got %s", c.DefaultTestTimeout)
	}
	if c.DefaultRebootTimeout <= 0 {
		return fmt.Errorf("default reboot timeout must be positive, got %s", c.DefaultRebootTimeout)
	}
	if c.MaxGuestsPerPhase < 0 {
		return fmt.Errorf("max guests per phase must not be negative, got %d", c.MaxGuestsPerPhase)
	}
	return nil
}
