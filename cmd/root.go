package cmd

import (
	"errors"
	"os"

	"github.com/spf13/cobra"
)

// Exit codes for CLI commands (spec §6's exit-code mapping, generalized
// from the teacher's auth-error exit codes to this domain's failure
// modes): a run command reports one of these depending on what went wrong,
// not just "succeeded or not".
const (
	// ExitCodeSuccess indicates every discovered test passed.
	ExitCodeSuccess = 0
	// ExitCodeTestsFailed indicates the run completed but at least one test
	// result was fail, warn or error.
	ExitCodeTestsFailed = 1
	// ExitCodePlanError indicates the plan could not be loaded or run to
	// completion: bad metadata, an unknown plan id, a failing Adjust rule,
	// a workdir error, or a step (including provisioning) that failed.
	ExitCodePlanError = 2
	// ExitCodeEngineError indicates the command failed before or after the
	// plan run itself (invalid configuration or --context value, CLI usage
	// error, unreadable results).
	ExitCodeEngineError = 3
)

// rootCmd is the base command for the conductor CLI.
var rootCmd = &cobra.Command{
	Use:   "conductor",
	Short: "Materialize and run declarative test plans across guests",
	Long: `conductor loads a hierarchical metadata tree of tests and plans,
materializes each plan into its six ordered steps (discover, provision,
prepare, execute, finish, report), provisions guests, runs phases against
them, and reports structured results.`,
	SilenceUsage: true,
}

// SetVersion sets the version for the root command, injected at build time
// from main.go.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current build version.
func GetVersion() string {
	return rootCmd.Version
}

// Execute is the CLI entry point, called by main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "conductor version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(getExitCode(err))
	}
}

// PlanError wraps a plan-materialization failure so getExitCode can map it
// to ExitCodePlanError regardless of where in the call chain it surfaced.
type PlanError struct{ Cause error }

func (e *PlanError) Error() string { return e.Cause.Error() }
func (e *PlanError) Unwrap() error { return e.Cause }

// TestsFailedError signals a run that completed but left at least one
// fail/warn/error Result behind.
type TestsFailedError struct{ Count int }

func (e *TestsFailedError) Error() string {
	if e.Count == 1 {
		return "1 test did not pass"
	}
	return "some tests did not pass"
}

// getExitCode maps a command error to its exit code.
func getExitCode(err error) int {
	var planErr *PlanError
	if errors.As(err, &planErr) {
		return ExitCodePlanError
	}

	var testsFailed *TestsFailedError
	if errors.As(err, &testsFailed) {
		return ExitCodeTestsFailed
	}

	return ExitCodeEngineError
}

func init() {
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newListCmd())
	rootCmd.AddCommand(newShowCmd())
	rootCmd.AddCommand(newCleanCmd())
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newSelfUpdateCmd())
	rootCmd.AddCommand(newShellCmd())
}
