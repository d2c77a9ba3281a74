// Package workdir implements the Workdir & State module: the deterministic
// on-disk run-tree layout, atomic write-rename persistence of state files,
// and the resumability flags (--force, --again, --remove/--keep) that let a
// run be interrupted and picked back up. --remove/--keep only set or clear
// a mark in run.yaml; no code here deletes a workdir.
package workdir

import (
	"path/filepath"
	"strconv"
)

// Step directory names, fixed per the six-step pipeline.
const (
	DirDiscover  = "discover"
	DirProvision = "provision"
	DirPrepare   = "prepare"
	DirExecute   = "execute"
	DirFinish    = "finish"
	DirReport    = "report"
)

// RunRoot returns the root directory for a run-id under the configured
// workdir root.
func RunRoot(workdirRoot, runID string) string {
	return filepath.Join(workdirRoot, runID)
}

// RunYAML is run.yaml: the plan list, status and context for the whole run.
func RunYAML(runRoot string) string {
	return filepath.Join(runRoot, "run.yaml")
}

// LogFile is the engine's own debug log for the run.
func LogFile(runRoot string) string {
	return filepath.Join(runRoot, "log.txt")
}

// PlanDir returns a materialized plan's directory, named after its
// (sanitized) node id path, e.g. "/plans/smoke" -> "<run-root>/plans/smoke".
func PlanDir(runRoot, planID string) string {
	return filepath.Join(runRoot, sanitizePath(planID))
}

// PlanYAML is plan.yaml within a plan directory: the materialized plan.
func PlanYAML(planDir string) string {
	return filepath.Join(planDir, "plan.yaml")
}

// StepDir returns the directory for one of the six fixed steps within a
// plan directory.
func StepDir(planDir, step string) string {
	return filepath.Join(planDir, step)
}

// GuestsYAML is provision/guests.yaml: reconnect data for each guest.
func GuestsYAML(planDir string) string {
	return filepath.Join(StepDir(planDir, DirProvision), "guests.yaml")
}

// TestsYAML is discover/tests.yaml: invocations with serial numbers.
func TestsYAML(planDir string) string {
	return filepath.Join(StepDir(planDir, DirDiscover), "tests.yaml")
}

// ResultsYAML is execute/results.yaml, continuously updated.
func ResultsYAML(planDir string) string {
	return filepath.Join(StepDir(planDir, DirExecute), "results.yaml")
}

// FailuresYAML returns a plan-level execute/failures.yaml path. The invoker
// does not write there: it writes its unreachable-guest failures.yaml
// sidecar into the invocation's own data directory.
func FailuresYAML(planDir string) string {
	return filepath.Join(StepDir(planDir, DirExecute), "failures.yaml")
}

// GuestDataDir is execute/data/guest/<name>/, the root under which each
// test invocation gets its own "<test-path>-<serial>" directory.
func GuestDataDir(planDir, guestName string) string {
	return filepath.Join(StepDir(planDir, DirExecute), "data", "guest", sanitizePath(guestName))
}

// InvocationDataDir is the per-invocation directory holding output.txt,
// checks/ and data/ (TMT_TEST_DATA).
func InvocationDataDir(planDir, guestName, testPath string, serial int) string {
	dirName := sanitizePath(testPath) + "-" + strconv.Itoa(serial)
	return filepath.Join(GuestDataDir(planDir, guestName), dirName)
}

// OutputFile is the captured stdout+stderr of one invocation.
func OutputFile(invocationDir string) string {
	return filepath.Join(invocationDir, "output.txt")
}

// ChecksDir holds per-check logs for one invocation.
func ChecksDir(invocationDir string) string {
	return filepath.Join(invocationDir, "checks")
}

// TestDataDir is the directory exposed to the test as TMT_TEST_DATA.
func TestDataDir(invocationDir string) string {
	return filepath.Join(invocationDir, "data")
}

// sanitizePath strips a leading slash and keeps the path filesystem-safe,
// the way the teacher's config storage sanitizes entity names before
// using them as file paths.
func sanitizePath(id string) string {
	trimmed := id
	for len(trimmed) > 0 && trimmed[0] == '/' {
		trimmed = trimmed[1:]
	}
	if trimmed == "" {
		return "root"
	}
	return trimmed
}
