package invoker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"conductor/internal/guest"
	"conductor/internal/result"
	"conductor/internal/workdir"
	"conductor/pkg/logging"
)

// ErrAborted marks a Result whose test invoked tmt-abort (spec §4.5 step 6):
// callers use errors.Is to tell an abort apart from an ordinary invoke
// failure and must stop dispatching further invocations in the run.
var ErrAborted = errors.New("test invoked tmt-abort")

// CheckSpec is a before-test/after-test check configured on a plan or test
// (spec §3 Check). Checks are an external plugin contract (spec §1 lists
// only "Guest capability" as consumed, not check plugins); Command is the
// concrete shape this implementation supports: a shell command run on the
// same guest as the test.
type CheckSpec struct {
	How     string
	Event   string // "before-test" | "after-test"
	Policy  string // "respect" | "xfail" | "info"
	Command []string
}

// Invoker runs one Invocation on one Guest end to end (spec §4.5).
type Invoker struct {
	MaxRebootWait time.Duration // how long a reboot may take before the test is recorded as error
}

// New returns an Invoker with spec-default reboot wait (§4.5 step 4: 600s).
func New() *Invoker {
	return &Invoker{MaxRebootWait: 600 * time.Second}
}

// Invoke runs inv on g, producing the Result for this (invocation, guest)
// pair. dataDir is the workdir directory this invocation's artifacts and
// scripts live under (…/execute/data/guest/<name>/<test-path>-<serial>/).
//
// The returned error is nil for every ordinary outcome, including a failed
// test: failures are reported through the Result, not the error. It is only
// ever ErrAborted, signalling that the caller must stop dispatching further
// invocations in this run (spec §4.5 step 6 / §7).
func (iv *Invoker) Invoke(ctx context.Context, inv Invocation, g guest.Guest, planEnv map[string]string, planEnvFile string, rc RunContext, dataDir string) (result.Result, error) {
	start := time.Now()
	res := result.Result{
		Name:         inv.Name,
		SerialNumber: inv.Serial,
		Guest:        result.GuestRef{Name: g.Name(), Role: g.Role()},
		StartTime:    start,
		DataPath:     dataDir,
	}

	scriptsDir := filepath.Join(dataDir, "scripts")
	pidfile, lock, _ := DefaultPaths(dataDir)
	rc.PidfilePath, rc.PidfileLockPath, rc.ScriptsDir = pidfile, lock, scriptsDir
	rc.TestDataDir = filepath.Join(dataDir, "data")

	if _, _, _, err := WriteHelperScripts(scriptsDir, pidfile, lock); err != nil {
		return finalizeError(res, start, fmt.Errorf("writing helper scripts: %w", err)), nil
	}
	if err := os.MkdirAll(rc.TestDataDir, 0o755); err != nil {
		return finalizeError(res, start, err), nil
	}

	preChecks, err := iv.runChecks(ctx, nil, g, "before-test")
	res.Checks = append(res.Checks, preChecks...)
	if err != nil {
		return finalizeError(res, start, err), nil
	}

	exitOutcome, note, invokeErr := iv.runWithLoops(ctx, &inv, g, planEnv, planEnvFile, rc, dataDir)
	if invokeErr != nil {
		writeFailuresSidecar(dataDir, invokeErr)
		res.OriginalResult = result.Error
		res.Result = result.Error
		res.Notes = append(res.Notes, invokeErr.Error())
		if errors.Is(invokeErr, ErrAborted) {
			return finalize(res, start), ErrAborted
		}
		return finalize(res, start), nil
	}
	if note != "" {
		res.Notes = append(res.Notes, note)
	}

	subresults, harvestErr := harvestSubresults(rc.TestDataDir)
	res.Subresults = subresults
	if harvestErr != nil {
		logging.Warn("invoker", "subresult harvest failed for %s: %v", inv.Name, harvestErr)
	}

	// The exit code always determines OriginalResult (invariant 1); a
	// shell test's subresults, when present, only ever reduce what feeds
	// the effective/interpreted result, never the original one.
	res.OriginalResult = exitOutcome
	effective := exitOutcome
	if len(subresults) > 0 && inv.Framework == "shell" {
		reduced := reduceSubresults(subresults)
		if reduced != effective {
			res.Notes = append(res.Notes, fmt.Sprintf("result reduced to %s by subresults", reduced))
			effective = reduced
		}
	}

	postChecks, err := iv.runChecks(ctx, nil, g, "after-test")
	res.Checks = append(res.Checks, postChecks...)
	if err != nil {
		logging.Warn("invoker", "after-test checks failed for %s: %v", inv.Name, err)
	}

	res.Result = result.Interpret(effective, inv.ResultPolicy, res.Checks)

	if err := pullTestData(ctx, g, rc.TestDataDir, &res); err != nil {
		logging.Warn("invoker", "pulling test data for %s: %v", inv.Name, err)
	}

	return finalize(res, start), nil
}

// runWithLoops runs the test script, handling the reboot loop (spec §4.5
// step 4) and restart loop (step 5). It returns the raw (pre-interpretation)
// outcome derived from the final exit code, an optional note to attach to
// the Result (e.g. restart exhaustion), and an error that is non-nil only
// for ErrAborted or an unrecoverable invoke failure (guest unreachable,
// reboot timeout, unsupported reboot).
func (iv *Invoker) runWithLoops(ctx context.Context, inv *Invocation, g guest.Guest, planEnv map[string]string, planEnvFile string, rc RunContext, dataDir string) (result.Outcome, string, error) {
	restartCount := 0

	for {
		env, err := BuildEnv(planEnv, planEnvFile, inv.Environment, rc)
		if err != nil {
			return result.Error, "", err
		}
		env["TMT_TEST_ITERATION_ID"] = TestIterationID(rc.RunID, inv.Serial)

		exitCode, _, _, runErr := g.Run(ctx, inv.Script, env, inv.Duration, inv.TTY)
		if runErr != nil {
			return result.Error, "", fmt.Errorf("guest %s unreachable: %w", g.Name(), runErr)
		}

		switch {
		case exitCode == RebootMarkerExitCode:
			if !g.SupportsReboot() {
				return result.Error, "", fmt.Errorf("test requested reboot but guest %s does not support it", g.Name())
			}
			rebootCtx, cancel := context.WithTimeout(ctx, iv.MaxRebootWait)
			err := g.Reboot(rebootCtx, "", iv.MaxRebootWait)
			cancel()
			if err != nil {
				return result.Error, "", fmt.Errorf("reboot timed out: %w", err)
			}
			rc.RebootCount++
			continue

		case exitCode == AbortMarkerExitCode:
			return result.Error, "", ErrAborted

		case inv.Restart.ShouldRestart(exitCode, restartCount):
			restartCount++
			rc.TestRestartCount = restartCount
			continue

		case exitCode == 0:
			return result.Pass, "", nil

		default:
			if restartCount > 0 {
				return result.Fail, "restart limit reached", nil
			}
			return result.Fail, "", nil
		}
	}
}

func (iv *Invoker) runChecks(ctx context.Context, checks []CheckSpec, g guest.Guest, event string) ([]result.Check, error) {
	var out []result.Check
	for _, c := range checks {
		if c.Event != event {
			continue
		}
		exitCode, stdout, stderr, err := g.Run(ctx, c.Command, nil, 0, false)
		outcome := result.Pass
		var logs []string
		if stdout != "" {
			logs = append(logs, stdout)
		}
		if stderr != "" {
			logs = append(logs, stderr)
		}
		if err != nil {
			outcome = result.Error
		} else if exitCode != 0 {
			outcome = result.Fail
		}
		out = append(out, result.Check{How: c.How, Event: c.Event, Result: outcome, Policy: c.Policy, Log: logs})
	}
	return out, nil
}

// harvestSubresults parses the subresults.tsv file tmt-report-result
// appends to (spec §4.5 step 7).
func harvestSubresults(testDataDir string) ([]result.Subresult, error) {
	path := filepath.Join(testDataDir, "subresults.tsv")
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []result.Subresult
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.SplitN(scanner.Text(), "\t", 3)
		if len(fields) != 3 {
			continue
		}
		ts, parseErr := time.Parse(time.RFC3339, fields[0])
		if parseErr != nil {
			ts = time.Now()
		}
		out = append(out, result.Subresult{
			Name:      fields[1],
			Result:    result.Outcome(strings.ToLower(fields[2])),
			StartTime: ts,
			EndTime:   ts,
		})
	}
	return out, scanner.Err()
}

// reduceSubresults computes the parent outcome for shell tests as the
// priority-reduced max of subresults (spec §4.5 step 7).
func reduceSubresults(subresults []result.Subresult) result.Outcome {
	outcomes := make([]result.Outcome, len(subresults))
	for i, s := range subresults {
		outcomes[i] = s.Result
	}
	return result.Reduce(outcomes...)
}

func pullTestData(ctx context.Context, g guest.Guest, remoteTestData string, res *result.Result) error {
	entries, err := os.ReadDir(remoteTestData)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		res.Log = append(res.Log, filepath.Join(remoteTestData, e.Name()))
	}
	return nil
}

// writeFailuresSidecar persists spec §4.5 step 10's failures.yaml when the
// guest becomes unreachable mid-test, alongside whatever partial data
// already landed on disk.
func writeFailuresSidecar(dataDir string, cause error) {
	path := filepath.Join(dataDir, "failures.yaml")
	doc := map[string]interface{}{
		"error": cause.Error(),
		"time":  time.Now().UTC().Format(time.RFC3339),
	}
	if err := workdir.WriteYAMLAtomic(path, doc); err != nil {
		logging.Warn("invoker", "failed to write failures.yaml at %s: %v", path, err)
	}
}

func finalize(res result.Result, start time.Time) result.Result {
	res.EndTime = time.Now()
	res.Duration = res.EndTime.Sub(start)
	return res
}

func finalizeError(res result.Result, start time.Time, err error) result.Result {
	res.OriginalResult = result.Error
	res.Result = result.Error
	res.Notes = append(res.Notes, err.Error())
	return finalize(res, start)
}
