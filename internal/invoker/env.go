package invoker

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// RunContext carries the run-scoped values the invoker injects into every
// test's environment (spec §4.5 step 1).
type RunContext struct {
	RunID              string
	PlanDataDir        string
	TestDataDir        string
	TestTreeDir        string
	TopologyBashPath   string
	TopologyYAMLPath   string
	RebootCount        int
	TestRestartCount   int
	PidfilePath        string
	PidfileLockPath    string
	ScriptsDir         string
	ReportArtifactsURL string
	Debug              bool
}

// BuildEnv layers the test environment lowest-first per spec §4.5 step 1:
// plan environment, plan environment-file (sourced), test environment,
// then the engine's run-scoped TMT_* variables, which always win.
func BuildEnv(planEnv map[string]string, planEnvFile string, testEnv map[string]string, rc RunContext) (map[string]string, error) {
	env := make(map[string]string)

	for k, v := range planEnv {
		env[k] = v
	}

	if planEnvFile != "" {
		fileVars, err := parseEnvFile(planEnvFile)
		if err != nil {
			return nil, fmt.Errorf("environment-file %s: %w", planEnvFile, err)
		}
		for k, v := range fileVars {
			env[k] = v
		}
	}

	for k, v := range testEnv {
		env[k] = v
	}

	env["TMT_PLAN_DATA"] = rc.PlanDataDir
	env["TMT_TEST_DATA"] = rc.TestDataDir
	env["TMT_TREE"] = rc.TestTreeDir
	env["TMT_TOPOLOGY_BASH"] = rc.TopologyBashPath
	env["TMT_TOPOLOGY_YAML"] = rc.TopologyYAMLPath
	env["TMT_REBOOT_COUNT"] = fmt.Sprintf("%d", rc.RebootCount)
	env["TMT_TEST_RESTART_COUNT"] = fmt.Sprintf("%d", rc.TestRestartCount)
	env["TMT_TEST_PIDFILE"] = rc.PidfilePath
	env["TMT_TEST_PIDFILE_LOCK"] = rc.PidfileLockPath
	env["TMT_SCRIPTS_DIR"] = rc.ScriptsDir
	if rc.ReportArtifactsURL != "" {
		env["TMT_REPORT_ARTIFACTS_URL"] = rc.ReportArtifactsURL
	}
	if rc.Debug {
		env["TMT_DEBUG"] = "1"
	}

	return env, nil
}

// TestIterationID builds TMT_TEST_ITERATION_ID (spec §4.5: "<run-id>-<serial>").
func TestIterationID(runID string, serial int) string {
	return fmt.Sprintf("%s-%d", runID, serial)
}

// parseEnvFile reads a simple `KEY=value` per line environment file, the
// shape a plan's `environment-file` is sourced from.
func parseEnvFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		out[strings.TrimSpace(k)] = strings.Trim(strings.TrimSpace(v), `"'`)
	}
	return out, nil
}

// DefaultPaths derives the pidfile/lock/scripts paths rooted under dataDir,
// the layout the generated helper scripts (helpers.go) expect to find.
func DefaultPaths(dataDir string) (pidfile, lock, scripts string) {
	return filepath.Join(dataDir, "tmt-test.pid"),
		filepath.Join(dataDir, "tmt-test.lock"),
		filepath.Join(dataDir, "scripts")
}
