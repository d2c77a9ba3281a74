package engine

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conductor/internal/config"
	"conductor/internal/contextrule"
	"conductor/internal/invoker"
	"conductor/internal/metadata"
	"conductor/internal/report"
	"conductor/internal/result"
	"conductor/internal/workdir"
)

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestRunPlanEndToEndLocal(t *testing.T) {
	root := t.TempDir()
	testsRoot := filepath.Join(root, "tests")
	writeTestFile(t, filepath.Join(testsRoot, "smoke.yaml"), "test: \"exit 0\"\nframework: shell\nduration: 5s\n")

	plansRoot := filepath.Join(root, "plans")
	writeTestFile(t, filepath.Join(plansRoot, "full.yaml"), `
summary: full local run
discover:
  - how: fmf
execute:
  - how: tmt
`)

	testsTree, err := metadata.LoadTree(testsRoot)
	require.NoError(t, err)
	plansTree, err := metadata.LoadTree(plansRoot)
	require.NoError(t, err)

	planNode, ok := plansTree.Find("/full")
	require.True(t, ok)

	var buf bytes.Buffer
	cfg := config.DefaultEngineConfig()
	cfg.WorkdirRoot = t.TempDir()

	e := New(cfg, report.NewJSONSink(&buf))
	runID := "test-run"
	err = e.RunPlan(context.Background(), runID, planNode, testsTree, contextrule.Context{}, workdir.Options{})
	require.NoError(t, err)

	assert.Contains(t, buf.String(), "/smoke")

	runRoot := workdir.RunRoot(cfg.WorkdirRoot, runID)
	assert.True(t, workdir.Exists(workdir.RunYAML(runRoot)))
}

// TestRunPlanDiscoverWhereRestrictsGuests grounds spec §8.4's multi-host
// barrier: a discover phase's `where` assigns its tests to a guest role,
// not every provisioned guest.
func TestRunPlanDiscoverWhereRestrictsGuests(t *testing.T) {
	root := t.TempDir()
	testsRoot := filepath.Join(root, "tests")
	writeTestFile(t, filepath.Join(testsRoot, "setup.yaml"), "test: \"exit 0\"\nframework: shell\nduration: 5s\n")

	plansRoot := filepath.Join(root, "plans")
	writeTestFile(t, filepath.Join(plansRoot, "multi.yaml"), `
summary: multi-host barrier
provision:
  - how: local
    name: server
    role: server
  - how: local
    name: client
    role: client
discover:
  - how: fmf
    where: server
execute:
  - how: tmt
`)

	testsTree, err := metadata.LoadTree(testsRoot)
	require.NoError(t, err)
	plansTree, err := metadata.LoadTree(plansRoot)
	require.NoError(t, err)

	planNode, ok := plansTree.Find("/multi")
	require.True(t, ok)

	cfg := config.DefaultEngineConfig()
	cfg.WorkdirRoot = t.TempDir()

	e := New(cfg, report.NewJSONSink(&bytes.Buffer{}))
	runID := "multi-run"
	err = e.RunPlan(context.Background(), runID, planNode, testsTree, contextrule.Context{}, workdir.Options{})
	require.NoError(t, err)

	runRoot := workdir.RunRoot(cfg.WorkdirRoot, runID)
	planDir := workdir.PlanDir(runRoot, "/multi")
	store, err := result.LoadStore(workdir.ResultsYAML(planDir))
	require.NoError(t, err)

	results := store.All()
	require.Len(t, results, 1, "setup should only run on the server guest")
	assert.Equal(t, "server", results[0].Guest.Name)
}

// TestRunPlanAbortSkipsRemainingInvocations grounds spec §4.5 step 6 / §7:
// once a test invokes tmt-abort, every not-yet-started invocation is
// recorded as skipped with note "aborted" instead of being dispatched.
func TestRunPlanAbortSkipsRemainingInvocations(t *testing.T) {
	root := t.TempDir()
	testsRoot := filepath.Join(root, "tests")
	writeTestFile(t, filepath.Join(testsRoot, "a-aborts.yaml"), fmt.Sprintf("test: \"exit %d\"\nframework: shell\nduration: 5s\n", invoker.AbortMarkerExitCode))
	writeTestFile(t, filepath.Join(testsRoot, "b-never-runs.yaml"), "test: \"exit 0\"\nframework: shell\nduration: 5s\n")

	plansRoot := filepath.Join(root, "plans")
	writeTestFile(t, filepath.Join(plansRoot, "abort.yaml"), `
summary: abort propagation
discover:
  - how: fmf
execute:
  - how: tmt
`)

	testsTree, err := metadata.LoadTree(testsRoot)
	require.NoError(t, err)
	plansTree, err := metadata.LoadTree(plansRoot)
	require.NoError(t, err)

	planNode, ok := plansTree.Find("/abort")
	require.True(t, ok)

	cfg := config.DefaultEngineConfig()
	cfg.WorkdirRoot = t.TempDir()

	e := New(cfg, report.NewJSONSink(&bytes.Buffer{}))
	runID := "abort-run"
	err = e.RunPlan(context.Background(), runID, planNode, testsTree, contextrule.Context{}, workdir.Options{})
	require.NoError(t, err)

	runRoot := workdir.RunRoot(cfg.WorkdirRoot, runID)
	planDir := workdir.PlanDir(runRoot, "/abort")
	store, err := result.LoadStore(workdir.ResultsYAML(planDir))
	require.NoError(t, err)

	var skipped result.Result
	found := false
	for _, r := range store.All() {
		if r.Name == "/b-never-runs" {
			skipped = r
			found = true
		}
	}
	require.True(t, found, "skipped invocation should still have a Result")
	assert.Equal(t, result.Skip, skipped.Result)
	assert.Contains(t, skipped.Notes, "aborted")
}

// TestRunPlanExitFirstSkipsRemainingInvocations grounds spec §4.5 step 6 / §7:
// execute --exit-first aborts the run on the first fail/error Result exactly
// like tmt-abort does.
func TestRunPlanExitFirstSkipsRemainingInvocations(t *testing.T) {
	root := t.TempDir()
	testsRoot := filepath.Join(root, "tests")
	writeTestFile(t, filepath.Join(testsRoot, "a-fails.yaml"), "test: \"exit 1\"\nframework: shell\nduration: 5s\n")
	writeTestFile(t, filepath.Join(testsRoot, "b-never-runs.yaml"), "test: \"exit 0\"\nframework: shell\nduration: 5s\n")

	plansRoot := filepath.Join(root, "plans")
	writeTestFile(t, filepath.Join(plansRoot, "exitfirst.yaml"), `
summary: exit-first propagation
discover:
  - how: fmf
execute:
  - how: tmt
    exit-first: true
`)

	testsTree, err := metadata.LoadTree(testsRoot)
	require.NoError(t, err)
	plansTree, err := metadata.LoadTree(plansRoot)
	require.NoError(t, err)

	planNode, ok := plansTree.Find("/exitfirst")
	require.True(t, ok)

	cfg := config.DefaultEngineConfig()
	cfg.WorkdirRoot = t.TempDir()

	e := New(cfg, report.NewJSONSink(&bytes.Buffer{}))
	runID := "exitfirst-run"
	err = e.RunPlan(context.Background(), runID, planNode, testsTree, contextrule.Context{}, workdir.Options{})
	require.NoError(t, err)

	runRoot := workdir.RunRoot(cfg.WorkdirRoot, runID)
	planDir := workdir.PlanDir(runRoot, "/exitfirst")
	store, err := result.LoadStore(workdir.ResultsYAML(planDir))
	require.NoError(t, err)

	var skipped result.Result
	found := false
	for _, r := range store.All() {
		if r.Name == "/b-never-runs" {
			skipped = r
			found = true
		}
	}
	require.True(t, found, "skipped invocation should still have a Result")
	assert.Equal(t, result.Skip, skipped.Result)
	assert.Contains(t, skipped.Notes, "aborted")
}
