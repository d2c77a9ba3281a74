package workdir

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteYAMLAtomicRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "run.yaml")

	in := &RunState{RunID: "abc123", Plans: []PlanState{{PlanID: "/smoke", Steps: map[string]StepStatus{"discover": StatusDone}}}}
	require.NoError(t, WriteYAMLAtomic(path, in))
	assert.True(t, Exists(path))

	out := &RunState{}
	require.NoError(t, ReadYAML(path, out))
	assert.Equal(t, "abc123", out.RunID)
	assert.Equal(t, StatusDone, out.Plans[0].Steps["discover"])

	// No leftover temp files after a successful write.
	entries, err := filepathGlobTmp(filepath.Dir(path))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func filepathGlobTmp(dir string) ([]string, error) {
	return filepath.Glob(filepath.Join(dir, "*.tmp-*"))
}

func TestLoadOrCreateRunFreshWhenMissing(t *testing.T) {
	dir := t.TempDir()
	state, err := LoadOrCreateRun(dir, "new-run", Options{})
	require.NoError(t, err)
	assert.Equal(t, "new-run", state.RunID)
	assert.Empty(t, state.Plans)
}

func TestLoadOrCreateRunForceResetsDownstreamSteps(t *testing.T) {
	dir := t.TempDir()
	state := &RunState{
		RunID: "r1",
		Plans: []PlanState{{
			PlanID: "/smoke",
			Steps: map[string]StepStatus{
				"discover":  StatusDone,
				"provision": StatusDone,
				"prepare":   StatusDone,
				"execute":   StatusDone,
				"finish":    StatusDone,
				"report":    StatusDone,
			},
		}},
	}
	require.NoError(t, state.Save(dir))

	resumed, err := LoadOrCreateRun(dir, "r1", Options{Force: []string{"prepare"}})
	require.NoError(t, err)

	steps := resumed.Plans[0].Steps
	assert.Equal(t, StatusDone, steps["discover"])
	assert.Equal(t, StatusDone, steps["provision"])
	assert.Equal(t, StatusTodo, steps["prepare"])
	assert.Equal(t, StatusTodo, steps["execute"])
	assert.Equal(t, StatusTodo, steps["finish"])
	assert.Equal(t, StatusTodo, steps["report"])
}

func TestPlanStateForCreatesAllStepsTodo(t *testing.T) {
	state := &RunState{RunID: "r1"}
	ps := state.PlanStateFor("/smoke")
	assert.Len(t, ps.Steps, len(stepOrder))
	for _, step := range stepOrder {
		assert.Equal(t, StatusTodo, ps.Steps[step])
	}

	// Fetching again returns the same entry, not a duplicate.
	ps2 := state.PlanStateFor("/smoke")
	assert.Len(t, state.Plans, 1)
	assert.Same(t, ps, ps2)
}
