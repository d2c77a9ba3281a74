package step

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conductor/internal/contextrule"
	"conductor/internal/dispatch"
	"conductor/internal/plan"
	"conductor/internal/workdir"
)

type fakeResolver struct {
	names []string
	roles map[string]string
}

func (f fakeResolver) GuestNames() []string    { return f.names }
func (f fakeResolver) RoleOf(name string) string { return f.roles[name] }

type recordingRunner struct {
	calls []string
	fail  string
}

func (r *recordingRunner) RunPhase(_ context.Context, phase plan.Phase, guestName string) error {
	r.calls = append(r.calls, phase.Name+"@"+guestName)
	if phase.Name == r.fail {
		return errors.New("boom")
	}
	return nil
}

func TestEngineRunMarksStepDone(t *testing.T) {
	cfg := plan.StepConfig{Phases: []plan.Phase{{Name: "install", How: "shell"}}}
	gr := fakeResolver{names: []string{"g1", "g2"}}
	runner := &recordingRunner{}
	state := &workdir.PlanState{PlanID: "p1"}

	e := New(dispatch.New())
	err := e.Run(context.Background(), plan.StepPrepare, cfg, contextrule.Context{}, gr, runner, state, false)
	require.NoError(t, err)

	assert.Equal(t, workdir.StatusDone, state.Steps[string(plan.StepPrepare)])
	assert.ElementsMatch(t, []string{"install@g1", "install@g2"}, runner.calls)
}

func TestEngineRunLeavesStepPendingOnFailure(t *testing.T) {
	cfg := plan.StepConfig{Phases: []plan.Phase{{Name: "broken", How: "shell"}}}
	gr := fakeResolver{names: []string{"g1"}}
	runner := &recordingRunner{fail: "broken"}
	state := &workdir.PlanState{PlanID: "p1"}

	e := New(dispatch.New())
	err := e.Run(context.Background(), plan.StepExecute, cfg, contextrule.Context{}, gr, runner, state, false)
	require.Error(t, err)
	assert.Equal(t, workdir.StatusPending, state.Steps[string(plan.StepExecute)])
}

func TestIsDone(t *testing.T) {
	state := &workdir.PlanState{Steps: map[string]workdir.StepStatus{string(plan.StepDiscover): workdir.StatusDone}}
	assert.True(t, IsDone(state, plan.StepDiscover))
	assert.False(t, IsDone(state, plan.StepProvision))
	assert.False(t, IsDone(nil, plan.StepDiscover))
}
