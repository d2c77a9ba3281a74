// Package step implements the per-step lifecycle state machine (spec
// §4.3): todo -> pending -> done, phase selection and ordering within the
// step, and dispatching each phase to its resolved guest set through the
// Multi-guest Dispatcher. It is shared across all six step types; what
// differs between discover/provision/.../report is only the PhaseRunner
// each one plugs in.
package step

import (
	"context"
	"fmt"

	"conductor/internal/contextrule"
	"conductor/internal/dispatch"
	"conductor/internal/plan"
	"conductor/internal/workdir"
)

// PhaseRunner executes one phase of one step on one guest. Each of the six
// step types (discover, provision, prepare, execute, finish, report)
// supplies its own PhaseRunner; the Engine here only handles selection,
// ordering, state transitions, and dispatch.
type PhaseRunner interface {
	RunPhase(ctx context.Context, phase plan.Phase, guestName string) error
}

// GuestResolver reports the guest names currently available to a plan and
// each guest's role, so phases can resolve `where`.
type GuestResolver interface {
	GuestNames() []string
	RoleOf(guestName string) string
}

// Engine drives one step's phases against a Dispatcher, recording status
// transitions on a workdir.PlanState as it goes (the caller saves it).
type Engine struct {
	Dispatcher *dispatch.Dispatcher
}

// New returns a step Engine backed by d.
func New(d *dispatch.Dispatcher) *Engine {
	return &Engine{Dispatcher: d}
}

// Run executes every active phase of cfg, in (order, source-order), against
// the guests resolvers gr reports, through runner. It records status
// transitions on state: todo -> pending on entry, pending -> done on full
// success (spec §4.3). A phase error leaves the step `pending` so a resumed
// run can detect and replay it (step 4.3's "abnormal exit leaves the step
// pending").
//
// ignoreWhere skips `where` resolution against gr and instead runs every
// active phase against every name gr reports. discover and provision run
// before any real guest exists, so gr is a single pseudo-guest standing in
// for "run this phase once": gating that placeholder through a phase's
// `where` (which names real guests/roles) would wrongly drop the phase
// instead of running it. Prepare/execute/finish, where guests are real,
// pass ignoreWhere=false so `where` resolves normally (spec §3, step 3).
func (e *Engine) Run(ctx context.Context, stepName plan.StepName, cfg plan.StepConfig, ctxVals contextrule.Context, gr GuestResolver, runner PhaseRunner, state *workdir.PlanState, ignoreWhere bool) error {
	setStatus(state, stepName, workdir.StatusPending)

	phases, err := cfg.Select(ctxVals)
	if err != nil {
		return fmt.Errorf("step %s: selecting phases: %w", stepName, err)
	}

	guestNames := gr.GuestNames()
	for _, phase := range phases {
		targets := guestNames
		if !ignoreWhere {
			targets = phase.ResolveWhere(guestNames, gr.RoleOf)
		}
		if len(targets) == 0 {
			continue
		}

		results := e.Dispatcher.Run(ctx, targets, phase.Sequential, func(pctx context.Context, guestName string) error {
			return runner.RunPhase(pctx, phase, guestName)
		})
		if err := dispatch.FirstError(results); err != nil {
			return fmt.Errorf("step %s phase %s: %w", stepName, phase.Name, err)
		}
	}

	setStatus(state, stepName, workdir.StatusDone)
	return nil
}

func setStatus(state *workdir.PlanState, stepName plan.StepName, status workdir.StepStatus) {
	if state == nil {
		return
	}
	if state.Steps == nil {
		state.Steps = make(map[string]workdir.StepStatus)
	}
	state.Steps[string(stepName)] = status
}

// IsDone reports whether state already has stepName marked done — used to
// skip a step entirely on resume (spec §4.2: "Steps whose status is done
// are skipped").
func IsDone(state *workdir.PlanState, stepName plan.StepName) bool {
	if state == nil || state.Steps == nil {
		return false
	}
	return state.Steps[string(stepName)] == workdir.StatusDone
}
