package workdir

import (
	"fmt"
	"os"
	"time"
)

// StepStatus is the per-step state-machine value (spec §4.3): todo ->
// pending -> done.
type StepStatus string

const (
	StatusTodo    StepStatus = "todo"
	StatusPending StepStatus = "pending"
	StatusDone    StepStatus = "done"
)

// PlanState is one plan's persisted progress, stored in run.yaml as one
// entry of RunState.Plans.
type PlanState struct {
	PlanID string                `yaml:"plan-id"`
	Steps  map[string]StepStatus `yaml:"steps"`
}

// RunState is run.yaml: the plan list, status, and context for a run.
type RunState struct {
	RunID     string            `yaml:"run-id"`
	CreatedAt time.Time         `yaml:"created-at"`
	Context   map[string]string `yaml:"context,omitempty"`
	Plans     []PlanState       `yaml:"plans"`
	// Remove records a removal mark for the workdir (--remove); Keep clears
	// a mark left by a prior run (--keep). The mark is only stored: nothing
	// in this module deletes the workdir when a run finishes.
	Remove bool `yaml:"remove,omitempty"`
}

// Options captures the resumability flags accepted by the run command.
type Options struct {
	// Force re-executes the named steps and discards their downstream state.
	Force []string
	// Again re-executes a step while preserving its existing output
	// directory structure.
	Again bool
	// FailedOnly restricts discover output to previously fail/error tests.
	FailedOnly bool
	// Remove sets RunState.Remove in run.yaml; the workdir itself is not
	// deleted.
	Remove bool
	// Keep cancels any pending removal intent from a previous run.
	Keep bool
	// Scratch purges the run directory before starting.
	Scratch bool
}

// LoadOrCreateRun resumes an existing run.yaml under runRoot, or creates a
// fresh RunState if none exists (or --scratch was requested).
func LoadOrCreateRun(runRoot, runID string, opts Options) (*RunState, error) {
	if opts.Scratch {
		if err := os.RemoveAll(runRoot); err != nil {
			return nil, fmt.Errorf("scratch: removing %s: %w", runRoot, err)
		}
	}

	state := &RunState{}
	path := RunYAML(runRoot)
	if err := ReadYAML(path, state); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		return &RunState{RunID: runID, CreatedAt: time.Now(), Remove: opts.Remove}, nil
	}

	// Resuming: apply --force by resetting the named steps (and everything
	// downstream of them, since their output is no longer trustworthy) back
	// to todo. --again leaves status as-is; the step engine re-executes a
	// "done" step anyway when Again is set, without discarding its directory.
	if len(opts.Force) > 0 {
		forced := make(map[string]bool, len(opts.Force))
		for _, s := range opts.Force {
			forced[s] = true
		}
		for i := range state.Plans {
			resetFromFirstForced(state.Plans[i].Steps, forced)
		}
	}

	state.Remove = opts.Remove || (state.Remove && !opts.Keep)
	return state, nil
}

// stepOrder is the fixed six-step pipeline order used to determine what
// "downstream of a forced step" means.
var stepOrder = []string{DirDiscover, DirProvision, DirPrepare, DirExecute, DirFinish, DirReport}

func resetFromFirstForced(steps map[string]StepStatus, forced map[string]bool) {
	resetting := false
	for _, step := range stepOrder {
		if forced[step] {
			resetting = true
		}
		if resetting {
			steps[step] = StatusTodo
		}
	}
}

// Save persists the run state atomically.
func (s *RunState) Save(runRoot string) error {
	return WriteYAMLAtomic(RunYAML(runRoot), s)
}

// PlanStateFor returns the PlanState for planID, creating one (with every
// step todo) if absent.
func (s *RunState) PlanStateFor(planID string) *PlanState {
	for i := range s.Plans {
		if s.Plans[i].PlanID == planID {
			return &s.Plans[i]
		}
	}
	ps := PlanState{PlanID: planID, Steps: make(map[string]StepStatus, len(stepOrder))}
	for _, step := range stepOrder {
		ps.Steps[step] = StatusTodo
	}
	s.Plans = append(s.Plans, ps)
	return &s.Plans[len(s.Plans)-1]
}
