// Package engine is the top-level Run Engine (spec §2): it ties metadata
// selection, plan materialization, the step engine, the dispatcher, the
// invoker, the result store, and report sinks together into one driver that
// executes a plan's six steps in fixed order.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"conductor/internal/config"
	"conductor/internal/contextrule"
	"conductor/internal/dispatch"
	"conductor/internal/guest"
	"conductor/internal/invoker"
	"conductor/internal/metadata"
	"conductor/internal/plan"
	"conductor/internal/report"
	"conductor/internal/result"
	"conductor/internal/step"
	"conductor/internal/templating"
	"conductor/internal/workdir"
	"conductor/pkg/logging"
)

// Engine owns the shared infrastructure (provisioner registry, dispatcher,
// invoker, report sinks) used across every plan in a run.
type Engine struct {
	Config     config.EngineConfig
	Guests     *guest.Registry
	Dispatcher *dispatch.Dispatcher
	Invoker    *invoker.Invoker
	Sink       report.Sink

	// templates resolves `{{ var }}` placeholders in discovered test
	// commands (against the plan's own context/environment) and in
	// prepare/finish phase scripts (against the executing guest's
	// name/role) before they are handed to the invoker or a guest.
	templates *templating.Engine
}

// New returns an Engine wired with the default local provisioner and the
// given report sink.
func New(cfg config.EngineConfig, sink report.Sink) *Engine {
	iv := invoker.New()
	iv.MaxRebootWait = cfg.DefaultRebootTimeout
	return &Engine{
		Config:     cfg,
		Guests:     guest.NewRegistry(),
		Dispatcher: dispatch.New(),
		Invoker:    iv,
		Sink:       sink,
		templates:  templating.New(),
	}
}

// NewRunID generates a fresh run-id (spec §3: "identified by a UUID-like run-id").
func NewRunID() string { return uuid.NewString() }

// activeGuests tracks the guests provisioned so far for one plan run and
// implements step.GuestResolver against them.
type activeGuests struct {
	byName map[string]guest.Guest
	order  []string
}

func newActiveGuests() *activeGuests {
	return &activeGuests{byName: make(map[string]guest.Guest)}
}

func (g *activeGuests) add(gg guest.Guest) {
	if _, exists := g.byName[gg.Name()]; exists {
		return
	}
	g.byName[gg.Name()] = gg
	g.order = append(g.order, gg.Name())
}

func (g *activeGuests) GuestNames() []string { return g.order }

func (g *activeGuests) RoleOf(name string) string {
	if gg, ok := g.byName[name]; ok {
		return gg.Role()
	}
	return ""
}

func (g *activeGuests) topologies() []guest.Topology {
	out := make([]guest.Topology, 0, len(g.order))
	for _, name := range g.order {
		out = append(out, g.byName[name].Topology())
	}
	return out
}

// funcPhaseRunner adapts a function to step.PhaseRunner.
type funcPhaseRunner func(ctx context.Context, phase plan.Phase, guestName string) error

func (f funcPhaseRunner) RunPhase(ctx context.Context, phase plan.Phase, guestName string) error {
	return f(ctx, phase, guestName)
}

// RunPlan materializes planNode against ctxVals and executes its six steps
// in fixed order (spec §4.3), persisting state under workdirRoot/runID and
// reporting through e.Sink at the end. testsTree is the metadata tree
// discover phases select invocations from.
func (e *Engine) RunPlan(ctx context.Context, runID string, planNode *metadata.Node, testsTree *metadata.Tree, ctxVals contextrule.Context, opts workdir.Options) error {
	p, err := plan.Materialize(planNode, ctxVals)
	if err != nil {
		return fmt.Errorf("materializing plan %s: %w", planNode.ID, err)
	}
	if !p.Enabled {
		logging.Info("engine", "plan %s is disabled, skipping", p.ID)
		return nil
	}

	notifyReady(p.ID)

	runRoot := workdir.RunRoot(e.Config.WorkdirRoot, runID)
	planDir := workdir.PlanDir(runRoot, p.ID)
	run, err := workdir.LoadOrCreateRun(runRoot, runID, opts)
	if err != nil {
		return fmt.Errorf("loading run state: %w", err)
	}
	planState := run.PlanStateFor(p.ID)

	if err := workdir.WriteYAMLAtomic(workdir.PlanYAML(planDir), p); err != nil {
		return fmt.Errorf("persisting plan.yaml: %w", err)
	}

	guests := newActiveGuests()
	var invocations []invoker.Invocation
	serial := 0
	store, err := result.LoadStore(workdir.ResultsYAML(planDir))
	if err != nil {
		return fmt.Errorf("loading results store: %w", err)
	}

	for _, stepName := range plan.AllSteps {
		if step.IsDone(planState, stepName) && !opts.Again {
			logging.Debug("engine", "plan %s step %s already done, skipping", p.ID, stepName)
			continue
		}

		cfg := p.Steps[stepName]
		se := step.New(e.Dispatcher)

		var runner step.PhaseRunner
		switch stepName {
		case plan.StepDiscover:
			runner = funcPhaseRunner(func(_ context.Context, phase plan.Phase, _ string) error {
				found, derr := e.discoverInvocations(testsTree, phase, p.Environment, ctxVals, &serial)
				if derr != nil {
					return derr
				}
				invocations = append(invocations, found...)
				return nil
			})
			// discover has no guests yet; run its phases against a single
			// pseudo-guest so step.Engine's per-guest dispatch still applies.
			// ignoreWhere=true: a discover phase's `where` assigns its
			// discovered tests to guests (captured onto Invocation.Guests
			// above), it does not gate whether discovery itself runs.
			if err := se.Run(ctx, stepName, cfg, ctxVals, singleGuestResolver{}, runner, planState, true); err != nil {
				return e.finalize(run, runRoot, err)
			}
			if opts.FailedOnly {
				// --failed-only restricts discover output to tests whose
				// prior Result is fail/error (spec §4.6); store was loaded
				// from the plan's existing results.yaml before this loop.
				invocations = filterFailedOnly(invocations, store)
			}
			if err := workdir.WriteYAMLAtomic(workdir.TestsYAML(planDir), invocations); err != nil {
				return e.finalize(run, runRoot, err)
			}

		case plan.StepProvision:
			runner = funcPhaseRunner(func(pctx context.Context, phase plan.Phase, _ string) error {
				return e.provisionPhase(pctx, phase, guests)
			})
			if err := se.Run(ctx, stepName, cfg, ctxVals, singleGuestResolver{}, runner, planState, true); err != nil {
				return e.finalize(run, runRoot, err)
			}
			if err := workdir.WriteYAMLAtomic(workdir.GuestsYAML(planDir), guests.topologies()); err != nil {
				return e.finalize(run, runRoot, err)
			}

		case plan.StepPrepare, plan.StepFinish:
			runner = funcPhaseRunner(func(pctx context.Context, phase plan.Phase, guestName string) error {
				return e.runShellPhase(pctx, phase, guests, guestName)
			})
			if err := se.Run(ctx, stepName, cfg, ctxVals, guests, runner, planState, false); err != nil {
				return e.finalize(run, runRoot, err)
			}
			if stepName == plan.StepFinish {
				for _, name := range guests.order {
					if err := guests.byName[name].Release(ctx); err != nil {
						logging.Warn("engine", "releasing guest %s: %v", name, err)
					}
				}
			}

		case plan.StepExecute:
			if err := e.executeStep(ctx, p, invocations, guests, store, planDir, runID); err != nil {
				return e.finalize(run, runRoot, err)
			}
			planState.Steps[string(stepName)] = workdir.StatusDone

		case plan.StepReport:
			if err := e.Sink.Report(p.ID, ctxVals, store.All()); err != nil {
				logging.Warn("engine", "report sink failed for plan %s: %v", p.ID, err)
			}
			planState.Steps[string(stepName)] = workdir.StatusDone
		}

		if err := run.Save(runRoot); err != nil {
			return fmt.Errorf("persisting run state: %w", err)
		}
	}

	return nil
}

func (e *Engine) finalize(run *workdir.RunState, runRoot string, cause error) error {
	if err := run.Save(runRoot); err != nil {
		logging.Warn("engine", "failed to persist run state after error: %v", err)
	}
	return cause
}

// singleGuestResolver is used for steps (discover, provision) that run
// before any guest exists: it reports exactly one pseudo-guest so the step
// engine's per-guest dispatch loop still executes each phase once.
type singleGuestResolver struct{}

func (singleGuestResolver) GuestNames() []string { return []string{"engine"} }
func (singleGuestResolver) RoleOf(string) string { return "" }

func (e *Engine) provisionPhase(ctx context.Context, phase plan.Phase, guests *activeGuests) error {
	how := phase.How
	if how == "" {
		how = "local"
	}
	name := phase.Name
	if name == "" {
		name = fmt.Sprintf("guest-%d", len(guests.order))
	}
	role, _ := phase.Options["role"].(string)
	g, err := e.Guests.Acquire(ctx, guest.Spec{How: how, Name: name, Role: role, Options: phase.Options})
	if err != nil {
		return fmt.Errorf("provisioning %s (how=%s): %w", name, how, err)
	}
	guests.add(g)
	return nil
}

func (e *Engine) runShellPhase(ctx context.Context, phase plan.Phase, guests *activeGuests, guestName string) error {
	g, ok := guests.byName[guestName]
	if !ok {
		return fmt.Errorf("phase %s: unknown guest %s", phase.Name, guestName)
	}
	script, _ := phase.Options["script"].(string)
	if script == "" {
		return nil
	}
	script = e.resolvePhaseTemplate(script, g, guestName)

	exitCode, _, stderr, err := g.Run(ctx, []string{"sh", "-c", script}, nil, e.Config.DefaultTestTimeout, false)
	if err != nil {
		return fmt.Errorf("phase %s on %s: %w", phase.Name, guestName, err)
	}
	if exitCode != 0 {
		return fmt.Errorf("phase %s on %s exited %d: %s", phase.Name, guestName, exitCode, stderr)
	}
	return nil
}

// resolvePhaseTemplate resolves `{{ var }}` placeholders in a phase's
// shell script against the guest's name and role (`guest.name`,
// `guest.role`), leaving anything unresolved (e.g. a reference meant
// for the test itself) untouched.
func (e *Engine) resolvePhaseTemplate(script string, g guest.Guest, guestName string) string {
	ctxMap := map[string]interface{}{
		"guest": map[string]interface{}{
			"name": guestName,
			"role": g.Role(),
		},
	}
	return e.templates.ResolveSafe(script, ctxMap).(string)
}

// discoverInvocations selects nodes from testsTree per phase's filter/test
// options and converts each to an Invocation (spec §3, §4.5). Each node's
// "test" command is selectively templated against the plan's own
// environment and context, so a test may reference e.g. `{{ arch }}`
// without requiring every variable the invoker later injects to already
// be known at discover time.
//
// nextSerial is a run-monotonic counter shared across every discover phase
// in the run: a test appearing in k discover phases must receive k distinct
// serials (invariant 3), so the counter cannot reset per call the way a
// per-node loop index would.
func (e *Engine) discoverInvocations(testsTree *metadata.Tree, phase plan.Phase, planEnvironment map[string]string, ctxVals contextrule.Context, nextSerial *int) ([]invoker.Invocation, error) {
	if testsTree == nil {
		return nil, nil
	}
	selOpts := metadata.SelectOptions{
		Filter:   stringOpt(phase.Options, "filter"),
		Names:    toStringSlice(phase.Options["test"]),
		Includes: toStringSlice(phase.Options["include"]),
		Excludes: toStringSlice(phase.Options["exclude"]),
	}
	nodes, err := metadata.Select(testsTree, selOpts)
	if err != nil {
		return nil, fmt.Errorf("discover: %w", err)
	}

	planCtx := templating.MergeContexts(contextValsToMap(ctxVals), stringMapToInterfaceMap(planEnvironment))

	var invocations []invoker.Invocation
	for _, n := range nodes {
		command := e.templates.ResolveSafe(n.StringAttr("test"), planCtx).(string)
		duration := e.Config.DefaultTestTimeout
		if strings.TrimSpace(n.StringAttr("duration")) != "" {
			duration = parseDuration(n.StringAttr("duration"))
		}
		*nextSerial++
		invocations = append(invocations, invoker.Invocation{
			Serial:       *nextSerial,
			Name:         n.ID,
			Script:       []string{"sh", "-c", command},
			Framework:    defaultString(n.StringAttr("framework"), "shell"),
			Duration:     duration,
			ResultPolicy: defaultString(n.StringAttr("result"), "respect"),
			Environment:  stringMap(n.Attrs["environment"]),
			// Guests carries the phase's raw `where` (guest names or
			// roles); it is resolved against the live guest set at
			// execute time, since provision hasn't run yet here.
			Guests: phase.Where,
		})
	}
	return invocations, nil
}

// filterFailedOnly restricts invocations to those whose most recent Result
// in store (matched by test name, any guest) is fail or error, the
// --failed-only discover restriction of spec §4.6.
func filterFailedOnly(invocations []invoker.Invocation, store *result.Store) []invoker.Invocation {
	failedNames := make(map[string]bool)
	for _, r := range store.All() {
		if r.Result == result.Fail || r.Result == result.Error {
			failedNames[r.Name] = true
		}
	}
	var out []invoker.Invocation
	for _, inv := range invocations {
		if failedNames[inv.Name] {
			out = append(out, inv)
		}
	}
	return out
}

func (e *Engine) executeStep(ctx context.Context, p *plan.Plan, invocations []invoker.Invocation, guests *activeGuests, store *result.Store, planDir, runID string) error {
	phases, err := p.Steps[plan.StepExecute].Select(contextrule.Context(p.Context))
	if err != nil {
		return fmt.Errorf("execute: selecting phases: %w", err)
	}
	sequential := false
	exitFirst := false
	for _, ph := range phases {
		sequential = sequential || ph.Sequential
		if b, _ := ph.Options["exit-first"].(bool); b {
			exitFirst = true
		}
	}

	if len(guests.GuestNames()) == 0 {
		if _, ok := guests.byName["localhost"]; !ok {
			g, err := e.Guests.Acquire(ctx, guest.Spec{How: "local", Name: "localhost"})
			if err != nil {
				return err
			}
			guests.add(g)
		}
	}

	for _, inv := range invocations {
		targets := resolveInvocationGuests(inv, guests)

		results := e.Dispatcher.Run(ctx, targets, sequential, func(gctx context.Context, guestName string) error {
			g := guests.byName[guestName]
			dataDir := workdir.InvocationDataDir(planDir, guestName, inv.Name, inv.Serial)
			rc := invoker.RunContext{
				RunID:            runID,
				PlanDataDir:      planDir,
				TestTreeDir:      planDir,
				TopologyBashPath: workdir.GuestsYAML(planDir) + ".bash",
				TopologyYAMLPath: workdir.GuestsYAML(planDir),
				Debug:            e.Config.Debug,
			}
			res, invErr := e.Invoker.Invoke(gctx, inv, g, p.Environment, p.EnvironmentFile, rc, dataDir)
			if err := store.Upsert(res); err != nil {
				return err
			}
			return invErr
		})
		if err := dispatch.FirstError(results); err != nil {
			if errors.Is(err, invoker.ErrAborted) {
				logging.Warn("engine", "invocation %s invoked tmt-abort, skipping remaining execute invocations", inv.Name)
				return markRemainingAborted(invocations, inv.Serial, guests, store)
			}
			logging.Warn("engine", "invocation %s failed: %v", inv.Name, err)
		}

		// execute --exit-first (spec §4.5 step 6 / §7): the first
		// fail/error Result aborts the run exactly like tmt-abort.
		if exitFirst && invocationFailed(inv, targets, store) {
			logging.Warn("engine", "invocation %s failed with exit-first set, skipping remaining execute invocations", inv.Name)
			return markRemainingAborted(invocations, inv.Serial, guests, store)
		}
	}
	return nil
}

// invocationFailed reports whether any of inv's already-stored Results (one
// per target guest) is fail or error, the trigger condition for
// execute --exit-first.
func invocationFailed(inv invoker.Invocation, targets []string, store *result.Store) bool {
	for _, guestName := range targets {
		if r, ok := store.Get(inv.Serial, guestName); ok {
			if r.Result == result.Fail || r.Result == result.Error {
				return true
			}
		}
	}
	return false
}

// resolveInvocationGuests maps an invocation's raw `where` (captured at
// discover time, before any guest existed) onto the now-live guest set.
func resolveInvocationGuests(inv invoker.Invocation, guests *activeGuests) []string {
	ph := plan.Phase{Where: inv.Guests}
	targets := ph.ResolveWhere(guests.GuestNames(), guests.RoleOf)
	if len(targets) == 0 {
		return guests.GuestNames()
	}
	return targets
}

// markRemainingAborted records a skip Result with note "aborted" for every
// invocation after fromSerial that has not yet been dispatched (spec §4.5
// step 6 / §7): once tmt-abort fires, the execute step stops dispatching new
// tests and the run proceeds straight to finish/report.
func markRemainingAborted(invocations []invoker.Invocation, fromSerial int, guests *activeGuests, store *result.Store) error {
	skipping := false
	for _, inv := range invocations {
		if !skipping {
			if inv.Serial == fromSerial {
				skipping = true
			}
			continue
		}
		for _, guestName := range resolveInvocationGuests(inv, guests) {
			res := result.Result{
				Name:           inv.Name,
				SerialNumber:   inv.Serial,
				Guest:          result.GuestRef{Name: guestName, Role: guests.RoleOf(guestName)},
				Result:         result.Skip,
				OriginalResult: result.Skip,
				Notes:          []string{"aborted"},
			}
			if err := store.Upsert(res); err != nil {
				return err
			}
		}
	}
	return nil
}

func contextValsToMap(ctx contextrule.Context) map[string]interface{} {
	out := make(map[string]interface{}, len(ctx))
	for k, v := range ctx {
		out[k] = v
	}
	return out
}

func stringMapToInterfaceMap(m map[string]string) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func stringOpt(m map[string]interface{}, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func toStringSlice(v interface{}) []string {
	switch val := v.(type) {
	case []string:
		return val
	case []interface{}:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return []string{val}
	default:
		return nil
	}
}

func stringMap(v interface{}) map[string]string {
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, val := range m {
		out[k] = fmt.Sprintf("%v", val)
	}
	return out
}

func defaultString(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// parseDuration supports tmt's "Nd Nh Nm Ns" and multiplication ("2 * 1h")
// duration shorthand (spec §4.5 step 3): each space-separated field is a
// time.ParseDuration value or a day count with a "d" suffix, and the fields
// are summed. An empty or unparseable value defaults to 5 minutes.
func parseDuration(s string) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return 5 * time.Minute
	}
	if strings.Contains(s, "*") {
		parts := strings.SplitN(s, "*", 2)
		factor := 1.0
		fmt.Sscanf(strings.TrimSpace(parts[0]), "%f", &factor)
		base, err := time.ParseDuration(strings.TrimSpace(parts[1]))
		if err != nil {
			return 5 * time.Minute
		}
		return time.Duration(float64(base) * factor)
	}
	var total time.Duration
	for _, field := range strings.Fields(s) {
		if strings.HasSuffix(field, "d") {
			days, err := time.ParseDuration(strings.TrimSuffix(field, "d") + "h")
			if err != nil {
				return 5 * time.Minute
			}
			total += 24 * days
			continue
		}
		d, err := time.ParseDuration(field)
		if err != nil {
			return 5 * time.Minute
		}
		total += d
	}
	return total
}
