package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"

	"conductor/internal/config"
	"conductor/internal/contextrule"
	"conductor/internal/engine"
	"conductor/internal/metadata"
	"conductor/internal/report"
	"conductor/internal/result"
	"conductor/internal/workdir"
	"conductor/pkg/logging"
)

type runFlags struct {
	testsPath   string
	plansPath   string
	planFilter  string
	contextStr  []string
	workdirRoot string
	again       bool
	failedOnly  bool
	force       []string
	remove      bool
	keep        bool
	scratch     bool
	jsonReport  bool
	debug       bool
	quiet       bool
}

func newRunCmd() *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Materialize and run the plan named by --plan",
		Long: `run discovers tests under --tests, materializes the one plan under
--plans whose id equals --plan, and executes its six steps in order
(discover, provision, prepare, execute, finish, report). --plan is matched
against plan ids exactly; plan summaries are not searched.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, f)
		},
	}

	cmd.Flags().StringVar(&f.testsPath, "tests", "tests", "root directory of the test metadata tree")
	cmd.Flags().StringVar(&f.plansPath, "plans", "plans", "root directory of the plan metadata tree")
	cmd.Flags().StringVar(&f.planFilter, "plan", "", "id of the plan to run (required)")
	cmd.Flags().StringArrayVarP(&f.contextStr, "context", "c", nil, "context key=value pair, repeatable")
	cmd.Flags().StringVar(&f.workdirRoot, "workdir-root", "", "root directory for run workdirs (default: engine default)")
	cmd.Flags().BoolVar(&f.again, "again", false, "re-execute already-done steps without discarding their output")
	cmd.Flags().BoolVar(&f.failedOnly, "failed-only", false, "restrict discover output to previously fail/error tests")
	cmd.Flags().StringArrayVar(&f.force, "force", nil, "force re-execution from the named step onward")
	cmd.Flags().BoolVar(&f.remove, "remove", false, "mark the workdir for removal in run.yaml (the workdir is not deleted)")
	cmd.Flags().BoolVar(&f.keep, "keep", false, "clear a removal mark left in run.yaml by a prior run")
	cmd.Flags().BoolVar(&f.scratch, "scratch", false, "purge the run directory before starting")
	cmd.Flags().BoolVar(&f.jsonReport, "json", false, "emit the report as JSON instead of a table")
	cmd.Flags().BoolVar(&f.debug, "debug", false, "enable debug logging")
	cmd.Flags().BoolVarP(&f.quiet, "quiet", "q", false, "suppress the progress spinner")
	_ = cmd.MarkFlagRequired("plan")

	return cmd
}

func runRun(cmd *cobra.Command, f *runFlags) error {
	level := logging.LevelInfo
	if f.debug {
		level = logging.LevelDebug
	}
	logging.InitForCLI(level, cmd.ErrOrStderr())

	cfg := config.DefaultEngineConfig()
	cfg.Debug = f.debug
	if f.workdirRoot != "" {
		cfg.WorkdirRoot = f.workdirRoot
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctxVals, err := parseContextPairs(f.contextStr)
	if err != nil {
		return err
	}

	testsTree, err := metadata.LoadTree(f.testsPath)
	if err != nil {
		return &PlanError{Cause: fmt.Errorf("loading tests tree: %w", err)}
	}
	plansTree, err := metadata.LoadTree(f.plansPath)
	if err != nil {
		return &PlanError{Cause: fmt.Errorf("loading plans tree: %w", err)}
	}

	planNode, ok := plansTree.Find(f.planFilter)
	if !ok {
		return &PlanError{Cause: fmt.Errorf("plan %s not found under %s", f.planFilter, f.plansPath)}
	}

	var sink report.Sink = report.NewTableSink(cmd.OutOrStdout())
	if f.jsonReport {
		sink = report.NewJSONSink(cmd.OutOrStdout())
	}

	e := engine.New(cfg, sink)
	runID := engine.NewRunID()

	opts := workdir.Options{
		Again:      f.again,
		FailedOnly: f.failedOnly,
		Force:      f.force,
		Remove:     f.remove,
		Keep:       f.keep,
		Scratch:    f.scratch,
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	var s *spinner.Spinner
	if !f.quiet && !f.debug {
		s = spinner.New(spinner.CharSets[14], 100*time.Millisecond)
		s.Suffix = fmt.Sprintf(" running plan %s (run %s)...", planNode.ID, runID)
		s.Start()
	}

	start := time.Now()
	runErr := e.RunPlan(ctx, runID, planNode, testsTree, ctxVals, opts)

	if s != nil {
		if runErr != nil {
			s.FinalMSG = fmt.Sprintf("plan %s failed\n", planNode.ID)
		} else {
			s.FinalMSG = fmt.Sprintf("plan %s finished\n", planNode.ID)
		}
		s.Stop()
	}
	logging.Info("cmd", "run %s for plan %s finished in %s", runID, planNode.ID, time.Since(start))
	if runErr != nil {
		return &PlanError{Cause: runErr}
	}

	return checkResultsPassed(cfg, runID, planNode.ID)
}

// checkResultsPassed re-reads the freshly written results.yaml and maps its
// outcomes to the run command's exit code: any fail, warn or error Result
// becomes a TestsFailedError so Execute() exits 1.
func checkResultsPassed(cfg config.EngineConfig, runID, planID string) error {
	runRoot := workdir.RunRoot(cfg.WorkdirRoot, runID)
	planDir := workdir.PlanDir(runRoot, planID)
	store, err := result.LoadStore(workdir.ResultsYAML(planDir))
	if err != nil {
		return fmt.Errorf("reading results: %w", err)
	}

	failed := 0
	for _, r := range store.All() {
		if r.Result == result.Fail || r.Result == result.Error || r.Result == result.Warn {
			failed++
		}
	}
	if failed > 0 {
		return &TestsFailedError{Count: failed}
	}
	return nil
}

// parseContextPairs turns a list of "key=value" strings into a
// contextrule.Context, the --context flag's value format.
func parseContextPairs(pairs []string) (contextrule.Context, error) {
	raw := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --context value %q, expected key=value", pair)
		}
		raw[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return contextrule.New(raw), nil
}
