package cmd

import (
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"conductor/internal/config"
	"conductor/internal/report"
	"conductor/internal/result"
	"conductor/internal/workdir"
)

type showFlags struct {
	runID       string
	planID      string
	workdirRoot string
	follow      bool
	jsonReport  bool
}

func newShowCmd() *cobra.Command {
	f := &showFlags{}
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the results of a plan within a run",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(cmd, f)
		},
	}
	cmd.Flags().StringVar(&f.runID, "run", "", "run id to show (required)")
	cmd.Flags().StringVar(&f.planID, "plan", "", "plan id to show (required)")
	cmd.Flags().StringVar(&f.workdirRoot, "workdir-root", "", "root directory holding run workdirs (default: engine default)")
	cmd.Flags().BoolVar(&f.follow, "follow", false, "keep watching results.yaml and reprint on every change")
	cmd.Flags().BoolVar(&f.jsonReport, "json", false, "emit as JSON instead of a table")
	_ = cmd.MarkFlagRequired("run")
	_ = cmd.MarkFlagRequired("plan")
	return cmd
}

func runShow(cmd *cobra.Command, f *showFlags) error {
	cfg := config.DefaultEngineConfig()
	if f.workdirRoot != "" {
		cfg.WorkdirRoot = f.workdirRoot
	}

	runRoot := workdir.RunRoot(cfg.WorkdirRoot, f.runID)
	planDir := workdir.PlanDir(runRoot, f.planID)
	resultsPath := workdir.ResultsYAML(planDir)

	var sink report.Sink = report.NewTableSink(cmd.OutOrStdout())
	if f.jsonReport {
		sink = report.NewJSONSink(cmd.OutOrStdout())
	}

	print := func() error {
		store, err := result.LoadStore(resultsPath)
		if err != nil {
			return fmt.Errorf("reading %s: %w", resultsPath, err)
		}
		return sink.Report(f.planID, nil, store.All())
	}

	if !f.follow {
		return print()
	}
	return followResults(cmd, resultsPath, print)
}

// followResults prints once immediately, then reprints every time
// resultsPath changes, using fsnotify the way the teacher's TUI mode
// streams log entries as they are produced.
func followResults(cmd *cobra.Command, resultsPath string, print func() error) error {
	if err := print(); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	defer watcher.Close()

	dir := dirOf(resultsPath)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	debounce := time.NewTimer(0)
	if !debounce.Stop() {
		<-debounce.C
	}

	ctx := cmd.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Name != resultsPath {
				continue
			}
			debounce.Reset(100 * time.Millisecond)
		case <-debounce.C:
			if err := print(); err != nil {
				return err
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watching %s: %w", resultsPath, err)
		}
	}
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}
