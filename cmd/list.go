package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"conductor/internal/config"
	"conductor/internal/workdir"
)

func newListCmd() *cobra.Command {
	var workdirRoot string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs recorded under the workdir root",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd, workdirRoot)
		},
	}
	cmd.Flags().StringVar(&workdirRoot, "workdir-root", "", "root directory holding run workdirs (default: engine default)")
	return cmd
}

func runList(cmd *cobra.Command, workdirRoot string) error {
	cfg := config.DefaultEngineConfig()
	if workdirRoot != "" {
		cfg.WorkdirRoot = workdirRoot
	}

	entries, err := os.ReadDir(cfg.WorkdirRoot)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Fprintf(cmd.OutOrStdout(), "no runs under %s\n", cfg.WorkdirRoot)
			return nil
		}
		return fmt.Errorf("reading workdir root %s: %w", cfg.WorkdirRoot, err)
	}

	var runIDs []string
	for _, entry := range entries {
		if entry.IsDir() {
			runIDs = append(runIDs, entry.Name())
		}
	}
	sort.Strings(runIDs)

	for _, runID := range runIDs {
		runRoot := filepath.Join(cfg.WorkdirRoot, runID)
		var state workdir.RunState
		if err := workdir.ReadYAML(workdir.RunYAML(runRoot), &state); err != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t(no run.yaml)\n", runID)
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\tcreated %s\t%d plan(s)\n", runID, state.CreatedAt.Format("2006-01-02 15:04:05"), len(state.Plans))
		for _, p := range state.Plans {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s\t%s\n", p.PlanID, summarizeSteps(p.Steps))
		}
	}
	return nil
}

func summarizeSteps(steps map[string]workdir.StepStatus) string {
	order := []string{workdir.DirDiscover, workdir.DirProvision, workdir.DirPrepare, workdir.DirExecute, workdir.DirFinish, workdir.DirReport}
	out := ""
	for i, s := range order {
		if i > 0 {
			out += " "
		}
		out += s + "=" + string(steps[s])
	}
	return out
}
