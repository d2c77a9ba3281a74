package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"conductor/internal/config"
	"conductor/internal/report"
	"conductor/internal/result"
	"conductor/internal/workdir"
)

func newShellCmd() *cobra.Command {
	var workdirRoot, runID string
	cmd := &cobra.Command{
		Use:   "shell",
		Short: "Interactively browse a run's plans and results",
		Long: `shell opens a small REPL over one run's workdir: "plans" lists the
plans recorded for the run, "show <plan>" prints that plan's results, and
"exit" (or Ctrl+D) leaves the shell.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShell(cmd, workdirRoot, runID)
		},
	}
	cmd.Flags().StringVar(&workdirRoot, "workdir-root", "", "root directory holding run workdirs (default: engine default)")
	cmd.Flags().StringVar(&runID, "run", "", "run id to browse (required)")
	_ = cmd.MarkFlagRequired("run")
	return cmd
}

func runShell(cmd *cobra.Command, workdirRoot, runID string) error {
	cfg := config.DefaultEngineConfig()
	if workdirRoot != "" {
		cfg.WorkdirRoot = workdirRoot
	}
	runRoot := workdir.RunRoot(cfg.WorkdirRoot, runID)

	var state workdir.RunState
	if err := workdir.ReadYAML(workdir.RunYAML(runRoot), &state); err != nil {
		return fmt.Errorf("reading run %s: %w", runID, err)
	}

	historyFile := filepath.Join(os.TempDir(), ".conductor_shell_history")
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          fmt.Sprintf("conductor(%s)> ", runID),
		HistoryFile:     historyFile,
		AutoComplete:    shellCompleter(state),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("creating readline instance: %w", err)
	}
	defer rl.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "conductor shell for run %s (%d plan(s)). Type 'help' for commands.\n", runID, len(state.Plans))

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			fmt.Fprintln(out, "goodbye")
			return nil
		}
		if err != nil {
			return fmt.Errorf("readline error: %w", err)
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		fields := strings.Fields(input)
		switch fields[0] {
		case "exit", "quit":
			return nil
		case "help":
			fmt.Fprintln(out, "commands: plans | show <plan-id> [--json] | exit")
		case "plans":
			for _, p := range state.Plans {
				fmt.Fprintf(out, "%s\t%s\n", p.PlanID, summarizeSteps(p.Steps))
			}
		case "show":
			if len(fields) < 2 {
				fmt.Fprintln(out, "usage: show <plan-id> [--json]")
				continue
			}
			if err := shellShow(out, runRoot, fields[1], len(fields) > 2 && fields[2] == "--json"); err != nil {
				fmt.Fprintln(out, err)
			}
		default:
			fmt.Fprintf(out, "unknown command %q (try 'help')\n", fields[0])
		}
	}
}

func shellShow(out io.Writer, runRoot, planID string, asJSON bool) error {
	planDir := workdir.PlanDir(runRoot, planID)
	store, err := result.LoadStore(workdir.ResultsYAML(planDir))
	if err != nil {
		return fmt.Errorf("reading results for %s: %w", planID, err)
	}
	var sink report.Sink = report.NewTableSink(out)
	if asJSON {
		sink = report.NewJSONSink(out)
	}
	return sink.Report(planID, nil, store.All())
}

// shellCompleter offers plan ids as completions for "show".
func shellCompleter(state workdir.RunState) *readline.PrefixCompleter {
	var showItems []readline.PrefixCompleterInterface
	for _, p := range state.Plans {
		showItems = append(showItems, readline.PcItem(p.PlanID))
	}
	return readline.NewPrefixCompleter(
		readline.PcItem("plans"),
		readline.PcItem("show", showItems...),
		readline.PcItem("help"),
		readline.PcItem("exit"),
	)
}
