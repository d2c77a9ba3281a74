package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"conductor/internal/config"
)

func newCleanCmd() *cobra.Command {
	var workdirRoot string
	var runID string
	var all bool

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove a run's workdir, or every run under the workdir root",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClean(cmd, workdirRoot, runID, all)
		},
	}
	cmd.Flags().StringVar(&workdirRoot, "workdir-root", "", "root directory holding run workdirs (default: engine default)")
	cmd.Flags().StringVar(&runID, "run", "", "run id to remove")
	cmd.Flags().BoolVar(&all, "all", false, "remove every run under the workdir root")
	return cmd
}

func runClean(cmd *cobra.Command, workdirRoot, runID string, all bool) error {
	if runID == "" && !all {
		return fmt.Errorf("specify --run <id> or --all")
	}

	cfg := config.DefaultEngineConfig()
	if workdirRoot != "" {
		cfg.WorkdirRoot = workdirRoot
	}

	if all {
		entries, err := os.ReadDir(cfg.WorkdirRoot)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return fmt.Errorf("reading %s: %w", cfg.WorkdirRoot, err)
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			path := filepath.Join(cfg.WorkdirRoot, entry.Name())
			if err := os.RemoveAll(path); err != nil {
				return fmt.Errorf("removing %s: %w", path, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", path)
		}
		return nil
	}

	path := filepath.Join(cfg.WorkdirRoot, runID)
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("removing %s: %w", path, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", path)
	return nil
}
