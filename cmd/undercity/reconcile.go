package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/undercity/undercity/internal/git"
	"github.com/undercity/undercity/internal/reconcile"
)

var (
	reconcileDryRun   bool
	reconcileLookback int
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Complete tasks whose work already landed on trunk",
	Long: `Scan recent trunk commit subjects and mark pending tasks complete
when a subject matches the task's objective. Useful after manual work,
cherry-picks, or a crash between merge and board update.`,
	Args: cobra.NoArgs,
	RunE: runReconcile,
}

func init() {
	reconcileCmd.Flags().BoolVar(&reconcileDryRun, "dry-run", false, "Report matches without completing tasks")
	reconcileCmd.Flags().IntVar(&reconcileLookback, "lookback", reconcile.DefaultLookback, "How many commits to scan")
}

func runReconcile(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}

	r := reconcile.New(a.board, git.NewRunner(a.repoPath), a.log)
	report, err := r.Run(reconcileLookback, reconcileDryRun)
	if err != nil {
		return err
	}

	for _, m := range report.Matches {
		fmt.Printf("  %s %s  %q matches %q (%.0f%%)\n",
			color.GreenString("✓"), m.TaskID, m.Objective, m.Subject, m.Score*100)
	}
	if reconcileDryRun {
		fmt.Printf("%d of %d pending task(s) would be completed (%d commits scanned)\n",
			len(report.Matches), report.Candidate, report.Scanned)
		return nil
	}
	fmt.Printf("completed %d of %d pending task(s) (%d commits scanned)\n",
		report.Completed, report.Candidate, report.Scanned)
	return nil
}
