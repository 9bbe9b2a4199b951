package main

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/undercity/undercity/internal/git"
	"github.com/undercity/undercity/internal/mergequeue"
	"github.com/undercity/undercity/pkg/models"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show board, merge queue, and run metrics",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}

	tasks, err := a.board.List()
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}

	counts := map[models.TaskStatus]int{}
	for _, t := range tasks {
		counts[t.Status]++
	}
	fmt.Printf("Board (%d tasks)\n", len(tasks))
	fmt.Printf("  pending %d, in progress %d, complete %d, failed %d\n",
		counts[models.TaskStatusPending],
		counts[models.TaskStatusInProgress],
		counts[models.TaskStatusComplete],
		counts[models.TaskStatusFailed])

	printQueueStatus(a)
	printMetricsStatus(a)
	return nil
}

func printQueueStatus(a *app) {
	if _, err := os.Stat(a.layout.MergeQueueFile()); os.IsNotExist(err) {
		return
	}
	// Read-only view; the queue never merges outside Tick.
	q := mergequeue.New(a.layout.MergeQueueFile(), git.NewRunner(a.repoPath),
		a.cfg.Git.DefaultBranch, nil)
	s, err := q.GetQueueSummary()
	if err != nil {
		fmt.Printf("\nMerge queue: %s\n", color.RedString("unreadable: %v", err))
		return
	}
	fmt.Printf("\nMerge queue (%d items)\n", s.TotalItems)
	fmt.Printf("  pending %d, retrying %d, merged %d, aborted %d\n",
		s.Pending, s.Retrying, s.Merged, s.Aborted)
	if s.NextRetry != nil {
		fmt.Printf("  next retry in %s\n", time.Until(*s.NextRetry).Round(time.Second))
	}
}

func printMetricsStatus(a *app) {
	s, err := a.metrics.Summarize()
	if err != nil || s.Total == 0 {
		return
	}
	fmt.Printf("\nHistory (%d runs)\n", s.Total)
	fmt.Printf("  succeeded %d (%.0f%%), failed %d, escalated %d\n",
		s.Succeeded, s.SuccessRate()*100, s.Failed, s.Escalated)
	fmt.Printf("  total tokens %d\n", s.TotalTokens)
}
