package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/undercity/undercity/internal/orchestrator"
)

var orchestratePriority float64

var orchestrateCmd = &cobra.Command{
	Use:   "orchestrate <objective>",
	Short: "Submit an objective and run it to completion",
	Long: `Add an objective to the task board and run the orchestrator until
the board has no open work.

The objective may decompose into subtasks, and review findings can file
follow-up tasks; orchestrate keeps running until all of them settle.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runOrchestrate,
}

func init() {
	orchestrateCmd.Flags().Float64Var(&orchestratePriority, "priority", 50, "Task priority (lower runs first)")
}

func runOrchestrate(cmd *cobra.Command, args []string) error {
	objective := strings.TrimSpace(strings.Join(args, " "))
	if objective == "" {
		return fmt.Errorf("objective is empty")
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	task, err := a.board.AddTask(objective, orchestratePriority, nil)
	if err != nil {
		return fmt.Errorf("add task: %w", err)
	}
	fmt.Printf("queued %s: %s\n", task.ID, task.Objective)

	return runOrchestrator(a, 0, 0)
}

// runOrchestrator wires the stack and runs it with signal-driven
// draining. Shared by orchestrate and work.
func runOrchestrator(a *app, maxConcurrent, maxTasks int) error {
	stack, err := a.newRunStack(maxConcurrent, maxTasks)
	if err != nil {
		return err
	}
	defer stack.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\ninterrupt received, draining in-flight work...")
		cancel()
	}()

	summary, err := stack.orch.Run(ctx)
	if err != nil {
		return err
	}
	printSummary(summary)

	if ctx.Err() != nil {
		return context.Canceled
	}
	if summary.Failed > 0 {
		return fmt.Errorf("%w: %d task(s) failed", errTasksFailed, summary.Failed)
	}
	return nil
}

func printSummary(s *orchestrator.Summary) {
	fmt.Println()
	fmt.Printf("%s  completed %d, merged %d, no-changes %d, decomposed %d, failed %d\n",
		runBanner(s), s.Completed, s.Merged, s.NoChanges, s.Decomposed, s.Failed)
	fmt.Printf("  duration %s, tokens %d\n", s.Duration.Round(time.Second), s.TotalTokens)
}

func runBanner(s *orchestrator.Summary) string {
	if s.Failed > 0 {
		return color.RedString("run finished with failures")
	}
	return color.GreenString("run complete")
}
