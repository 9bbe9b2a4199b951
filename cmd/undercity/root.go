package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// Exit codes. Anything unclassified exits 1.
const (
	exitOK        = 0
	exitFailed    = 1
	exitConfig    = 2
	exitCancelled = 64
)

var (
	// errTasksFailed signals that the run finished but at least one
	// task survived in a failed state.
	errTasksFailed = errors.New("tasks failed")
	// errConfig signals a configuration problem.
	errConfig = errors.New("configuration error")
)

var rootCmd = &cobra.Command{
	Use:   "undercity",
	Short: "Multi-agent code modification orchestrator",
	Long: `Undercity runs model-backed workers against a persistent task board.

Each task executes in an isolated git worktree, is verified against the
project's quality gates, reviewed, and merged back to trunk through a
serial merge queue. Failed attempts escalate through model tiers and
feed a knowledge base that improves later runs.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and maps errors to exit codes.
func Execute() int {
	err := rootCmd.Execute()
	switch code := exitCode(err); code {
	case exitOK:
		return code
	case exitConfig:
		fmt.Fprintf(os.Stderr, "%s %v\n", color.RedString("config:"), err)
		return code
	case exitCancelled:
		fmt.Fprintln(os.Stderr, "cancelled")
		return code
	default:
		if !errors.Is(err, errTasksFailed) {
			fmt.Fprintf(os.Stderr, "%s %v\n", color.RedString("error:"), err)
		}
		return code
	}
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errConfig):
		return exitConfig
	case errors.Is(err, context.Canceled):
		return exitCancelled
	default:
		return exitFailed
	}
}

func init() {
	rootCmd.AddCommand(orchestrateCmd)
	rootCmd.AddCommand(workCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(tasksCmd)
	rootCmd.AddCommand(importPlanCmd)
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(guidanceCmd)
	rootCmd.AddCommand(versionCmd)
}
