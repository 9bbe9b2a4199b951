package main

import (
	"github.com/spf13/cobra"
)

var workCount int

var workCmd = &cobra.Command{
	Use:   "work",
	Short: "Drain the task backlog serially",
	Long: `Run pending tasks from the board one at a time.

With --count N the run stops after N tasks reach a terminal state;
otherwise it continues until the board has no open work.`,
	Args: cobra.NoArgs,
	RunE: runWork,
}

func init() {
	workCmd.Flags().IntVar(&workCount, "count", 0, "Stop after N tasks (0 = drain everything)")
}

func runWork(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	return runOrchestrator(a, 1, workCount)
}
