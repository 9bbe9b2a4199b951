package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/undercity/undercity/pkg/models"
)

var tasksAll bool

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List tasks on the board",
	Args:  cobra.NoArgs,
	RunE:  runTasks,
}

func init() {
	tasksCmd.Flags().BoolVar(&tasksAll, "all", false, "Include completed and failed tasks")
}

func runTasks(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	tasks, err := a.board.List()
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}

	shown := tasks[:0]
	for _, t := range tasks {
		if !tasksAll && t.Status.Terminal() {
			continue
		}
		shown = append(shown, t)
	}
	if len(shown) == 0 {
		fmt.Println("No open tasks. Run 'undercity orchestrate <objective>' to add one.")
		return nil
	}

	sort.SliceStable(shown, func(i, j int) bool {
		if shown[i].Status != shown[j].Status {
			return statusRank(shown[i].Status) < statusRank(shown[j].Status)
		}
		return shown[i].Priority < shown[j].Priority
	})

	for _, t := range shown {
		line := fmt.Sprintf("%s  %-12s %6.1f  %s",
			t.ID, statusLabel(t.Status), t.Priority, t.Objective)
		if t.ParentID != "" {
			line += "  (subtask)"
		}
		fmt.Println(line)
		if t.Status == models.TaskStatusFailed && t.Error != "" {
			fmt.Printf("    %s %s\n", color.RedString("error:"), firstLine(t.Error))
		}
	}
	return nil
}

func statusRank(s models.TaskStatus) int {
	switch s {
	case models.TaskStatusInProgress:
		return 0
	case models.TaskStatusPending:
		return 1
	case models.TaskStatusFailed:
		return 2
	default:
		return 3
	}
}

func statusLabel(s models.TaskStatus) string {
	switch s {
	case models.TaskStatusInProgress:
		return color.YellowString(string(s))
	case models.TaskStatusComplete:
		return color.GreenString(string(s))
	case models.TaskStatusFailed:
		return color.RedString(string(s))
	default:
		return string(s)
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
