package main

import (
	"fmt"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/undercity/undercity/internal/planfile"
	"github.com/undercity/undercity/pkg/models"
)

var (
	importDryRun     bool
	importByPriority bool
)

var importPlanCmd = &cobra.Command{
	Use:   "import-plan <file>",
	Short: "Import tasks from a markdown plan file",
	Long: `Parse a markdown plan document and add its unchecked list items to
the task board as pending tasks.

Headings divide the plan into sections; earlier sections get lower
priorities so they are picked up first. A heading may pin its priority
with a "(priority: N)" suffix. Items already checked off are skipped.`,
	Args: cobra.ExactArgs(1),
	RunE: runImportPlan,
}

func init() {
	importPlanCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "Parse and print without adding tasks")
	importPlanCmd.Flags().BoolVar(&importByPriority, "by-priority", false, "Print in priority order instead of document order")
}

func runImportPlan(cmd *cobra.Command, args []string) error {
	plan, err := planfile.ParseFile(args[0])
	if err != nil {
		return err
	}

	items := plan.Items
	if importByPriority {
		items = append([]planfile.Item(nil), items...)
		sort.SliceStable(items, func(i, j int) bool {
			return items[i].Priority < items[j].Priority
		})
	}

	if importDryRun {
		if plan.Title != "" {
			fmt.Printf("Plan: %s\n", plan.Title)
		}
		for _, it := range items {
			fmt.Printf("  %6.1f  %s", it.Priority, it.Objective)
			if it.Section != "" {
				fmt.Printf("  [%s]", it.Section)
			}
			fmt.Println()
		}
		fmt.Printf("%d task(s) would be added, %d already done\n", len(items), plan.SkippedDone)
		return nil
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	for _, it := range items {
		var ticket *models.TicketContent
		if it.Notes != "" {
			ticket = &models.TicketContent{
				Description: it.Notes,
				Source:      models.TicketSourceImport,
			}
		}
		task, err := a.board.AddTask(it.Objective, it.Priority, ticket)
		if err != nil {
			return fmt.Errorf("add %q: %w", it.Objective, err)
		}
		fmt.Printf("  %s %s  %s\n", color.GreenString("+"), task.ID, task.Objective)
	}
	fmt.Printf("imported %d task(s), skipped %d already done\n", len(items), plan.SkippedDone)
	return nil
}
