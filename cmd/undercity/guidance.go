package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/undercity/undercity/internal/knowledge"
)

var guidanceCmd = &cobra.Command{
	Use:   "guidance",
	Short: "Manage standing operator guidance for workers",
	Long: `Guidance notes are standing instructions injected into every worker
prompt while active. Use them to steer agents around pitfalls the
knowledge base has not learned yet.`,
}

var guidanceAddCmd = &cobra.Command{
	Use:   "add <note>",
	Short: "Add an active guidance note",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runGuidanceAdd,
}

var guidanceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active guidance notes",
	Args:  cobra.NoArgs,
	RunE:  runGuidanceList,
}

var guidanceDropCmd = &cobra.Command{
	Use:   "drop <id>",
	Short: "Deactivate a guidance note",
	Args:  cobra.ExactArgs(1),
	RunE:  runGuidanceDrop,
}

func init() {
	guidanceCmd.AddCommand(guidanceAddCmd)
	guidanceCmd.AddCommand(guidanceListCmd)
	guidanceCmd.AddCommand(guidanceDropCmd)
}

func openKnowledge() (*knowledge.Store, error) {
	a, err := newApp()
	if err != nil {
		return nil, err
	}
	know, err := knowledge.Open(a.layout.KnowledgeDB())
	if err != nil {
		return nil, fmt.Errorf("open knowledge db: %w", err)
	}
	return know, nil
}

func runGuidanceAdd(cmd *cobra.Command, args []string) error {
	know, err := openKnowledge()
	if err != nil {
		return err
	}
	defer know.Close()

	id, err := know.AddGuidance(strings.Join(args, " "))
	if err != nil {
		return err
	}
	fmt.Printf("Added guidance %s\n", id)
	return nil
}

func runGuidanceList(cmd *cobra.Command, args []string) error {
	know, err := openKnowledge()
	if err != nil {
		return err
	}
	defer know.Close()

	notes, err := know.ActiveGuidance()
	if err != nil {
		return err
	}
	if len(notes) == 0 {
		fmt.Println("No active guidance. Add one with 'undercity guidance add <note>'.")
		return nil
	}
	for _, g := range notes {
		fmt.Printf("%s  %s  %s\n", g.ID, color.New(color.Faint).Sprint(g.CreatedAt.Format("2006-01-02")), g.Content)
	}
	return nil
}

func runGuidanceDrop(cmd *cobra.Command, args []string) error {
	know, err := openKnowledge()
	if err != nil {
		return err
	}
	defer know.Close()

	if err := know.DeactivateGuidance(args[0]); err != nil {
		return err
	}
	fmt.Println("Guidance deactivated.")
	return nil
}
