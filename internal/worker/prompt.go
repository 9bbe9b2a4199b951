package worker

import (
	"context"
	"fmt"
	"strings"
)

const executionSystemPrompt = `You are an autonomous coding agent working inside an isolated ` +
	`checkout of a repository. Make the code changes the task requires, verify your own work ` +
	`where possible, and stop when the objective is met.

Special situations have sentinel replies; emit the sentinel on its own line and stop:
- TASK_ALREADY_COMPLETE: <evidence> when the requested change already exists.
- INVALID_TARGET: <what is missing> when the task references code that does not exist.
- NEEDS_DECOMPOSITION: <why> when the task is too broad for one focused change.`

// efficiencyToolsPrompt tells the agent about deterministic shortcuts.
const efficiencyToolsPrompt = `Local tools available through bash: the project formatter, ` +
	`linter, typechecker, and test runner. Prefer running the typechecker after edits ` +
	`instead of reasoning about type errors from memory.`

// ruleBlock is the fixed constraint section that ends every prompt.
const ruleBlock = `Rules:
- Modify only files relevant to the objective.
- Never commit; the orchestrator owns git state.
- Never push, never switch branches, never touch files outside this checkout.
- Keep changes minimal; do not reformat code you are not otherwise changing.
- Do not add dependencies unless the objective requires them.`

// fewShotExamples are canned demonstrations keyed by objective keywords.
var fewShotExamples = []struct {
	keywords []string
	example  string
}{
	{[]string{"test", "tests"}, `Example approach for test work:
1. Run the existing suite first to see the current state.
2. Read the code under test before writing assertions.
3. Use the project's existing test helpers and style.`},
	{[]string{"fix", "bug", "error"}, `Example approach for a fix:
1. Reproduce the failure first.
2. Find the root cause; do not patch symptoms.
3. Add a regression test alongside the fix.`},
	{[]string{"refactor", "rename", "move"}, `Example approach for a refactor:
1. Find every caller before changing a signature.
2. Keep behavior identical; the typechecker and tests are your safety net.
3. Make the change in one sweep, not incrementally across attempts.`},
}

// preflightSimilarityThreshold is the shared-keyword count between the
// objective and a recent commit subject that triggers the
// already-complete warning.
const preflightSimilarityThreshold = 3

// buildPrompt assembles the task prompt. Section order is fixed:
// identity, ticket, operator guidance, briefing, efficiency tools,
// learnings, failure warnings, inline rules, file hints,
// co-modification hints, preflight check, plan, post-mortem,
// objective, rules, few-shot example.
func (w *Worker) buildPrompt(ctx context.Context, plan, postMortem, feedback string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Task %s, worker %s.\n\n", w.task.ID, w.name)

	if t := w.task.Ticket; t != nil {
		b.WriteString("## Ticket\n")
		if t.Description != "" {
			b.WriteString(t.Description + "\n")
		}
		for _, c := range t.AcceptanceCriteria {
			b.WriteString("- " + c + "\n")
		}
		if t.TestPlan != "" {
			b.WriteString("Test plan: " + t.TestPlan + "\n")
		}
		b.WriteString("\n")
	}

	w.writeGuidance(&b)

	if w.deps.Briefing != nil {
		if briefing := w.deps.Briefing(ctx, w.task.Objective); briefing != "" {
			b.WriteString("## Codebase briefing\n" + briefing + "\n\n")
		}
	}

	b.WriteString(efficiencyToolsPrompt + "\n\n")

	w.writeLearnings(&b)
	w.writeFailureWarnings(&b)
	w.writeInlineRules(&b)
	w.writeFileHints(&b)
	w.writePreflight(&b)

	if plan != "" {
		b.WriteString("## Execution plan\n" + plan + "\n\n")
	}
	if postMortem != "" {
		b.WriteString("## Previous attempt post-mortem\n" + postMortem + "\n\n")
	}

	b.WriteString("## Objective\n" + w.task.Objective + "\n\n")
	b.WriteString(ruleBlock + "\n")

	if example := fewShotFor(w.task.Objective); example != "" {
		b.WriteString("\n" + example + "\n")
	}

	if feedback != "" {
		b.WriteString("\n## Feedback\n" + feedback + "\n")
	}

	return b.String()
}

// writeGuidance injects standing operator instructions. They outrank
// everything retrieved automatically, so they come first.
func (w *Worker) writeGuidance(b *strings.Builder) {
	notes, err := w.deps.Knowledge.ActiveGuidance()
	if err != nil || len(notes) == 0 {
		return
	}
	b.WriteString("## Operator guidance\n")
	for _, g := range notes {
		b.WriteString("- " + g.Content + "\n")
	}
	b.WriteString("\n")
}

func (w *Worker) writeLearnings(b *strings.Builder) {
	learnings := w.learnings
	if len(learnings) == 0 {
		return
	}
	b.WriteString("## Relevant learnings from past tasks\n")
	for _, l := range learnings {
		fmt.Fprintf(b, "- [%s, confidence %.2f] %s\n", l.Category, l.Confidence(), l.Content)
	}
	b.WriteString("\n")
}

func (w *Worker) writeFailureWarnings(b *strings.Builder) {
	patterns, err := w.deps.Knowledge.TopErrorPatterns(5)
	if err != nil || len(patterns) == 0 {
		return
	}
	b.WriteString("## Recurring failures in this repository\n")
	for _, p := range patterns {
		fmt.Fprintf(b, "- %s (seen %d times): %s\n", p.Category, p.HitCount, firstLine(p.Pattern))
	}
	b.WriteString("\n")
}

func (w *Worker) writeInlineRules(b *strings.Builder) {
	rules, err := w.deps.Knowledge.InlineRules(5)
	if err != nil || rules == "" {
		return
	}
	b.WriteString("## Repository rules\n" + rules + "\n\n")
}

func (w *Worker) writeFileHints(b *strings.Builder) {
	hints, err := w.deps.Knowledge.FindRelevantFiles(w.task.Objective, 5)
	if err != nil || len(hints) == 0 {
		return
	}
	b.WriteString("## Files similar past tasks touched\n")
	for _, h := range hints {
		fmt.Fprintf(b, "- %s\n", h.File)
		co, err := w.deps.Knowledge.CoModifiedWith(h.File, 3)
		if err != nil {
			continue
		}
		for _, c := range co {
			fmt.Fprintf(b, "  often changed together with %s\n", c.File)
		}
	}
	b.WriteString("\n")
}

// writePreflight warns when a recent commit subject closely matches
// the objective, a hint the work may already be done.
func (w *Worker) writePreflight(b *strings.Builder) {
	subjects, err := w.deps.WorkspaceGit.RecentSubjects(10)
	if err != nil {
		return
	}
	objective := keywordTokens(w.task.Objective)
	for _, subject := range subjects {
		if sharedKeywords(objective, keywordTokens(subject)) >= preflightSimilarityThreshold {
			fmt.Fprintf(b, "## Pre-flight check\nA recent commit (%q) closely matches this "+
				"objective. Verify the work is not already done before changing anything; if it "+
				"is, reply TASK_ALREADY_COMPLETE with the commit as evidence.\n\n", subject)
			return
		}
	}
}

func fewShotFor(objective string) string {
	lower := strings.ToLower(objective)
	for _, fs := range fewShotExamples {
		for _, kw := range fs.keywords {
			if strings.Contains(lower, kw) {
				return fs.example
			}
		}
	}
	return ""
}

func keywordTokens(s string) map[string]bool {
	tokens := make(map[string]bool)
	for _, f := range strings.Fields(strings.ToLower(s)) {
		f = strings.Trim(f, ".,:;()[]`\"'")
		if len(f) >= 4 {
			tokens[f] = true
		}
	}
	return tokens
}

func sharedKeywords(a, b map[string]bool) int {
	n := 0
	for k := range a {
		if b[k] {
			n++
		}
	}
	return n
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}
