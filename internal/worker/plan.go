package worker

import (
	"context"
	"fmt"
	"strings"

	"github.com/undercity/undercity/internal/llm"
	"github.com/undercity/undercity/pkg/models"
)

const planningSystemPrompt = `You plan code changes without making them. Explore the ` +
	`repository read-only and produce a concrete execution plan:

FILES TO READ: paths the implementer must understand first
FILES TO MODIFY: paths that will change
FILES TO CREATE: new paths, if any
STEPS: numbered, ordered, each one small and checkable
RISKS: what could break
EXPECTED OUTCOME: how to tell the work is done

If the work appears to already exist, say MIGHT_ALREADY_BE_COMPLETE and cite evidence.
If the task needs splitting first, say NEEDS_DECOMPOSITION and explain.`

const planReviewSystemPrompt = `You judge execution plans for code changes. Reply with ` +
	`exactly APPROVED, or REJECTED: <one-line reason>. Reject plans that are vague, touch ` +
	`unrelated subsystems, or misread the objective.`

// plan runs the read-only planning pass and a cheap review of the
// produced plan. rejected is true when the review rejected the plan;
// the returned string is then the rejection reason.
func (w *Worker) plan(ctx context.Context, tier models.Tier, res *models.TaskResult) (string, bool, error) {
	stream, err := w.deps.Client.Query(ctx, llm.Request{
		System:   planningSystemPrompt,
		Prompt:   "Objective:\n" + w.task.Objective,
		Model:    llm.ModelForTier(tier),
		WorkDir:  w.ws.Path,
		MaxTurns: 15,
		Toolset:  llm.ToolsetReadOnly,
	})
	if err != nil {
		return "", false, fmt.Errorf("planning query: %w", err)
	}
	planText, err := llm.Drain(stream)
	res.TotalTokens += stream.Usage().Total()
	if err != nil {
		return "", false, fmt.Errorf("planning: %w", err)
	}
	if strings.TrimSpace(planText) == "" {
		return "", false, fmt.Errorf("planning produced no output")
	}

	verdict, err := w.reviewPlan(ctx, planText, res)
	if err != nil {
		// A broken review must not block execution; use the plan as-is.
		w.log.Warn().Err(err).Msg("plan review failed, using plan unreviewed")
		return planText, false, nil
	}
	if verdict != "" {
		return verdict, true, nil
	}
	return planText, false, nil
}

// reviewPlan asks a cheap model to accept or reject the plan. An empty
// return means approved; otherwise it is the rejection reason.
func (w *Worker) reviewPlan(ctx context.Context, planText string, res *models.TaskResult) (string, error) {
	stream, err := w.deps.Client.Query(ctx, llm.Request{
		System: planReviewSystemPrompt,
		Prompt: fmt.Sprintf("Objective:\n%s\n\nPlan:\n%s", w.task.Objective, planText),
		Model:  llm.ModelForTier(models.TierCheap),
		// Judgment only; no repository access needed.
		Toolset:  llm.ToolsetNone,
		MaxTurns: 1,
	})
	if err != nil {
		return "", err
	}
	reply, err := llm.Drain(stream)
	res.TotalTokens += stream.Usage().Total()
	if err != nil {
		return "", err
	}

	reply = strings.TrimSpace(reply)
	if rest, ok := strings.CutPrefix(reply, "REJECTED:"); ok {
		return strings.TrimSpace(rest), nil
	}
	// Anything that is not an explicit rejection counts as approval.
	return "", nil
}
