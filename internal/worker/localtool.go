package worker

import (
	"context"
	"time"

	"github.com/undercity/undercity/internal/router"
	"github.com/undercity/undercity/pkg/models"
)

// localToolTimeout bounds a single local tool invocation.
const localToolTimeout = 120 * time.Second

// localToolCommand maps a routed local tool onto the project's
// configured command for it.
func (w *Worker) localToolCommand(tool router.LocalTool) string {
	cmds := w.deps.Verifier.Commands()
	switch tool {
	case router.ToolFormat, router.ToolOrganizeImports:
		return cmds.Format
	case router.ToolLint:
		return cmds.Lint
	case router.ToolTypecheck:
		return cmds.Typecheck
	case router.ToolTest:
		return cmds.Test
	case router.ToolBuild:
		return cmds.Build
	default:
		return ""
	}
}

// runLocalTool satisfies an objective with a deterministic local tool,
// no model call. Changes the tool produces still go through full
// verification and the merge queue.
func (w *Worker) runLocalTool(ctx context.Context, res *models.TaskResult,
	tool router.LocalTool) *models.TaskResult {

	command := w.localToolCommand(tool)
	if command == "" {
		return w.fail(res, models.FailureUnknown,
			"no project command configured for local tool "+string(tool))
	}

	w.checkpoint("executing", 1, "")
	w.log.Info().Str("tool", string(tool)).Str("command", command).Msg("running local tool")

	result := w.deps.Runner.RunWithTimeout(ctx, w.ws.Path, command, localToolTimeout)
	rec := models.AttemptRecord{
		Attempt:    1,
		Model:      "local:" + string(tool),
		Tier:       models.TierLocalTools,
		DurationMs: result.Duration.Milliseconds(),
	}
	if !result.Ok() {
		rec.ErrorCategories = []models.FailureKind{models.FailureUnknown}
		res.Attempts = append(res.Attempts, rec)
		return w.fail(res, models.FailureUnknown,
			"local tool failed: "+tail(string(result.Output), 10))
	}

	dirty, err := w.deps.WorkspaceGit.HasChanges()
	if err != nil {
		res.Attempts = append(res.Attempts, rec)
		return w.fail(res, models.FailureUnknown, "inspect workspace: "+err.Error())
	}
	if !dirty {
		// The tool ran clean with nothing to change; that is success.
		rec.Success = true
		res.Attempts = append(res.Attempts, rec)
		res.Status = models.ResultNoChanges
		return res
	}

	w.checkpoint("verifying", 1, "")
	report, err := w.verifyWorkspace(ctx)
	if err != nil {
		res.Attempts = append(res.Attempts, rec)
		return w.fail(res, models.FailureUnknown, "verify local tool output: "+err.Error())
	}
	if !report.Passed {
		rec.ErrorCategories = failureKinds(report)
		res.Attempts = append(res.Attempts, rec)
		first := report.FirstFailure()
		msg := "local tool output failed verification"
		if first != nil {
			msg += ": " + tail(first.Output, 10)
		}
		return w.fail(res, report.FailureKind(), msg)
	}

	if err := w.commitWorkspace(); err != nil {
		res.Attempts = append(res.Attempts, rec)
		return w.fail(res, models.FailureUnknown, "commit workspace: "+err.Error())
	}

	rec.Success = true
	res.Attempts = append(res.Attempts, rec)
	res.ModifiedFiles = w.deps.Tracker.GetModifiedFiles(w.task.ID)
	res.Status = models.ResultVerified
	return res
}
