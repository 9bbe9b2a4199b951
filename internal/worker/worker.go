// Package worker drives a single task to a terminal state inside its
// workspace: baseline check, decomposition gate, routing, planning,
// agent loop, verification, review, and retry with tier escalation.
// A worker always returns a TaskResult; it never panics across the
// orchestrator boundary.
package worker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/undercity/undercity/internal/board"
	"github.com/undercity/undercity/internal/decompose"
	"github.com/undercity/undercity/internal/exec"
	"github.com/undercity/undercity/internal/git"
	"github.com/undercity/undercity/internal/knowledge"
	"github.com/undercity/undercity/internal/llm"
	"github.com/undercity/undercity/internal/review"
	"github.com/undercity/undercity/internal/router"
	"github.com/undercity/undercity/internal/store"
	"github.com/undercity/undercity/internal/tracker"
	"github.com/undercity/undercity/internal/verify"
	"github.com/undercity/undercity/internal/workspace"
	"github.com/undercity/undercity/pkg/models"
)

// Attempt budgets per tier. The global cap is their sum.
var tierBudgets = map[models.Tier]int{
	models.TierCheap:  2,
	models.TierMid:    3,
	models.TierStrong: 2,
}

// globalAttemptCap bounds total attempts across all tiers.
const globalAttemptCap = 7

// maxNoWriteAttempts is how many consecutive zero-write attempts are
// tolerated before the task is declared too vague to execute.
const maxNoWriteAttempts = 3

// maxTurns caps model round trips per attempt, by tier.
var maxTurns = map[models.Tier]int{
	models.TierCheap:  20,
	models.TierMid:    40,
	models.TierStrong: 60,
}

// Deps are the collaborators a worker needs. All fields are required
// unless noted.
type Deps struct {
	Client    llm.Client
	Runner    exec.CommandRunner
	Board     *board.Board
	Tracker   *tracker.Tracker
	Knowledge *knowledge.Store
	Verifier  *verify.Verifier
	Reviewer  *review.Reviewer
	Decompose *decompose.Decomposer
	Baseline  *store.BaselineCache
	// TrunkGit operates on the trunk checkout, for baselines.
	TrunkGit git.Runner
	// WorkspaceGit operates inside the task's workspace.
	WorkspaceGit git.Runner
	// Briefing returns opaque codebase context for an objective.
	// Optional; nil means no briefing section.
	Briefing func(ctx context.Context, objective string) string
	Log      zerolog.Logger
}

// Worker executes one task in one workspace.
type Worker struct {
	task  *models.Task
	ws    *workspace.Workspace
	name  string
	deps  Deps
	clock func() time.Time
	log   zerolog.Logger

	nudges *nudgeWatcher
	// learnings are retrieved once per run and reused across prompts.
	learnings []*knowledge.Learning
	// conversationID carries the agent conversation across attempts so
	// a retry resumes the model's exploration.
	conversationID string
}

// Option configures a Worker.
type Option func(*Worker)

// WithClock overrides the worker's time source, for tests.
func WithClock(clock func() time.Time) Option {
	return func(w *Worker) { w.clock = clock }
}

// New creates a Worker bound to a task and its workspace.
func New(task *models.Task, ws *workspace.Workspace, name string, deps Deps, opts ...Option) *Worker {
	w := &Worker{
		task:  task,
		ws:    ws,
		name:  name,
		deps:  deps,
		clock: time.Now,
		log: deps.Log.With().Str("component", "worker").
			Str("task", task.ID).Str("worker", name).Logger(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run drives the task to a terminal state. The returned result is
// always non-nil; failures are reported through it, never panicked.
func (w *Worker) Run(ctx context.Context) *models.TaskResult {
	started := w.clock()
	res := &models.TaskResult{
		TaskID:        w.task.ID,
		SessionID:     w.task.SessionID,
		WorkspacePath: w.ws.Path,
		Branch:        w.ws.Branch,
	}
	defer func() {
		res.Duration = w.clock().Sub(started)
	}()

	w.nudges = watchNudges(w.ws.Path, w.log)
	defer w.nudges.Close()

	w.deps.Tracker.StartTaskTracking(w.task.ID, w.task.SessionID)
	defer w.deps.Tracker.StopTaskTracking(w.task.ID)

	if w.task.IsDecomposed {
		return w.fail(res, models.FailureUnknown, "decomposed task must not be executed directly")
	}

	signature := knowledge.FailureSignature(w.task.Objective)
	if perm, err := w.deps.Knowledge.IsPermanentFailure(signature); err == nil && perm {
		return w.fail(res, models.FailurePermanent, "objective matches a permanently failing signature")
	}

	if ok, detail := w.baseline(ctx); !ok {
		return w.fail(res, models.FailureBaseline, "trunk baseline failed: "+detail)
	}

	if done, out := w.decompositionGate(ctx, res); done {
		return out
	}

	decision := router.Route(w.task.Objective)
	res.Complexity = decision.Complexity
	res.StartingTier = decision.Tier
	res.FinalTier = decision.Tier
	w.log.Info().Str("tier", string(decision.Tier)).Str("reason", decision.Reason).
		Msg("task routed")

	if decision.Tier == models.TierLocalTools {
		return w.runLocalTool(ctx, res, decision.LocalTool)
	}

	plan := ""
	if decision.Tier.AtLeast(models.TierMid) {
		w.checkpoint("planning", 0, llm.ModelForTier(decision.Tier))
		p, rejected, err := w.plan(ctx, decision.Tier, res)
		if err != nil {
			w.log.Warn().Err(err).Msg("planning failed, continuing without a plan")
		} else if rejected {
			return w.fail(res, models.FailureVagueTask, "execution plan rejected: "+p)
		} else {
			plan = p
		}
	}

	return w.attemptLoop(ctx, res, decision, plan, signature)
}

// attemptLoop runs the agent-verify-review cycle with retry and tier
// escalation until a terminal state or budget exhaustion.
func (w *Worker) attemptLoop(ctx context.Context, res *models.TaskResult,
	decision router.Decision, plan, signature string) *models.TaskResult {

	tier := decision.Tier
	tierAttempts := 0
	noWrites := 0
	feedback := ""
	postMortem := ""
	lastErr := "attempt budget exhausted"
	lastKind := models.FailureUnknown

	w.learnings = w.retrieveLearnings()
	retrieved := w.learnings

	for attempt := 1; attempt <= globalAttemptCap; attempt++ {
		model := llm.ModelForTier(tier)
		res.FinalTier = tier
		w.checkpoint("executing", attempt, model)

		attemptStart := w.clock()
		out := w.runAttempt(ctx, tier, attempt, plan, postMortem, feedback)
		rec := models.AttemptRecord{
			Attempt:    attempt,
			Model:      model,
			Tier:       tier,
			DurationMs: w.clock().Sub(attemptStart).Milliseconds(),
		}
		res.TotalTokens += out.usage.Total()

		if out.err != nil {
			rec.ErrorCategories = []models.FailureKind{models.FailureAgentError}
			res.Attempts = append(res.Attempts, rec)
			lastErr = out.err.Error()
			lastKind = models.FailureAgentError
			feedback = "the previous attempt failed with a model error; try again"
			if escalated, exhausted := w.advanceTier(&tier, &tierAttempts); exhausted {
				break
			} else if escalated {
				res.WasEscalated = true
				postMortem = w.postMortem(tier, lastKind, lastErr)
			}
			continue
		}

		if out.marker.ShortCircuits() {
			res.Marker = out.marker
			res.Attempts = append(res.Attempts, rec)
			return w.finishMarker(res, out.marker, retrieved)
		}

		if out.filesWritten == 0 {
			noWrites++
			rec.ErrorCategories = []models.FailureKind{models.FailureNoChanges}
			res.Attempts = append(res.Attempts, rec)
			if noWrites >= maxNoWriteAttempts {
				w.recordFailure(signature, models.FailureVagueTask)
				w.markLearnings(retrieved, false)
				return w.fail(res, models.FailureVagueTask,
					"agent made no changes across three attempts; the objective is too vague")
			}
			feedback = noWriteFeedback(noWrites)
			continue
		}
		noWrites = 0

		w.checkpoint("verifying", attempt, model)
		report, err := w.verifyWorkspace(ctx)
		if err != nil {
			rec.ErrorCategories = []models.FailureKind{models.FailureUnknown}
			res.Attempts = append(res.Attempts, rec)
			lastErr = err.Error()
			lastKind = models.FailureUnknown
			continue
		}
		res.Warnings = res.Warnings || advisoryFlagged(report)

		if report.Passed {
			rec.Success = true
			res.Attempts = append(res.Attempts, rec)
			return w.finishVerified(ctx, res, retrieved)
		}

		lastKind = report.FailureKind()
		first := report.FirstFailure()
		if first != nil {
			lastErr = fmt.Sprintf("%s failed: %s", first.Name, tail(first.Output, 20))
			w.recordErrorPattern(first)
		} else {
			lastErr = "verification failed with no changed files"
		}
		rec.ErrorCategories = failureKinds(report)
		res.Attempts = append(res.Attempts, rec)
		feedback = verificationFeedback(report)

		if escalated, exhausted := w.advanceTier(&tier, &tierAttempts); exhausted {
			break
		} else if escalated {
			res.WasEscalated = true
			postMortem = w.postMortem(tier, lastKind, lastErr)
		}
	}

	w.recordFailure(signature, lastKind)
	w.markLearnings(retrieved, false)
	return w.fail(res, lastKind, lastErr)
}

// advanceTier consumes one attempt from the current tier's budget and
// escalates when the budget is spent. exhausted means the strongest
// tier is also out of budget.
func (w *Worker) advanceTier(tier *models.Tier, tierAttempts *int) (escalated, exhausted bool) {
	*tierAttempts++
	budget := tierBudgets[*tier]
	if *tierAttempts < budget {
		return false, false
	}
	if *tier == models.TierStrong {
		return false, true
	}
	w.log.Info().Str("from", string(*tier)).Str("to", string(tier.Next())).
		Msg("escalating tier after exhausted budget")
	*tier = tier.Next()
	*tierAttempts = 0
	return true, false
}

// finishVerified commits the workspace, runs review, and produces the
// mergeable terminal result.
func (w *Worker) finishVerified(ctx context.Context, res *models.TaskResult,
	retrieved []*knowledge.Learning) *models.TaskResult {

	w.checkpoint("reviewing", len(res.Attempts), llm.ModelForTier(res.FinalTier))

	reverify := func(rctx context.Context) (bool, error) {
		report, err := w.verifyWorkspace(rctx)
		if err != nil {
			return false, err
		}
		return report.Passed, nil
	}
	reviewRes, err := w.deps.Reviewer.Review(ctx, w.ws.Path, w.task, res.FinalTier, reverify)
	if err != nil {
		w.log.Warn().Err(err).Msg("review transport failed, accepting verified changes")
		reviewRes = &review.Result{Converged: true}
	}
	res.TotalTokens += reviewRes.Tokens

	modified := w.deps.Tracker.GetModifiedFiles(w.task.ID)
	res.ModifiedFiles = modified

	if err := w.commitWorkspace(); err != nil {
		return w.fail(res, models.FailureUnknown, "commit workspace: "+err.Error())
	}

	w.markLearnings(retrieved, true)
	if err := w.deps.Knowledge.RecordTaskFiles(w.task.ID, w.task.Objective, modified); err != nil {
		w.log.Warn().Err(err).Msg("failed to record task files")
	}

	w.checkpoint("merging", len(res.Attempts), "")

	if reviewRes.Converged {
		res.Status = models.ResultVerified
		return res
	}
	for _, t := range reviewRes.Tickets {
		res.Tickets = append(res.Tickets, models.TicketContent{
			Description: t.Description,
			Source:      models.TicketSourceAgent,
		})
	}
	res.Status = models.ResultCompleteWithTickets
	w.log.Warn().Int("tickets", len(res.Tickets)).Msg("review did not converge, merging with tickets")
	return res
}

// finishMarker handles the terminal markers that bypass verification.
func (w *Worker) finishMarker(res *models.TaskResult, marker models.TerminalMarker,
	retrieved []*knowledge.Learning) *models.TaskResult {

	switch marker.Kind {
	case models.MarkerAlreadyComplete, models.MarkerInvalidTarget:
		// Success with nothing to merge.
		w.markLearnings(retrieved, true)
		res.Status = models.ResultNoChanges
		res.Error = marker.Reason
		w.log.Info().Str("marker", string(marker.Kind)).Str("reason", marker.Reason).
			Msg("task ended by terminal marker")
		return res
	case models.MarkerNeedsDecomposition:
		// Surfaces for decomposition; the task is not retried here.
		res.Status = models.ResultFailed
		res.FailureKind = models.FailureVagueTask
		res.Error = "agent requested decomposition: " + marker.Reason
		return res
	default:
		return w.fail(res, models.FailureUnknown, "unrecognized terminal marker")
	}
}

// decompositionGate runs the pre-execution decomposition check. done
// is true when the worker should stop with the returned result.
func (w *Worker) decompositionGate(ctx context.Context, res *models.TaskResult) (bool, *models.TaskResult) {
	outcome, err := w.deps.Decompose.CheckAndDecompose(ctx, w.task)
	if err != nil {
		w.log.Warn().Err(err).Msg("decomposition gate failed, proceeding")
		return false, nil
	}
	if outcome.Verdict != decompose.VerdictDecomposed {
		return false, nil
	}
	subtasks := make([]board.Subtask, len(outcome.Subtasks))
	for i, st := range outcome.Subtasks {
		subtasks[i] = board.Subtask{Objective: st.Objective}
	}
	ids, err := w.deps.Board.DecomposeInto(w.task.ID, subtasks)
	if err != nil {
		w.log.Error().Err(err).Msg("failed to persist decomposition, proceeding as one task")
		return false, nil
	}
	w.log.Info().Int("subtasks", len(ids)).Msg("task decomposed")
	res.Status = models.ResultDecomposed
	return true, res
}

// baseline runs the trunk typecheck, cached by trunk commit for a day.
func (w *Worker) baseline(ctx context.Context) (bool, string) {
	commit, err := w.deps.TrunkGit.Head()
	if err != nil {
		return false, "resolve trunk head: " + err.Error()
	}
	if entry, ok := w.deps.Baseline.Get(commit); ok {
		if entry.Passed {
			return true, ""
		}
		return false, entry.Output
	}

	check := w.deps.Verifier.Typecheck(ctx, w.deps.TrunkGit.RepoPath())
	entry := store.BaselineEntry{
		Commit:     commit,
		VerifiedAt: w.clock(),
		Passed:     check.Passed,
		Output:     tail(check.Output, 20),
	}
	if err := w.deps.Baseline.Put(entry); err != nil {
		w.log.Warn().Err(err).Msg("failed to cache baseline")
	}
	if !check.Passed {
		return false, entry.Output
	}
	return true, ""
}

// verifyWorkspace counts changes and runs the full verification suite.
func (w *Worker) verifyWorkspace(ctx context.Context) (*verify.Report, error) {
	changed, err := w.deps.WorkspaceGit.ChangedFiles(w.ws.BaseCommit)
	if err != nil {
		return nil, fmt.Errorf("enumerate changes: %w", err)
	}
	untracked, err := w.deps.WorkspaceGit.UntrackedFiles()
	if err != nil {
		return nil, fmt.Errorf("enumerate untracked: %w", err)
	}
	total := len(changed) + len(untracked)
	return w.deps.Verifier.Run(ctx, w.ws.Path, total)
}

// commitWorkspace stages and commits everything on the task branch so
// the merge queue has a single commit to land.
func (w *Worker) commitWorkspace() error {
	dirty, err := w.deps.WorkspaceGit.HasChanges()
	if err != nil {
		return err
	}
	if !dirty {
		return nil
	}
	if err := w.deps.WorkspaceGit.AddAll(); err != nil {
		return err
	}
	return w.deps.WorkspaceGit.Commit(commitSubject(w.task.Objective))
}

// commitSubject derives a one-line commit subject from an objective.
func commitSubject(objective string) string {
	subject := strings.TrimSpace(objective)
	if idx := strings.IndexByte(subject, '\n'); idx >= 0 {
		subject = subject[:idx]
	}
	if len(subject) > 72 {
		subject = subject[:69] + "..."
	}
	return subject
}

// checkpoint persists worker progress for the health monitor.
func (w *Worker) checkpoint(phase string, attempts int, model string) {
	cp := workspace.Checkpoint{
		Phase:    phase,
		SavedAt:  w.clock(),
		Attempts: attempts,
		Model:    model,
	}
	if err := workspace.SaveCheckpoint(w.ws.Path, cp); err != nil {
		w.log.Warn().Err(err).Str("phase", phase).Msg("failed to save checkpoint")
	}
}

func (w *Worker) fail(res *models.TaskResult, kind models.FailureKind, msg string) *models.TaskResult {
	res.Status = models.ResultFailed
	res.FailureKind = kind
	res.Error = msg
	w.log.Warn().Str("kind", string(kind)).Str("error", msg).Msg("task failed")
	return res
}

func (w *Worker) recordFailure(signature string, kind models.FailureKind) {
	if err := w.deps.Knowledge.RecordFailure(signature, w.task.ID, kind); err != nil {
		w.log.Warn().Err(err).Msg("failed to record failure signature")
	}
}

func (w *Worker) recordErrorPattern(check *verify.CheckResult) {
	pattern := tail(check.Output, 3)
	if pattern == "" {
		return
	}
	if err := w.deps.Knowledge.RecordErrorPattern(string(check.Kind), pattern, ""); err != nil {
		w.log.Warn().Err(err).Msg("failed to record error pattern")
	}
}

func (w *Worker) retrieveLearnings() []*knowledge.Learning {
	learnings, err := w.deps.Knowledge.Retrieve(w.task.Objective)
	if err != nil {
		w.log.Warn().Err(err).Msg("learning retrieval failed")
		return nil
	}
	return learnings
}

func (w *Worker) markLearnings(learnings []*knowledge.Learning, success bool) {
	for _, l := range learnings {
		if err := w.deps.Knowledge.MarkUsed(l.ID, success); err != nil {
			w.log.Warn().Err(err).Str("learning", l.ID).Msg("failed to mark learning used")
		}
	}
}

// postMortem summarizes the previous tier's failure for the next tier.
func (w *Worker) postMortem(next models.Tier, kind models.FailureKind, lastErr string) string {
	return fmt.Sprintf("A weaker model already attempted this task and failed (%s): %s\n"+
		"You are the %s tier. Read its leftover changes critically before building on them.",
		kind, lastErr, next)
}

// advisoryFlagged reports whether any non-blocking check failed.
func advisoryFlagged(report *verify.Report) bool {
	for _, c := range report.Checks {
		if !c.Blocking && !c.Skipped && !c.Passed {
			return true
		}
	}
	return false
}

// failureKinds collects the failed blocking categories of a report.
func failureKinds(report *verify.Report) []models.FailureKind {
	var kinds []models.FailureKind
	for _, c := range report.Checks {
		if c.Blocking && !c.Passed && !c.Skipped {
			kinds = append(kinds, c.Kind)
		}
	}
	if len(kinds) == 0 {
		kinds = append(kinds, models.FailureNoChanges)
	}
	return kinds
}

// noWriteFeedback escalates in tone with each consecutive idle attempt.
func noWriteFeedback(count int) string {
	switch count {
	case 1:
		return "You finished without modifying any files. The task requires code changes; make them now."
	default:
		return "You still have not made any changes. If the task is impossible, say so with a terminal " +
			"marker; otherwise edit the files required by the objective."
	}
}

// verificationFeedback builds the retry feedback from a failed report.
func verificationFeedback(report *verify.Report) string {
	var b strings.Builder
	b.WriteString("The previous attempt failed verification:\n")
	for _, c := range report.Checks {
		if c.Blocking && !c.Passed && !c.Skipped {
			fmt.Fprintf(&b, "- %s failed:\n%s\n", c.Name, tail(c.Output, 15))
		}
	}
	b.WriteString("Fix these failures. Do not start over; build on your existing changes.")
	return b.String()
}

// tail returns the last n lines of s.
func tail(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
