// Package orchestrator drives a full run: it batches ready tasks from
// the board, gives each a workspace and a worker, hands verified work
// to the merge queue, and keeps the health monitor sweeping. One
// orchestrator instance owns one run over one trunk repository.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/undercity/undercity/internal/board"
	"github.com/undercity/undercity/internal/git"
	"github.com/undercity/undercity/internal/health"
	"github.com/undercity/undercity/internal/mergequeue"
	"github.com/undercity/undercity/internal/metrics"
	"github.com/undercity/undercity/internal/tracker"
	"github.com/undercity/undercity/internal/worker"
	"github.com/undercity/undercity/internal/workspace"
	"github.com/undercity/undercity/pkg/models"
)

// DefaultMaxConcurrent is the default worker parallelism.
const DefaultMaxConcurrent = 3

// drainPause is how long the queue drain waits when items exist but
// none are due yet.
const drainPause = time.Second

// Config holds run-level settings.
type Config struct {
	// MaxConcurrent caps parallel workers.
	MaxConcurrent int
	// MaxTasks stops the run after that many tasks reach a terminal
	// state. Zero means run until the board has no open work.
	MaxTasks int
	// KeepFailedWorkspaces leaves failed tasks' worktrees on disk.
	KeepFailedWorkspaces bool
	// DefaultBranch is the trunk branch merges land on.
	DefaultBranch string
}

// Deps are the orchestrator's collaborators.
type Deps struct {
	Board      *board.Board
	Workspaces *workspace.Manager
	Tracker    *tracker.Tracker
	Queue      *mergequeue.Queue
	Health     *health.Monitor
	Metrics    *metrics.Recorder
	// WorkerDeps is the template workers are built from; the
	// orchestrator fills in the per-task workspace git runner.
	WorkerDeps worker.Deps
	// GitFor builds a git runner rooted at a workspace path.
	GitFor func(path string) git.Runner
	Log    zerolog.Logger
}

// Summary aggregates per-task outcomes of one run.
type Summary struct {
	Completed   int
	Failed      int
	Decomposed  int
	NoChanges   int
	Merged      int
	TotalTokens int64
	Duration    time.Duration
}

// Orchestrator runs the main scheduling loop.
type Orchestrator struct {
	cfg   Config
	deps  Deps
	clock func() time.Time
	log   zerolog.Logger

	mu       sync.Mutex
	draining bool
	summary  Summary
}

// New creates an Orchestrator. Zero-value config fields get defaults.
func New(cfg Config, deps Deps) *Orchestrator {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.DefaultBranch == "" {
		cfg.DefaultBranch = "main"
	}
	if deps.GitFor == nil {
		deps.GitFor = func(path string) git.Runner { return git.NewRunner(path) }
	}
	return &Orchestrator{
		cfg:   cfg,
		deps:  deps,
		clock: time.Now,
		log:   deps.Log.With().Str("component", "orchestrator").Logger(),
	}
}

// SetQueue attaches the merge queue. The queue is built after the
// orchestrator so its on-merged callback can point back here; call
// this before Run.
func (o *Orchestrator) SetQueue(q *mergequeue.Queue) {
	o.deps.Queue = q
}

// Run executes until the board has no open work or ctx is cancelled.
// Cancellation drains: in-flight workers finish, no new tasks start.
func (o *Orchestrator) Run(ctx context.Context) (*Summary, error) {
	started := o.clock()
	defer func() {
		o.mu.Lock()
		o.summary.Duration = o.clock().Sub(started)
		o.mu.Unlock()
	}()

	if err := o.rehydrate(); err != nil {
		return nil, fmt.Errorf("startup rehydration: %w", err)
	}

	healthCtx, stopHealth := context.WithCancel(context.Background())
	defer stopHealth()
	go o.deps.Health.Run(healthCtx)

	go func() {
		<-ctx.Done()
		o.mu.Lock()
		o.draining = true
		o.mu.Unlock()
		o.log.Info().Msg("cancellation received, draining")
	}()

	processed := 0
	for {
		if o.isDraining() {
			break
		}
		if o.cfg.MaxTasks > 0 && processed >= o.cfg.MaxTasks {
			break
		}
		open, err := o.deps.Board.HasOpenWork()
		if err != nil {
			return nil, fmt.Errorf("inspect board: %w", err)
		}
		if !open {
			break
		}

		want := o.cfg.MaxConcurrent
		if o.cfg.MaxTasks > 0 && o.cfg.MaxTasks-processed < want {
			want = o.cfg.MaxTasks - processed
		}
		batch, err := o.deps.Board.GetReadyTasksForBatch(want)
		if err != nil {
			return nil, fmt.Errorf("pick batch: %w", err)
		}
		batch = o.dropConflicting(batch)
		if len(batch) == 0 {
			// In-progress work exists but nothing is ready; give the
			// merge queue a chance and check again.
			if err := o.drainQueue(ctx); err != nil {
				return nil, err
			}
			select {
			case <-ctx.Done():
			case <-time.After(drainPause):
			}
			continue
		}

		results := o.runBatch(ctx, batch)
		processed += len(results)
		for _, res := range results {
			o.handleResult(res)
		}
		if err := o.drainQueue(ctx); err != nil {
			return nil, err
		}
	}

	// Final drain so verified work enqueued just before cancellation
	// still lands.
	if err := o.drainQueue(context.Background()); err != nil {
		o.log.Warn().Err(err).Msg("final queue drain failed")
	}

	o.mu.Lock()
	s := o.summary
	o.mu.Unlock()
	o.log.Info().Int("completed", s.Completed).Int("failed", s.Failed).
		Int("merged", s.Merged).Int64("tokens", s.TotalTokens).Msg("run finished")
	return &s, nil
}

// dropConflicting removes batch members whose estimated files are being
// written by another active task.
func (o *Orchestrator) dropConflicting(batch []*models.Task) []*models.Task {
	kept := batch[:0]
	for _, t := range batch {
		if len(t.EstimatedFiles) > 0 && o.deps.Tracker.WouldTaskConflict(t.ID, t.EstimatedFiles) {
			o.log.Info().Str("task", t.ID).Msg("deferred: estimated files conflict with active task")
			continue
		}
		kept = append(kept, t)
	}
	return kept
}

// runBatch runs one batch of tasks in parallel workers and collects
// every result. Workers never return errors; panics are the only way a
// slot can come back empty and errgroup surfaces those.
func (o *Orchestrator) runBatch(ctx context.Context, batch []*models.Task) []*models.TaskResult {
	results := make([]*models.TaskResult, len(batch))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.MaxConcurrent)

	for i, task := range batch {
		g.Go(func() error {
			results[i] = o.runTask(gctx, task)
			return nil
		})
	}
	_ = g.Wait()

	out := results[:0]
	for _, r := range results {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

// runTask provisions a workspace and executes one worker.
func (o *Orchestrator) runTask(ctx context.Context, task *models.Task) *models.TaskResult {
	sessionID := uuid.New().String()
	workerName := "worker-" + sessionID[:8]

	ws, err := o.provisionWorkspace(task.ID, workerName)
	if err != nil {
		o.log.Error().Err(err).Str("task", task.ID).Msg("workspace provisioning failed")
		_ = o.deps.Board.MarkFailed(task.ID, "workspace: "+err.Error(), models.FailureUnknown)
		return &models.TaskResult{
			TaskID:      task.ID,
			Status:      models.ResultFailed,
			FailureKind: models.FailureUnknown,
			Error:       err.Error(),
		}
	}

	if err := o.deps.Board.MarkInProgress(task.ID, sessionID); err != nil {
		o.log.Error().Err(err).Str("task", task.ID).Msg("failed to claim task")
		return nil
	}
	task, err = o.deps.Board.Get(task.ID)
	if err != nil {
		return nil
	}

	deps := o.deps.WorkerDeps
	deps.WorkspaceGit = o.deps.GitFor(ws.Path)
	w := worker.New(task, ws, workerName, deps)
	return w.Run(ctx)
}

// provisionWorkspace creates a fresh workspace, or resumes an existing
// one left by a previous interrupted run.
func (o *Orchestrator) provisionWorkspace(taskID, workerName string) (*workspace.Workspace, error) {
	if ws, err := o.deps.Workspaces.Rehydrate(taskID); err == nil && ws != nil {
		o.log.Info().Str("task", taskID).Msg("resuming existing workspace")
		return ws, nil
	}
	return o.deps.Workspaces.Create(taskID, workerName)
}

// handleResult applies one worker's terminal result to shared state.
func (o *Orchestrator) handleResult(res *models.TaskResult) {
	o.recordMetrics(res)

	switch res.Status {
	case models.ResultVerified, models.ResultCompleteWithTickets:
		if res.Status == models.ResultCompleteWithTickets {
			o.fileTickets(res)
		}
		if _, err := o.deps.Queue.Enqueue(res.TaskID, res.Branch, res.SessionID); err != nil {
			o.log.Error().Err(err).Str("task", res.TaskID).Msg("enqueue failed")
			_ = o.deps.Board.MarkFailed(res.TaskID, "merge enqueue: "+err.Error(), models.FailureUnknown)
			o.bump(func(s *Summary) { s.Failed++ })
			return
		}
		// Task completion is deferred to the merge queue's onMerged.

	case models.ResultNoChanges:
		if err := o.deps.Board.MarkComplete(res.TaskID); err != nil {
			o.log.Warn().Err(err).Str("task", res.TaskID).Msg("failed to complete task")
		}
		o.destroyWorkspace(res.TaskID, false)
		o.completeParent(res.TaskID)
		o.bump(func(s *Summary) { s.Completed++; s.NoChanges++ })

	case models.ResultDecomposed:
		// The worker already rewrote the board; just release the sandbox.
		o.destroyWorkspace(res.TaskID, false)
		o.bump(func(s *Summary) { s.Decomposed++ })

	case models.ResultFailed:
		if err := o.deps.Board.MarkFailed(res.TaskID, res.Error, res.FailureKind); err != nil {
			o.log.Warn().Err(err).Str("task", res.TaskID).Msg("failed to record failure")
		}
		o.destroyWorkspace(res.TaskID, o.cfg.KeepFailedWorkspaces)
		o.bump(func(s *Summary) { s.Failed++ })
	}

	o.bump(func(s *Summary) { s.TotalTokens += res.TotalTokens })
}

// fileTickets turns unresolved review tickets into pending child tasks.
func (o *Orchestrator) fileTickets(res *models.TaskResult) {
	tasks := make([]*models.Task, 0, len(res.Tickets))
	for _, ticket := range res.Tickets {
		tasks = append(tasks, &models.Task{
			Objective: ticket.Description,
			Priority:  40,
			ParentID:  res.TaskID,
			Ticket:    &ticket,
		})
	}
	if len(tasks) == 0 {
		return
	}
	if err := o.deps.Board.AddPrepared(tasks); err != nil {
		o.log.Warn().Err(err).Msg("failed to file review tickets")
		return
	}
	o.log.Info().Int("tickets", len(tasks)).Str("parent", res.TaskID).Msg("review tickets filed")
}

// drainQueue ticks the merge queue until it stops making progress.
// Items waiting on backoff are left for a later drain.
func (o *Orchestrator) drainQueue(ctx context.Context) error {
	for {
		outcome, err := o.deps.Queue.Tick(ctx)
		if err != nil {
			return fmt.Errorf("merge queue tick: %w", err)
		}
		if outcome.Processed == nil {
			pending, err := o.deps.Queue.HasPending()
			if err != nil {
				return err
			}
			if !pending || o.isDraining() {
				return nil
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(drainPause):
			}
			continue
		}
		o.handleMergeOutcome(outcome)
	}
}

func (o *Orchestrator) handleMergeOutcome(outcome *mergequeue.TickOutcome) {
	item := outcome.Processed
	switch item.Status {
	case mergequeue.StatusMerged:
		// onMerged already marked the task; count it.
		o.bump(func(s *Summary) { s.Merged++; s.Completed++ })
	case mergequeue.StatusAborted:
		o.log.Error().Str("task", item.TaskID).Str("error", item.LastError).
			Msg("merge retries exhausted, workspace preserved")
		_ = o.deps.Board.MarkFailed(item.TaskID, "merge: "+item.LastError, outcome.Kind)
		o.bump(func(s *Summary) { s.Failed++ })
	}
}

// OnMerged is the merge queue callback: complete the task and release
// its workspace.
func (o *Orchestrator) OnMerged(taskID string) {
	if err := o.deps.Board.MarkComplete(taskID); err != nil {
		o.log.Warn().Err(err).Str("task", taskID).Msg("failed to complete merged task")
	}
	o.destroyWorkspace(taskID, false)
	o.completeParent(taskID)
}

// completeParent completes a decomposed parent when its last subtask
// finishes.
func (o *Orchestrator) completeParent(taskID string) {
	task, err := o.deps.Board.Get(taskID)
	if err != nil || task.ParentID == "" {
		return
	}
	done, err := o.deps.Board.CompleteParentIfAllSubtasksDone(task.ParentID)
	if err != nil {
		o.log.Warn().Err(err).Str("parent", task.ParentID).Msg("parent completion check failed")
		return
	}
	if done {
		o.log.Info().Str("parent", task.ParentID).Msg("all subtasks complete, parent completed")
	}
}

func (o *Orchestrator) destroyWorkspace(taskID string, keep bool) {
	if err := o.deps.Workspaces.Destroy(taskID, keep); err != nil {
		o.log.Warn().Err(err).Str("task", taskID).Msg("workspace teardown failed")
	}
}

// rehydrate resets orphaned in-progress tasks from a previous run.
// Tasks with a live workspace checkpoint resume; the rest go back to
// pending.
func (o *Orchestrator) rehydrate() error {
	active, err := o.deps.Board.InProgress()
	if err != nil {
		return err
	}
	activeIDs := make([]string, 0, len(active))
	for _, task := range active {
		activeIDs = append(activeIDs, task.ID)
		ws, err := o.deps.Workspaces.Rehydrate(task.ID)
		if err != nil || ws == nil {
			o.log.Info().Str("task", task.ID).Msg("no recoverable workspace, resetting to pending")
			if err := o.deps.Board.Requeue(task.ID); err != nil {
				return fmt.Errorf("reset task %s: %w", task.ID, err)
			}
			continue
		}
		// A live checkpoint exists; the requeued task resumes in the
		// recovered workspace when the scheduler hands it out.
		if err := o.deps.Board.Requeue(task.ID); err != nil {
			return fmt.Errorf("requeue task %s: %w", task.ID, err)
		}
		o.log.Info().Str("task", task.ID).Msg("workspace recovered, task requeued for resume")
	}

	removed, err := o.deps.Workspaces.CleanupOrphans(activeIDs)
	if err != nil {
		o.log.Warn().Err(err).Msg("orphan cleanup failed")
	} else if removed > 0 {
		o.log.Info().Int("removed", removed).Msg("orphaned workspaces cleaned up")
	}
	return nil
}

func (o *Orchestrator) recordMetrics(res *models.TaskResult) {
	if o.deps.Metrics == nil {
		return
	}
	rec := models.MetricsRecord{
		TaskID:              res.TaskID,
		SessionID:           res.SessionID,
		Success:             res.Status != models.ResultFailed,
		Error:               res.Error,
		ComplexityLevel:     res.Complexity,
		DurationMs:          res.Duration.Milliseconds(),
		TotalTokens:         res.TotalTokens,
		CompletedAt:         o.clock(),
		WasEscalated:        res.WasEscalated,
		Attempts:            res.Attempts,
		ActualFilesModified: res.ModifiedFiles,
	}
	rec.StartedAt = rec.CompletedAt.Add(-res.Duration)
	if len(res.Attempts) > 0 {
		rec.StartingModel = res.Attempts[0].Model
		rec.FinalModel = res.Attempts[len(res.Attempts)-1].Model
	}
	if task, err := o.deps.Board.Get(res.TaskID); err == nil {
		rec.Objective = task.Objective
		rec.PredictedFiles = task.EstimatedFiles
	}
	if err := o.deps.Metrics.Record(rec); err != nil {
		o.log.Warn().Err(err).Str("task", res.TaskID).Msg("failed to record metrics")
	}
}

func (o *Orchestrator) isDraining() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.draining
}

func (o *Orchestrator) bump(fn func(*Summary)) {
	o.mu.Lock()
	fn(&o.summary)
	o.mu.Unlock()
}
