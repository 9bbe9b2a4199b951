package board

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/gammazero/toposort"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/undercity/undercity/internal/store"
	"github.com/undercity/undercity/pkg/models"
)

// ErrTaskNotFound indicates an operation referenced an unknown task id.
var ErrTaskNotFound = errors.New("board: task not found")

// ErrCycleDetected indicates a dependency edge would create a cycle.
var ErrCycleDetected = errors.New("board: circular dependency detected")

// Board is the task board. Every mutation takes the document's advisory
// lock, validates invariants, and persists atomically; reads are
// lock-free and tolerate concurrent writers.
type Board struct {
	path  string
	clock func() time.Time
	log   zerolog.Logger
}

// Option configures a Board.
type Option func(*Board)

// WithClock overrides the board's time source, for tests.
func WithClock(clock func() time.Time) Option {
	return func(b *Board) { b.clock = clock }
}

// WithLogger sets the board's logger.
func WithLogger(log zerolog.Logger) Option {
	return func(b *Board) { b.log = log }
}

// New creates a Board persisted at the given tasks.json path.
func New(path string, opts ...Option) *Board {
	b := &Board{
		path:  path,
		clock: time.Now,
		log:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Path returns the board's document path.
func (b *Board) Path() string { return b.path }

// AddTask appends a new pending task and returns it.
func (b *Board) AddTask(objective string, priority float64, ticket *models.TicketContent) (*models.Task, error) {
	task := &models.Task{
		ID:        uuid.New().String(),
		Objective: objective,
		Status:    models.TaskStatusPending,
		Priority:  priority,
		CreatedAt: b.clock(),
		Ticket:    ticket,
	}

	err := b.mutate(func(doc *TasksDocument) error {
		doc.Tasks = append(doc.Tasks, task)
		return validateDAG(doc)
	})
	if err != nil {
		return nil, err
	}
	b.log.Debug().Str("task", task.ID).Str("objective", objective).Msg("task added")
	return task, nil
}

// AddTasks appends a batch of pending tasks, assigning ascending priority
// within the batch so earlier objectives run first.
func (b *Board) AddTasks(objectives []string) ([]*models.Task, error) {
	now := b.clock()
	tasks := make([]*models.Task, 0, len(objectives))
	for i, objective := range objectives {
		tasks = append(tasks, &models.Task{
			ID:        uuid.New().String(),
			Objective: objective,
			Status:    models.TaskStatusPending,
			Priority:  float64(i),
			CreatedAt: now,
		})
	}

	err := b.mutate(func(doc *TasksDocument) error {
		doc.Tasks = append(doc.Tasks, tasks...)
		return validateDAG(doc)
	})
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

// AddPrepared appends fully constructed tasks, preserving any dependency
// or analysis fields the caller set. Used by plan import and review tickets.
func (b *Board) AddPrepared(tasks []*models.Task) error {
	now := b.clock()
	for _, t := range tasks {
		if t.ID == "" {
			t.ID = uuid.New().String()
		}
		if t.Status == "" {
			t.Status = models.TaskStatusPending
		}
		if t.CreatedAt.IsZero() {
			t.CreatedAt = now
		}
	}
	return b.mutate(func(doc *TasksDocument) error {
		doc.Tasks = append(doc.Tasks, tasks...)
		return validateDAG(doc)
	})
}

// Get returns a copy of the task with the given id.
func (b *Board) Get(id string) (*models.Task, error) {
	doc, err := b.load()
	if err != nil {
		return nil, err
	}
	t := doc.find(id)
	if t == nil {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	copy := *t
	return &copy, nil
}

// List returns copies of all tasks in insertion order.
func (b *Board) List() ([]*models.Task, error) {
	doc, err := b.load()
	if err != nil {
		return nil, err
	}
	out := make([]*models.Task, 0, len(doc.Tasks))
	for _, t := range doc.Tasks {
		copy := *t
		out = append(out, &copy)
	}
	return out, nil
}

// GetNextTask returns the single highest-ranked ready task, or nil when
// no task is ready. Decomposed tasks are never returned.
func (b *Board) GetNextTask() (*models.Task, error) {
	ready, err := b.GetReadyTasksForBatch(1)
	if err != nil {
		return nil, err
	}
	if len(ready) == 0 {
		return nil, nil
	}
	return ready[0], nil
}

// GetReadyTasksForBatch returns up to n ready tasks ranked by score, with
// file and package overlap pruning: a candidate is rejected when its
// packages or estimated files intersect those of an already selected
// task, or when either side declares the other in its conflict set.
func (b *Board) GetReadyTasksForBatch(n int) ([]*models.Task, error) {
	doc, err := b.load()
	if err != nil {
		return nil, err
	}

	ranked := rankPending(doc, b.clock())

	var selected []*models.Task
	usedPackages := make(map[string]bool)
	usedFiles := make(map[string]bool)
	selectedIDs := make(map[string]bool)

	for _, t := range ranked {
		if len(selected) >= n {
			break
		}
		if overlaps(t.AllPackages(), usedPackages) || overlaps(t.EstimatedFiles, usedFiles) {
			continue
		}
		if conflictsWithSelected(t, selected, selectedIDs) {
			continue
		}

		copy := *t
		selected = append(selected, &copy)
		selectedIDs[t.ID] = true
		for _, p := range t.AllPackages() {
			usedPackages[p] = true
		}
		for _, f := range t.EstimatedFiles {
			usedFiles[f] = true
		}
	}
	return selected, nil
}

// rankPending returns pending, non-decomposed tasks whose dependencies
// are all complete, sorted by score with insertion order as tiebreak.
func rankPending(doc *TasksDocument, now time.Time) []*models.Task {
	var ready []*models.Task
	for _, t := range doc.Tasks {
		if t.Status != models.TaskStatusPending || t.IsDecomposed {
			continue
		}
		if !depsComplete(doc, t) {
			continue
		}
		ready = append(ready, t)
	}
	sort.SliceStable(ready, func(i, j int) bool {
		return Score(ready[i], now) < Score(ready[j], now)
	})
	return ready
}

// depsComplete reports whether every dependency of t is complete.
func depsComplete(doc *TasksDocument, t *models.Task) bool {
	for _, depID := range t.DependsOn {
		dep := doc.find(depID)
		if dep == nil || dep.Status != models.TaskStatusComplete {
			return false
		}
	}
	return true
}

// overlaps reports whether any item appears in the used set.
func overlaps(items []string, used map[string]bool) bool {
	for _, item := range items {
		if used[item] {
			return true
		}
	}
	return false
}

// conflictsWithSelected checks declared conflict sets in both directions.
func conflictsWithSelected(t *models.Task, selected []*models.Task, selectedIDs map[string]bool) bool {
	for _, c := range t.Conflicts {
		if selectedIDs[c] {
			return true
		}
	}
	for _, s := range selected {
		for _, c := range s.Conflicts {
			if c == t.ID {
				return true
			}
		}
	}
	return false
}

// MarkInProgress transitions a pending task to in_progress.
func (b *Board) MarkInProgress(id, sessionID string) error {
	return b.mutateTask(id, func(t *models.Task) error {
		t.Status = models.TaskStatusInProgress
		t.SessionID = sessionID
		now := b.clock()
		t.StartedAt = &now
		return nil
	})
}

// MarkComplete transitions a task to complete and, when the task is a
// subtask, completes its parent if every sibling is also complete.
func (b *Board) MarkComplete(id string) error {
	return b.mutate(func(doc *TasksDocument) error {
		t := doc.find(id)
		if t == nil {
			return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
		}
		now := b.clock()
		t.Status = models.TaskStatusComplete
		t.CompletedAt = &now
		t.Error = ""
		t.FailureKind = ""

		if t.ParentID != "" {
			completeParentIfDone(doc, t.ParentID, now)
		}
		return nil
	})
}

// MarkFailed transitions a task to failed with the given error text.
func (b *Board) MarkFailed(id, errText string, kind models.FailureKind) error {
	return b.mutateTask(id, func(t *models.Task) error {
		now := b.clock()
		t.Status = models.TaskStatusFailed
		t.CompletedAt = &now
		t.Error = errText
		t.FailureKind = kind
		return nil
	})
}

// ResetToPending returns a failed task to the pending pool for retry.
func (b *Board) ResetToPending(id string) error {
	return b.mutateTask(id, func(t *models.Task) error {
		if t.Status != models.TaskStatusFailed {
			return fmt.Errorf("board: task %s is %s, only failed tasks reset", id, t.Status)
		}
		t.Status = models.TaskStatusPending
		t.StartedAt = nil
		t.CompletedAt = nil
		t.SessionID = ""
		t.Error = ""
		t.FailureKind = ""
		return nil
	})
}

// Requeue returns an interrupted task to the pending pool. Unlike
// ResetToPending it also accepts in_progress tasks, for crash recovery
// of work a previous run left in flight.
func (b *Board) Requeue(id string) error {
	return b.mutateTask(id, func(t *models.Task) error {
		if t.Status != models.TaskStatusFailed && t.Status != models.TaskStatusInProgress {
			return fmt.Errorf("board: task %s is %s, cannot requeue", id, t.Status)
		}
		t.Status = models.TaskStatusPending
		t.StartedAt = nil
		t.CompletedAt = nil
		t.SessionID = ""
		t.Error = ""
		t.FailureKind = ""
		return nil
	})
}

// TaskAnalysis carries derived fields attached after routing analysis.
type TaskAnalysis struct {
	// ComputedPackages are module paths the task is expected to touch.
	ComputedPackages []string
	// RiskScore estimates change risk in [0,1].
	RiskScore *float64
	// EstimatedFiles are repository-relative paths expected to change.
	EstimatedFiles []string
	// Tags are labels to merge into the task's tag set.
	Tags []string
}

// UpdateTaskAnalysis merges analysis results into a task.
func (b *Board) UpdateTaskAnalysis(id string, analysis TaskAnalysis) error {
	return b.mutateTask(id, func(t *models.Task) error {
		if analysis.ComputedPackages != nil {
			t.ComputedPackages = analysis.ComputedPackages
		}
		if analysis.RiskScore != nil {
			t.RiskScore = analysis.RiskScore
		}
		if analysis.EstimatedFiles != nil {
			t.EstimatedFiles = analysis.EstimatedFiles
		}
		for _, tag := range analysis.Tags {
			if !t.HasTag(tag) {
				t.Tags = append(t.Tags, tag)
			}
		}
		return nil
	})
}

// Subtask describes one unit of a decomposition.
type Subtask struct {
	// Objective is the subtask's objective text.
	Objective string
	// Ticket optionally carries structured content.
	Ticket *models.TicketContent
	// EstimatedFiles are paths the subtask is expected to touch.
	EstimatedFiles []string
}

// DecomposeInto marks the parent as decomposed and creates its subtasks.
// Subtasks inherit the parent's tags and package hints; their priority is
// parent.Priority + 0.1*order, preserving ordering inside the parent's
// priority band. Returns the new subtask ids in order.
func (b *Board) DecomposeInto(parentID string, subtasks []Subtask) ([]string, error) {
	if len(subtasks) == 0 {
		return nil, fmt.Errorf("board: decompose %s: no subtasks", parentID)
	}

	ids := make([]string, 0, len(subtasks))
	err := b.mutate(func(doc *TasksDocument) error {
		parent := doc.find(parentID)
		if parent == nil {
			return fmt.Errorf("%w: %s", ErrTaskNotFound, parentID)
		}

		now := b.clock()
		parent.IsDecomposed = true
		parent.SubtaskIDs = nil

		for i, sub := range subtasks {
			child := &models.Task{
				ID:             uuid.New().String(),
				Objective:      sub.Objective,
				Status:         models.TaskStatusPending,
				Priority:       parent.Priority + 0.1*float64(i),
				CreatedAt:      now,
				ParentID:       parent.ID,
				Tags:           append([]string(nil), parent.Tags...),
				PackageHints:   append([]string(nil), parent.PackageHints...),
				EstimatedFiles: sub.EstimatedFiles,
				Ticket:         sub.Ticket,
			}
			parent.SubtaskIDs = append(parent.SubtaskIDs, child.ID)
			doc.Tasks = append(doc.Tasks, child)
			ids = append(ids, child.ID)
		}
		return validateDAG(doc)
	})
	if err != nil {
		return nil, err
	}
	b.log.Info().Str("parent", parentID).Int("subtasks", len(ids)).Msg("task decomposed")
	return ids, nil
}

// AreAllSubtasksComplete reports whether every subtask of the parent is
// complete. A parent with no subtasks reports false.
func (b *Board) AreAllSubtasksComplete(parentID string) (bool, error) {
	doc, err := b.load()
	if err != nil {
		return false, err
	}
	parent := doc.find(parentID)
	if parent == nil {
		return false, fmt.Errorf("%w: %s", ErrTaskNotFound, parentID)
	}
	return allSubtasksComplete(doc, parent), nil
}

// CompleteParentIfAllSubtasksDone transitions a decomposed parent to
// complete when every subtask is complete. Returns true if it did.
func (b *Board) CompleteParentIfAllSubtasksDone(parentID string) (bool, error) {
	completed := false
	err := b.mutate(func(doc *TasksDocument) error {
		completed = completeParentIfDone(doc, parentID, b.clock())
		return nil
	})
	return completed, err
}

// HasOpenWork reports whether any task is pending or in progress.
func (b *Board) HasOpenWork() (bool, error) {
	doc, err := b.load()
	if err != nil {
		return false, err
	}
	for _, t := range doc.Tasks {
		if t.IsDecomposed {
			continue
		}
		if t.Status == models.TaskStatusPending || t.Status == models.TaskStatusInProgress {
			return true, nil
		}
	}
	return false, nil
}

// InProgress returns copies of all in-progress tasks.
func (b *Board) InProgress() ([]*models.Task, error) {
	doc, err := b.load()
	if err != nil {
		return nil, err
	}
	var out []*models.Task
	for _, t := range doc.Tasks {
		if t.Status == models.TaskStatusInProgress {
			copy := *t
			out = append(out, &copy)
		}
	}
	return out, nil
}

// allSubtasksComplete reports completion of every subtask of parent.
func allSubtasksComplete(doc *TasksDocument, parent *models.Task) bool {
	if len(parent.SubtaskIDs) == 0 {
		return false
	}
	for _, id := range parent.SubtaskIDs {
		sub := doc.find(id)
		if sub == nil || sub.Status != models.TaskStatusComplete {
			return false
		}
	}
	return true
}

// completeParentIfDone applies the decomposed-parent completion rule
// inside an open mutation.
func completeParentIfDone(doc *TasksDocument, parentID string, now time.Time) bool {
	parent := doc.find(parentID)
	if parent == nil || !parent.IsDecomposed || parent.Status == models.TaskStatusComplete {
		return false
	}
	if !allSubtasksComplete(doc, parent) {
		return false
	}
	parent.Status = models.TaskStatusComplete
	parent.CompletedAt = &now
	return true
}

// mutate loads the document under its lock, applies fn, validates task id
// uniqueness, bumps lastUpdated, and persists atomically.
func (b *Board) mutate(fn func(doc *TasksDocument) error) error {
	return store.WriteDocumentLocked(b.path, func(doc *TasksDocument) error {
		if err := fn(doc); err != nil {
			return err
		}
		if err := validateUniqueIDs(doc); err != nil {
			return err
		}
		doc.touch(b.clock())
		return nil
	})
}

// mutateTask is a mutate over one task looked up by id.
func (b *Board) mutateTask(id string, fn func(t *models.Task) error) error {
	return b.mutate(func(doc *TasksDocument) error {
		t := doc.find(id)
		if t == nil {
			return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
		}
		return fn(t)
	})
}

// load reads the document without locking.
func (b *Board) load() (*TasksDocument, error) {
	var doc TasksDocument
	if err := store.ReadDocument(b.path, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// validateUniqueIDs rejects duplicate task ids.
func validateUniqueIDs(doc *TasksDocument) error {
	seen := make(map[string]bool, len(doc.Tasks))
	for _, t := range doc.Tasks {
		if seen[t.ID] {
			return fmt.Errorf("board: duplicate task id %s", t.ID)
		}
		seen[t.ID] = true
	}
	return nil
}

// validateDAG rejects dependency cycles and references to unknown tasks.
func validateDAG(doc *TasksDocument) error {
	ids := make(map[string]bool, len(doc.Tasks))
	for _, t := range doc.Tasks {
		ids[t.ID] = true
	}

	var edges []toposort.Edge
	for _, t := range doc.Tasks {
		if len(t.DependsOn) == 0 {
			edges = append(edges, toposort.Edge{nil, t.ID})
			continue
		}
		for _, depID := range t.DependsOn {
			if !ids[depID] {
				return fmt.Errorf("board: task %s depends on unknown task %s", t.ID, depID)
			}
			edges = append(edges, toposort.Edge{depID, t.ID})
		}
	}

	if _, err := toposort.Toposort(edges); err != nil {
		return fmt.Errorf("%w: %v", ErrCycleDetected, err)
	}
	return nil
}
