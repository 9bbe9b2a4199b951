package tracker

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Op is the kind of file operation an agent tool performed.
type Op string

const (
	// OpRead is a read-only access. Reads never constitute a conflict.
	OpRead Op = "read"
	// OpWrite creates or replaces a file.
	OpWrite Op = "write"
	// OpEdit modifies part of a file.
	OpEdit Op = "edit"
	// OpDelete removes a file.
	OpDelete Op = "delete"
)

// Mutating reports whether the operation changes the file.
func (o Op) Mutating() bool {
	return o == OpWrite || o == OpEdit || o == OpDelete
}

// Access is one recorded file operation.
type Access struct {
	// Path is the trunk-relative file path.
	Path string
	// Op is the operation kind.
	Op Op
	// Timestamp orders accesses within a worker.
	Timestamp time.Time
	// TaskID is the owning task, when known.
	TaskID string
}

// Entry groups the accesses of one worker. The worker id equals the task
// id for task-level tracking.
type Entry struct {
	// WorkerID identifies the worker (task id for task-level tracking).
	WorkerID string
	// SessionID is the worker session.
	SessionID string
	// StartedAt is when tracking began.
	StartedAt time.Time
	// EndedAt is set when tracking stops; completed entries are excluded
	// from active-conflict detection.
	EndedAt *time.Time
	// Accesses holds the ordered access sequence.
	Accesses []Access
}

// Conflict describes one path written by two or more active tasks.
type Conflict struct {
	// TaskIDs lists the distinct tasks writing the path, sorted.
	TaskIDs []string
	// ConflictingFiles lists the contested paths, sorted.
	ConflictingFiles []string
	// Severity is always "error" for write/write overlap.
	Severity string
}

// SeverityError marks a conflict that blocks concurrent scheduling.
const SeverityError = "error"

// Tracker records file accesses for all live workers.
type Tracker struct {
	trunkRoot string
	clock     func() time.Time
	log       zerolog.Logger

	mu      sync.RWMutex
	entries map[string]*Entry
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock overrides the tracker's time source, for tests.
func WithClock(clock func() time.Time) Option {
	return func(t *Tracker) { t.clock = clock }
}

// WithLogger sets the tracker's logger.
func WithLogger(log zerolog.Logger) Option {
	return func(t *Tracker) { t.log = log }
}

// New creates a Tracker rooted at the trunk repository path.
func New(trunkRoot string, opts ...Option) *Tracker {
	t := &Tracker{
		trunkRoot: trunkRoot,
		clock:     time.Now,
		log:       zerolog.Nop(),
		entries:   make(map[string]*Entry),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// StartTaskTracking opens an entry for a task-level worker.
func (t *Tracker) StartTaskTracking(taskID, sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[taskID] = &Entry{
		WorkerID:  taskID,
		SessionID: sessionID,
		StartedAt: t.clock(),
	}
}

// StopTaskTracking marks a task's entry completed. Completed entries no
// longer participate in active-conflict detection.
func (t *Tracker) StopTaskTracking(taskID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[taskID]; ok && e.EndedAt == nil {
		now := t.clock()
		e.EndedAt = &now
	}
}

// RecordFileAccess normalizes the path and appends an access to the
// worker's entry, creating the entry if tracking was not started.
func (t *Tracker) RecordFileAccess(workerID, path string, op Op, taskID, worktreePath string) {
	normalized := NormalizePath(t.trunkRoot, worktreePath, path)
	if normalized == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[workerID]
	if !ok {
		e = &Entry{WorkerID: workerID, StartedAt: t.clock()}
		t.entries[workerID] = e
	}
	if taskID == "" {
		taskID = workerID
	}
	e.Accesses = append(e.Accesses, Access{
		Path:      normalized,
		Op:        op,
		Timestamp: t.clock(),
		TaskID:    taskID,
	})
}

// GetModifiedFiles returns the deduplicated trunk-relative paths the
// worker wrote, edited, or deleted, in first-touch order.
func (t *Tracker) GetModifiedFiles(workerID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.entries[workerID]
	if !ok {
		return nil
	}
	seen := make(map[string]bool)
	var out []string
	for _, a := range e.Accesses {
		if !a.Op.Mutating() || seen[a.Path] {
			continue
		}
		seen[a.Path] = true
		out = append(out, a.Path)
	}
	return out
}

// DetectCrossTaskConflicts reports every path written by two or more
// distinct active tasks. Completed entries and read-only accesses are
// excluded.
func (t *Tracker) DetectCrossTaskConflicts() []Conflict {
	t.mu.RLock()
	defer t.mu.RUnlock()

	writers := t.activeWritersLocked()

	// Group contested paths by their writer set so one conflict covers
	// all paths shared by the same tasks.
	type group struct {
		tasks map[string]bool
		paths []string
	}
	groups := make(map[string]*group)

	for path, tasks := range writers {
		if len(tasks) < 2 {
			continue
		}
		ids := sortedKeys(tasks)
		key := joinKey(ids)
		g, ok := groups[key]
		if !ok {
			g = &group{tasks: tasks}
			groups[key] = g
		}
		g.paths = append(g.paths, path)
	}

	var conflicts []Conflict
	for _, g := range groups {
		sort.Strings(g.paths)
		conflicts = append(conflicts, Conflict{
			TaskIDs:          sortedKeys(g.tasks),
			ConflictingFiles: g.paths,
			Severity:         SeverityError,
		})
	}
	sort.Slice(conflicts, func(i, j int) bool {
		return joinKey(conflicts[i].TaskIDs) < joinKey(conflicts[j].TaskIDs)
	})
	return conflicts
}

// WouldTaskConflict reports whether any estimated path is currently
// written by a different active task.
func (t *Tracker) WouldTaskConflict(taskID string, estimatedPaths []string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	writers := t.activeWritersLocked()
	for _, p := range estimatedPaths {
		normalized := NormalizePath(t.trunkRoot, "", p)
		for writer := range writers[normalized] {
			if writer != taskID {
				return true
			}
		}
	}
	return false
}

// activeWritersLocked maps each written path to the set of active task
// ids writing it. Caller must hold t.mu.
func (t *Tracker) activeWritersLocked() map[string]map[string]bool {
	writers := make(map[string]map[string]bool)
	for _, e := range t.entries {
		if e.EndedAt != nil {
			continue
		}
		for _, a := range e.Accesses {
			if !a.Op.Mutating() {
				continue
			}
			if writers[a.Path] == nil {
				writers[a.Path] = make(map[string]bool)
			}
			writers[a.Path][a.TaskID] = true
		}
	}
	return writers
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func joinKey(ids []string) string {
	key := ""
	for _, id := range ids {
		key += id + "\x00"
	}
	return key
}
