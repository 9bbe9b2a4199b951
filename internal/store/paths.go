// Package store provides crash-safe persistence for undercity state.
// Documents are written atomically (temp sibling, fsync, rename) and
// mutating writers hold a per-file advisory lock. Readers never lock.
package store

import "path/filepath"

// DirName is the state directory created inside the trunk repository.
const DirName = ".undercity"

// Well-known file names inside the state directory.
const (
	// TasksFileName is the task board document.
	TasksFileName = "tasks.json"
	// KnowledgeDBName is the embedded relational store.
	KnowledgeDBName = "knowledge.db"
	// MetricsFileName is the append-only metrics log.
	MetricsFileName = "metrics.jsonl"
	// BaselineCacheName caches the trunk baseline verification result.
	BaselineCacheName = "baseline-cache.json"
	// MergeQueueFileName is the serial merge queue document.
	MergeQueueFileName = "merge-queue.json"
	// WorktreesDirName holds per-task workspaces.
	WorktreesDirName = "worktrees"
	// ResearchDirName holds design docs emitted by research tasks.
	ResearchDirName = "research"
	// ExperimentsDirName holds A/B experiment data (external collaborator).
	ExperimentsDirName = "experiments"
	// RAGDBName is the optional retrieval store (external collaborator).
	RAGDBName = "rag.db"
	// AxExamplesDirName holds training examples from successful runs.
	AxExamplesDirName = "ax-examples"
)

// Per-workspace file names.
const (
	// AssignmentFileName is the worker checkpoint inside a workspace.
	AssignmentFileName = ".assignment.json"
	// NudgeFileName is written by the health monitor into a stuck
	// worker's workspace.
	NudgeFileName = ".undercity-nudge"
)

// Layout resolves state file paths under a repository root.
type Layout struct {
	root string
}

// NewLayout creates a Layout rooted at the given repository path.
func NewLayout(repoPath string) Layout {
	return Layout{root: filepath.Join(repoPath, DirName)}
}

// NewLayoutAt creates a Layout at an explicit state directory.
func NewLayoutAt(stateDir string) Layout {
	return Layout{root: stateDir}
}

// Root returns the state directory path.
func (l Layout) Root() string { return l.root }

// TasksFile returns the task board document path.
func (l Layout) TasksFile() string { return filepath.Join(l.root, TasksFileName) }

// KnowledgeDB returns the knowledge database path.
func (l Layout) KnowledgeDB() string { return filepath.Join(l.root, KnowledgeDBName) }

// MetricsFile returns the metrics log path.
func (l Layout) MetricsFile() string { return filepath.Join(l.root, MetricsFileName) }

// BaselineCache returns the baseline cache path.
func (l Layout) BaselineCache() string { return filepath.Join(l.root, BaselineCacheName) }

// MergeQueueFile returns the merge queue document path.
func (l Layout) MergeQueueFile() string { return filepath.Join(l.root, MergeQueueFileName) }

// WorktreesDir returns the workspace parent directory.
func (l Layout) WorktreesDir() string { return filepath.Join(l.root, WorktreesDirName) }

// WorktreeDir returns the workspace directory for one task.
func (l Layout) WorktreeDir(taskID string) string {
	return filepath.Join(l.root, WorktreesDirName, taskID)
}

// ResearchDir returns the research document directory.
func (l Layout) ResearchDir() string { return filepath.Join(l.root, ResearchDirName) }
