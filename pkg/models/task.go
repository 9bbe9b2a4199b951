package models

import "time"

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task has not started.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusInProgress indicates the task is being worked on.
	TaskStatusInProgress TaskStatus = "in_progress"
	// TaskStatusComplete indicates the task completed successfully.
	TaskStatusComplete TaskStatus = "complete"
	// TaskStatusFailed indicates the task failed.
	TaskStatusFailed TaskStatus = "failed"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusInProgress, TaskStatusComplete, TaskStatusFailed:
		return true
	default:
		return false
	}
}

// Terminal returns true if the status is a terminal state.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusComplete || s == TaskStatusFailed
}

// TicketSource identifies where a ticket's content originated.
type TicketSource string

const (
	// TicketSourceUser indicates the ticket was written by a human.
	TicketSourceUser TicketSource = "user"
	// TicketSourceAgent indicates the ticket was generated by an agent.
	TicketSourceAgent TicketSource = "agent"
	// TicketSourceImport indicates the ticket came from an imported plan file.
	TicketSourceImport TicketSource = "import"
)

// TicketContent is structured work description attached to a task.
type TicketContent struct {
	// Description provides detailed information about the work.
	Description string `json:"description,omitempty"`
	// AcceptanceCriteria defines the criteria for completion.
	AcceptanceCriteria []string `json:"acceptanceCriteria,omitempty"`
	// TestPlan describes how the work should be verified.
	TestPlan string `json:"testPlan,omitempty"`
	// Source identifies where this ticket came from.
	Source TicketSource `json:"source,omitempty"`
}

// Task represents a unit of work on the task board.
type Task struct {
	// ID is the unique identifier for this task. Immutable after creation.
	ID string `json:"id"`
	// Objective is the human-readable coding objective.
	Objective string `json:"objective"`
	// Status is the current state of the task.
	Status TaskStatus `json:"status"`
	// Priority orders tasks; lower scores are picked first.
	Priority float64 `json:"priority"`
	// CreatedAt is when the task was created.
	CreatedAt time.Time `json:"createdAt"`
	// StartedAt is when work began, if it has.
	StartedAt *time.Time `json:"startedAt,omitempty"`
	// CompletedAt is when the task reached a terminal state.
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	// SessionID identifies the worker session handling this task.
	SessionID string `json:"sessionId,omitempty"`
	// Error contains the error message if the task failed.
	Error string `json:"error,omitempty"`
	// DependsOn lists task IDs that must complete before this task.
	DependsOn []string `json:"dependsOn,omitempty"`
	// Conflicts lists task IDs that must never run concurrently with this one.
	Conflicts []string `json:"conflicts,omitempty"`
	// EstimatedFiles are repository-relative paths the task is expected to touch.
	EstimatedFiles []string `json:"estimatedFiles,omitempty"`
	// Tags are short labels that influence priority scoring.
	Tags []string `json:"tags,omitempty"`
	// PackageHints are module paths supplied at creation time.
	PackageHints []string `json:"packageHints,omitempty"`
	// ComputedPackages are module paths derived by analysis.
	ComputedPackages []string `json:"computedPackages,omitempty"`
	// RiskScore estimates the risk of the change, in [0,1].
	RiskScore *float64 `json:"riskScore,omitempty"`
	// ParentID is the ID of the parent task if this is a subtask.
	ParentID string `json:"parentId,omitempty"`
	// SubtaskIDs lists the IDs of subtasks, in execution order.
	SubtaskIDs []string `json:"subtaskIds,omitempty"`
	// IsDecomposed marks a task whose work is carried by its subtasks.
	// A decomposed task is never directly executed.
	IsDecomposed bool `json:"isDecomposed"`
	// Ticket holds structured content describing the work.
	Ticket *TicketContent `json:"ticket,omitempty"`
	// FailureKind categorizes the last failure, if any.
	FailureKind FailureKind `json:"failureKind,omitempty"`
}

// HasTag reports whether the task carries the given tag, case-insensitively.
func (t *Task) HasTag(tag string) bool {
	for _, have := range t.Tags {
		if equalFold(have, tag) {
			return true
		}
	}
	return false
}

// AllPackages returns the union of computed packages and package hints.
func (t *Task) AllPackages() []string {
	seen := make(map[string]bool, len(t.ComputedPackages)+len(t.PackageHints))
	var out []string
	for _, p := range t.ComputedPackages {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	for _, p := range t.PackageHints {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

// equalFold is a small ASCII case-insensitive comparison.
// Tags are short ASCII labels, so full Unicode folding is unnecessary.
func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
