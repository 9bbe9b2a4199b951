package models

import "time"

// MarkerKind identifies a terminal marker emitted by the agent.
type MarkerKind string

const (
	// MarkerNormal means the agent emitted no terminal marker.
	MarkerNormal MarkerKind = "normal"
	// MarkerAlreadyComplete means the agent determined the work was already done.
	MarkerAlreadyComplete MarkerKind = "already_complete"
	// MarkerInvalidTarget means the task referenced something that does not exist.
	MarkerInvalidTarget MarkerKind = "invalid_target"
	// MarkerNeedsDecomposition means the task is too broad for one agent.
	MarkerNeedsDecomposition MarkerKind = "needs_decomposition"
)

// TerminalMarker is the parsed form of the agent's completion sentinels.
// The wire contract is a sentinel line in assistant text; it is parsed
// once at the stream boundary into this sum type.
type TerminalMarker struct {
	// Kind identifies which marker was emitted.
	Kind MarkerKind
	// Reason is the free text following the sentinel.
	Reason string
}

// ShortCircuits reports whether the marker bypasses verification.
func (m TerminalMarker) ShortCircuits() bool {
	return m.Kind != MarkerNormal
}

// AttemptRecord captures one worker attempt at a task.
type AttemptRecord struct {
	// Attempt is the 1-indexed attempt number.
	Attempt int `json:"attempt"`
	// Model is the model identifier used for this attempt.
	Model string `json:"model"`
	// Tier is the capability class the attempt ran at.
	Tier Tier `json:"tier"`
	// DurationMs is how long the attempt took.
	DurationMs int64 `json:"durationMs"`
	// Success indicates whether the attempt passed verification.
	Success bool `json:"success"`
	// ErrorCategories lists the failure kinds observed, if any.
	ErrorCategories []FailureKind `json:"errorCategories,omitempty"`
}

// TaskResult is the outcome a worker returns to the orchestrator.
// Workers never propagate panics or errors across this boundary; every
// execution path produces a TaskResult.
type TaskResult struct {
	// TaskID is the task this result belongs to.
	TaskID string
	// SessionID is the worker session that produced the result.
	SessionID string
	// Status is the terminal disposition of the task.
	Status TaskResultStatus
	// FailureKind categorizes the failure when Status is failed.
	FailureKind FailureKind
	// Error is the last error text, if any.
	Error string
	// Marker is the parsed terminal marker, if the agent emitted one.
	Marker TerminalMarker
	// WorkspacePath is the sandbox the worker used.
	WorkspacePath string
	// Branch is the workspace branch holding the accepted changes.
	Branch string
	// ModifiedFiles lists trunk-relative paths the worker changed.
	ModifiedFiles []string
	// Attempts records every attempt in order.
	Attempts []AttemptRecord
	// Complexity is the assessed difficulty class from routing.
	Complexity Complexity
	// StartingTier is the tier of the first attempt.
	StartingTier Tier
	// FinalTier is the tier of the last attempt.
	FinalTier Tier
	// WasEscalated indicates at least one tier escalation occurred.
	WasEscalated bool
	// TotalTokens is the aggregate token usage across attempts.
	TotalTokens int64
	// Duration is the wall-clock time for the whole task.
	Duration time.Duration
	// Tickets holds unresolved-issue tickets emitted by review.
	Tickets []TicketContent
	// Warnings indicates non-blocking checks flagged issues.
	Warnings bool
}

// TaskResultStatus is the terminal disposition of a worker run.
type TaskResultStatus string

const (
	// ResultVerified means changes passed verification and should merge.
	ResultVerified TaskResultStatus = "verified"
	// ResultNoChanges means the task succeeded without producing changes,
	// for example when the work was already complete.
	ResultNoChanges TaskResultStatus = "no_changes"
	// ResultDecomposed means the task was split into subtasks.
	ResultDecomposed TaskResultStatus = "decomposed"
	// ResultCompleteWithTickets means partial work merges and review
	// issues continue as child tasks.
	ResultCompleteWithTickets TaskResultStatus = "complete_with_tickets"
	// ResultFailed means the task exhausted its budgets.
	ResultFailed TaskResultStatus = "failed"
)

// Mergeable reports whether the result carries changes for the merge queue.
func (s TaskResultStatus) Mergeable() bool {
	return s == ResultVerified || s == ResultCompleteWithTickets
}
