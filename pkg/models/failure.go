package models

// FailureKind categorizes why a task attempt or task failed.
// The taxonomy is surfaced on every failed task and every attempt record.
type FailureKind string

const (
	// FailureBaseline means the trunk failed verification before any work started.
	FailureBaseline FailureKind = "baseline_fail"
	// FailureAgentError means the model call itself failed.
	FailureAgentError FailureKind = "agent_error"
	// FailureTypecheck means the typecheck verification step failed.
	FailureTypecheck FailureKind = "typecheck"
	// FailureLint means the lint verification step failed.
	FailureLint FailureKind = "lint"
	// FailureTest means the test verification step failed.
	FailureTest FailureKind = "test"
	// FailureBuild means the build verification step failed.
	FailureBuild FailureKind = "build"
	// FailureNoChanges means the agent terminated without writing anything.
	FailureNoChanges FailureKind = "no_changes"
	// FailureVagueTask means the agent made no changes on three consecutive
	// attempts; the task needs decomposition rather than another retry.
	FailureVagueTask FailureKind = "vague_task"
	// FailureMergeConflict means the merge queue hit a conflict.
	FailureMergeConflict FailureKind = "merge_conflict"
	// FailureMergeTestFail means post-merge verification failed on trunk.
	FailureMergeTestFail FailureKind = "merge_test_fail"
	// FailureStuck means the worker's checkpoint went stale.
	FailureStuck FailureKind = "stuck"
	// FailurePermanent means the same error signature repeated across tasks.
	FailurePermanent FailureKind = "permanent_fail"
	// FailureUnresolvedReview means review could not converge.
	FailureUnresolvedReview FailureKind = "unresolved_review"
	// FailureSpell means the non-blocking spell check flagged issues.
	FailureSpell FailureKind = "spell"
	// FailureUnknown is the fallback category.
	FailureUnknown FailureKind = "unknown"
)

// Retryable reports whether a failure of this kind is eligible for retry
// within the worker's attempt budget.
func (k FailureKind) Retryable() bool {
	switch k {
	case FailureBaseline, FailureVagueTask, FailurePermanent:
		return false
	default:
		return true
	}
}
