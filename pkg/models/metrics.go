package models

import "time"

// MetricsRecord is one line of the append-only metrics log.
// Records are written once and never rewritten.
type MetricsRecord struct {
	// TaskID is the task this record describes.
	TaskID string `json:"taskId"`
	// SessionID is the worker session that ran the task.
	SessionID string `json:"sessionId"`
	// Objective is the task's objective text.
	Objective string `json:"objective"`
	// Success indicates the task reached a successful terminal state.
	Success bool `json:"success"`
	// DurationMs is total wall-clock time in milliseconds.
	DurationMs int64 `json:"durationMs"`
	// TotalTokens is aggregate token usage across all attempts.
	TotalTokens int64 `json:"totalTokens"`
	// StartedAt is when the worker picked up the task.
	StartedAt time.Time `json:"startedAt"`
	// CompletedAt is when the task reached a terminal state.
	CompletedAt time.Time `json:"completedAt"`
	// StartingModel is the model of the first attempt.
	StartingModel string `json:"startingModel"`
	// FinalModel is the model of the last attempt.
	FinalModel string `json:"finalModel"`
	// ComplexityLevel is the assessed complexity of the objective.
	ComplexityLevel Complexity `json:"complexityLevel"`
	// WasEscalated indicates a tier escalation occurred.
	WasEscalated bool `json:"wasEscalated"`
	// Attempts records every attempt in order.
	Attempts []AttemptRecord `json:"attempts"`
	// PredictedFiles are the paths estimated before execution.
	PredictedFiles []string `json:"predictedFiles,omitempty"`
	// ActualFilesModified are the paths the worker actually changed.
	ActualFilesModified []string `json:"actualFilesModified,omitempty"`
	// Error is the last error text for failed tasks.
	Error string `json:"error,omitempty"`
}
