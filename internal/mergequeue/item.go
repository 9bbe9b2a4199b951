package mergequeue

import "time"

// Status is the state of one queue item.
type Status string

const (
	// StatusPending means the item is waiting its turn.
	StatusPending Status = "pending"
	// StatusMerging means a tick is currently processing the item.
	StatusMerging Status = "merging"
	// StatusConflict means the last attempt hit a merge conflict and
	// the item is waiting to retry.
	StatusConflict Status = "conflict"
	// StatusTestFailed means trunk verification failed after the merge
	// and the merge was reverted; the item is waiting to retry.
	StatusTestFailed Status = "test_failed"
	// StatusMerged means the branch landed on the default branch.
	StatusMerged Status = "merged"
	// StatusAborted means the retry budget is exhausted. The item and
	// its branch are preserved for manual handling.
	StatusAborted Status = "aborted"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusMerged || s == StatusAborted
}

// defaultMaxRetries is the per-item retry budget.
const defaultMaxRetries = 3

// Retry delay bounds.
const (
	baseRetryDelay = 1 * time.Second
	maxRetryDelay  = 30 * time.Second
)

// retryDelay returns the truncated exponential backoff for retry k
// (zero-based).
func retryDelay(k int) time.Duration {
	if k < 0 {
		k = 0
	}
	d := baseRetryDelay
	for i := 0; i < k; i++ {
		d *= 2
		if d >= maxRetryDelay {
			return maxRetryDelay
		}
	}
	if d > maxRetryDelay {
		return maxRetryDelay
	}
	return d
}

// Item is one branch waiting to land on the default branch.
type Item struct {
	// ID is the queue item id.
	ID string `json:"id"`
	// TaskID is the task that produced the branch.
	TaskID string `json:"taskId"`
	// Branch is the task branch to merge.
	Branch string `json:"branch"`
	// WorkerID is the worker session that produced the branch.
	WorkerID string `json:"workerId,omitempty"`
	// Status is the item's current state.
	Status Status `json:"status"`
	// RetryCount is how many attempts have failed so far.
	RetryCount int `json:"retryCount"`
	// MaxRetries is the attempt budget.
	MaxRetries int `json:"maxRetries"`
	// NextRetryAfter delays the next attempt after a failure.
	NextRetryAfter *time.Time `json:"nextRetryAfter,omitempty"`
	// EnqueuedAt is when the item entered the queue.
	EnqueuedAt time.Time `json:"enqueuedAt"`
	// LastError describes the most recent failure.
	LastError string `json:"lastError,omitempty"`
}

// Due reports whether the item is eligible for processing at now.
func (it *Item) Due(now time.Time) bool {
	if it.Status.Terminal() || it.Status == StatusMerging {
		return false
	}
	if it.NextRetryAfter != nil && now.Before(*it.NextRetryAfter) {
		return false
	}
	return true
}
