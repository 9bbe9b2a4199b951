// Package mergequeue lands task branches on the default branch, one at
// a time. A tick merges with --no-ff, verifies the trunk, and reverts
// the merge when verification fails. Failed items retry with truncated
// exponential backoff; exhausted items are preserved, never deleted.
// The queue never pushes.
package mergequeue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/undercity/undercity/internal/git"
	"github.com/undercity/undercity/internal/store"
	"github.com/undercity/undercity/pkg/models"
)

// queueDocument is the persisted queue state.
type queueDocument struct {
	Items       []*Item   `json:"items"`
	LastUpdated time.Time `json:"lastUpdated"`
}

func (d *queueDocument) find(id string) *Item {
	for _, it := range d.Items {
		if it.ID == id {
			return it
		}
	}
	return nil
}

// TickOutcome describes what one tick did.
type TickOutcome struct {
	// Processed is the item handled, nil when nothing was due.
	Processed *Item
	// Kind categorizes a failed attempt.
	Kind models.FailureKind
}

// Summary counts queue items by status.
type Summary struct {
	Pending    int
	Retrying   int
	Merged     int
	Aborted    int
	NextRetry  *time.Time
	TotalItems int
}

// Queue is the serial merge queue.
type Queue struct {
	path          string
	git           git.Runner
	defaultBranch string
	verifyTrunk   func(ctx context.Context) (bool, string, error)
	onMerged      func(taskID string)
	clock         func() time.Time
	log           zerolog.Logger
}

// Option configures a Queue.
type Option func(*Queue)

// WithClock overrides the queue's time source, for tests.
func WithClock(clock func() time.Time) Option {
	return func(q *Queue) { q.clock = clock }
}

// WithLogger sets the queue's logger.
func WithLogger(log zerolog.Logger) Option {
	return func(q *Queue) { q.log = log }
}

// WithOnMerged registers a callback run after an item lands, typically
// to destroy the task's workspace.
func WithOnMerged(fn func(taskID string)) Option {
	return func(q *Queue) { q.onMerged = fn }
}

// New creates a Queue persisted at path, merging into defaultBranch.
// verifyTrunk runs the project's quality gates against the trunk after
// each merge; its string return is failure detail.
func New(path string, runner git.Runner, defaultBranch string,
	verifyTrunk func(ctx context.Context) (bool, string, error), opts ...Option) *Queue {

	q := &Queue{
		path:          path,
		git:           runner,
		defaultBranch: defaultBranch,
		verifyTrunk:   verifyTrunk,
		clock:         time.Now,
		log:           zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(q)
	}
	q.log = q.log.With().Str("component", "mergequeue").Logger()
	return q
}

// Enqueue adds a branch to the queue and returns the item.
func (q *Queue) Enqueue(taskID, branch, workerID string) (*Item, error) {
	item := &Item{
		ID:         uuid.New().String(),
		TaskID:     taskID,
		Branch:     branch,
		WorkerID:   workerID,
		Status:     StatusPending,
		MaxRetries: defaultMaxRetries,
		EnqueuedAt: q.clock(),
	}
	err := q.mutate(func(doc *queueDocument) error {
		for _, existing := range doc.Items {
			if existing.Branch == branch && !existing.Status.Terminal() {
				return fmt.Errorf("branch %s already queued", branch)
			}
		}
		doc.Items = append(doc.Items, item)
		return nil
	})
	if err != nil {
		return nil, err
	}
	q.log.Info().Str("task", taskID).Str("branch", branch).Msg("branch enqueued")
	return item, nil
}

// Items returns a copy of all queue items.
func (q *Queue) Items() ([]*Item, error) {
	doc, err := q.load()
	if err != nil {
		return nil, err
	}
	out := make([]*Item, len(doc.Items))
	for i, it := range doc.Items {
		clone := *it
		out[i] = &clone
	}
	return out, nil
}

// HasPending reports whether any item still needs processing.
func (q *Queue) HasPending() (bool, error) {
	doc, err := q.load()
	if err != nil {
		return false, err
	}
	for _, it := range doc.Items {
		if !it.Status.Terminal() {
			return true, nil
		}
	}
	return false, nil
}

// GetQueueSummary aggregates the queue by status.
func (q *Queue) GetQueueSummary() (Summary, error) {
	doc, err := q.load()
	if err != nil {
		return Summary{}, err
	}
	var s Summary
	for _, it := range doc.Items {
		s.TotalItems++
		switch it.Status {
		case StatusPending, StatusMerging:
			s.Pending++
		case StatusConflict, StatusTestFailed:
			s.Retrying++
			if it.NextRetryAfter != nil && (s.NextRetry == nil || it.NextRetryAfter.Before(*s.NextRetry)) {
				s.NextRetry = it.NextRetryAfter
			}
		case StatusMerged:
			s.Merged++
		case StatusAborted:
			s.Aborted++
		}
	}
	return s, nil
}

// Tick processes at most one due item. Items are strictly serial: a
// tick finishes its item completely before another can start.
func (q *Queue) Tick(ctx context.Context) (*TickOutcome, error) {
	item, err := q.claimNext()
	if err != nil || item == nil {
		return &TickOutcome{}, err
	}

	outcome := q.process(ctx, item)
	if err := q.storeResult(item, outcome); err != nil {
		return nil, err
	}
	return outcome, nil
}

// claimNext marks the oldest due item as merging and returns a copy.
func (q *Queue) claimNext() (*Item, error) {
	var claimed *Item
	err := q.mutate(func(doc *queueDocument) error {
		now := q.clock()
		for _, it := range doc.Items {
			if it.Status == StatusMerging {
				// A crash mid-merge leaves a merging item behind;
				// reclaim it as pending rather than skipping forever.
				it.Status = StatusPending
			}
		}
		for _, it := range doc.Items {
			if it.Due(now) {
				it.Status = StatusMerging
				clone := *it
				claimed = &clone
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// process attempts to land one item. It mutates the copy's status and
// error fields; persistence happens in storeResult.
func (q *Queue) process(ctx context.Context, item *Item) *TickOutcome {
	outcome := &TickOutcome{Processed: item}

	if err := q.git.CheckoutBranch(q.defaultBranch); err != nil {
		item.Status = StatusTestFailed
		item.LastError = fmt.Sprintf("checkout %s: %v", q.defaultBranch, err)
		outcome.Kind = models.FailureMergeTestFail
		return outcome
	}

	preMergeHead, err := q.git.Head()
	if err != nil {
		item.Status = StatusTestFailed
		item.LastError = fmt.Sprintf("resolve head: %v", err)
		outcome.Kind = models.FailureMergeTestFail
		return outcome
	}

	message := fmt.Sprintf("Merge %s (task %s)", item.Branch, item.TaskID)
	if err := q.git.MergeNoFF(item.Branch, message); err != nil {
		conflicted, _ := q.git.ConflictedFiles()
		_ = q.git.MergeAbort()
		item.Status = StatusConflict
		item.LastError = fmt.Sprintf("merge conflict in %d files: %v", len(conflicted), err)
		outcome.Kind = models.FailureMergeConflict
		q.log.Warn().Str("branch", item.Branch).Strs("files", conflicted).Msg("merge conflict")
		return outcome
	}

	ok, detail, err := q.verifyTrunk(ctx)
	if err != nil || !ok {
		// Revert the merge commit; the task branch stays intact.
		_ = q.git.ResetHard(preMergeHead)
		item.Status = StatusTestFailed
		if err != nil {
			item.LastError = fmt.Sprintf("trunk verification: %v", err)
		} else {
			item.LastError = "trunk verification failed: " + detail
		}
		outcome.Kind = models.FailureMergeTestFail
		q.log.Warn().Str("branch", item.Branch).Str("detail", item.LastError).
			Msg("merge reverted after failed trunk verification")
		return outcome
	}

	item.Status = StatusMerged
	item.LastError = ""
	q.log.Info().Str("branch", item.Branch).Str("task", item.TaskID).Msg("branch merged")
	if q.onMerged != nil {
		q.onMerged(item.TaskID)
	}
	return outcome
}

// storeResult persists a processed item, applying retry bookkeeping to
// failures.
func (q *Queue) storeResult(item *Item, outcome *TickOutcome) error {
	return q.mutate(func(doc *queueDocument) error {
		stored := doc.find(item.ID)
		if stored == nil {
			return fmt.Errorf("queue item %s disappeared", item.ID)
		}
		stored.Status = item.Status
		stored.LastError = item.LastError
		stored.NextRetryAfter = nil

		if item.Status == StatusConflict || item.Status == StatusTestFailed {
			stored.RetryCount++
			if stored.RetryCount >= stored.MaxRetries {
				stored.Status = StatusAborted
				item.Status = StatusAborted
				q.log.Warn().Str("branch", stored.Branch).Int("retries", stored.RetryCount).
					Msg("retry budget exhausted, item preserved")
			} else {
				next := q.clock().Add(retryDelay(stored.RetryCount - 1))
				stored.NextRetryAfter = &next
				item.NextRetryAfter = &next
			}
			item.RetryCount = stored.RetryCount
		}
		return nil
	})
}

func (q *Queue) mutate(fn func(doc *queueDocument) error) error {
	return store.WriteDocumentLocked(q.path, func(doc *queueDocument) error {
		if err := fn(doc); err != nil {
			return err
		}
		doc.LastUpdated = q.clock()
		return nil
	})
}

func (q *Queue) load() (*queueDocument, error) {
	var doc queueDocument
	if err := store.ReadDocument(q.path, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}
