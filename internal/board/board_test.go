package board

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/undercity/undercity/internal/store"
	"github.com/undercity/undercity/pkg/models"
)

func newTestBoard(t *testing.T) *Board {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "tasks.json"))
}

func TestAddTaskAndGet(t *testing.T) {
	b := newTestBoard(t)

	task, err := b.AddTask("fix the widget", 10, nil)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if task.ID == "" {
		t.Fatal("expected generated id")
	}
	if task.Status != models.TaskStatusPending {
		t.Errorf("expected pending, got %s", task.Status)
	}

	got, err := b.Get(task.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Objective != "fix the widget" {
		t.Errorf("unexpected objective %q", got.Objective)
	}
}

func TestAddTasksAscendingPriority(t *testing.T) {
	b := newTestBoard(t)

	tasks, err := b.AddTasks([]string{"first", "second", "third"})
	if err != nil {
		t.Fatalf("add tasks: %v", err)
	}
	for i := 1; i < len(tasks); i++ {
		if tasks[i].Priority <= tasks[i-1].Priority {
			t.Errorf("expected ascending priority, got %v then %v", tasks[i-1].Priority, tasks[i].Priority)
		}
	}
}

func TestDependencyGate(t *testing.T) {
	b := newTestBoard(t)

	t1, err := b.AddTask("add function add()", 0, nil)
	if err != nil {
		t.Fatalf("add t1: %v", err)
	}
	err = b.AddPrepared([]*models.Task{{
		Objective: "add tests for add()",
		DependsOn: []string{t1.ID},
	}})
	if err != nil {
		t.Fatalf("add t2: %v", err)
	}

	ready, err := b.GetReadyTasksForBatch(5)
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if len(ready) != 1 || ready[0].ID != t1.ID {
		t.Fatalf("expected only t1 ready, got %d tasks", len(ready))
	}

	if err := b.MarkInProgress(t1.ID, "session-1"); err != nil {
		t.Fatalf("mark in progress: %v", err)
	}
	if err := b.MarkComplete(t1.ID); err != nil {
		t.Fatalf("mark complete: %v", err)
	}

	ready, err = b.GetReadyTasksForBatch(5)
	if err != nil {
		t.Fatalf("batch after complete: %v", err)
	}
	if len(ready) != 1 || ready[0].Objective != "add tests for add()" {
		t.Fatalf("expected t2 ready after t1 completes, got %d tasks", len(ready))
	}
}

func TestBatchFileOverlapPruning(t *testing.T) {
	b := newTestBoard(t)

	err := b.AddPrepared([]*models.Task{
		{Objective: "A", Priority: 0, EstimatedFiles: []string{"src/a.ts"}},
		{Objective: "B", Priority: 1, EstimatedFiles: []string{"src/a.ts", "src/b.ts"}},
		{Objective: "C", Priority: 2, EstimatedFiles: []string{"src/c.ts"}},
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	ready, err := b.GetReadyTasksForBatch(3)
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if len(ready) != 2 {
		t.Fatalf("expected 2 tasks (B pruned), got %d", len(ready))
	}
	if ready[0].Objective != "A" || ready[1].Objective != "C" {
		t.Errorf("expected [A C], got [%s %s]", ready[0].Objective, ready[1].Objective)
	}
}

func TestBatchPackageOverlapPruning(t *testing.T) {
	b := newTestBoard(t)

	err := b.AddPrepared([]*models.Task{
		{Objective: "A", Priority: 0, ComputedPackages: []string{"internal/auth"}},
		{Objective: "B", Priority: 1, PackageHints: []string{"internal/auth"}},
		{Objective: "C", Priority: 2, ComputedPackages: []string{"internal/web"}},
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	ready, err := b.GetReadyTasksForBatch(3)
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if len(ready) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(ready))
	}
	for _, task := range ready {
		if task.Objective == "B" {
			t.Error("B should have been pruned for package overlap with A")
		}
	}
}

func TestDecomposedNeverScheduled(t *testing.T) {
	b := newTestBoard(t)

	parent, err := b.AddTask("big refactor", 0, nil)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	ids, err := b.DecomposeInto(parent.ID, []Subtask{
		{Objective: "step one"},
		{Objective: "step two"},
	})
	if err != nil {
		t.Fatalf("decompose: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 subtask ids, got %d", len(ids))
	}

	next, err := b.GetNextTask()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if next == nil || next.ID == parent.ID {
		t.Fatal("decomposed parent must never be scheduled")
	}
}

func TestSubtaskPriorityOrdering(t *testing.T) {
	b := newTestBoard(t)

	parent, _ := b.AddTask("parent", 10, nil)
	ids, err := b.DecomposeInto(parent.ID, []Subtask{
		{Objective: "first"},
		{Objective: "second"},
		{Objective: "third"},
	})
	if err != nil {
		t.Fatalf("decompose: %v", err)
	}

	for i, id := range ids {
		sub, err := b.Get(id)
		if err != nil {
			t.Fatalf("get subtask: %v", err)
		}
		want := 10 + 0.1*float64(i)
		if sub.Priority != want {
			t.Errorf("subtask %d: expected priority %v, got %v", i, want, sub.Priority)
		}
		if sub.ParentID != parent.ID {
			t.Errorf("subtask %d: expected parent %s", i, parent.ID)
		}
	}
}

func TestParentCompletesWhenSubtasksDone(t *testing.T) {
	b := newTestBoard(t)

	parent, _ := b.AddTask("parent", 0, nil)
	ids, err := b.DecomposeInto(parent.ID, []Subtask{
		{Objective: "one"},
		{Objective: "two"},
	})
	if err != nil {
		t.Fatalf("decompose: %v", err)
	}

	if err := b.MarkComplete(ids[0]); err != nil {
		t.Fatalf("complete first: %v", err)
	}
	got, _ := b.Get(parent.ID)
	if got.Status == models.TaskStatusComplete {
		t.Fatal("parent completed before all subtasks done")
	}

	if err := b.MarkComplete(ids[1]); err != nil {
		t.Fatalf("complete second: %v", err)
	}
	got, _ = b.Get(parent.ID)
	if got.Status != models.TaskStatusComplete {
		t.Errorf("expected parent complete, got %s", got.Status)
	}
}

func TestCycleRejected(t *testing.T) {
	b := newTestBoard(t)

	err := b.AddPrepared([]*models.Task{
		{ID: "a", Objective: "A", DependsOn: []string{"b"}},
		{ID: "b", Objective: "B", DependsOn: []string{"a"}},
	})
	if !errors.Is(err, ErrCycleDetected) {
		t.Errorf("expected cycle rejection, got %v", err)
	}
}

func TestUnknownDependencyRejected(t *testing.T) {
	b := newTestBoard(t)

	err := b.AddPrepared([]*models.Task{
		{Objective: "A", DependsOn: []string{"missing"}},
	})
	if err == nil {
		t.Error("expected rejection of unknown dependency")
	}
}

func TestTagBoostOrdering(t *testing.T) {
	b := newTestBoard(t)

	err := b.AddPrepared([]*models.Task{
		{Objective: "plain", Priority: 0},
		{Objective: "urgent", Priority: 0, Tags: []string{"Critical"}},
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	next, err := b.GetNextTask()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if next.Objective != "urgent" {
		t.Errorf("critical tag should rank first, got %q", next.Objective)
	}
}

func TestScoreAgePenaltyCapped(t *testing.T) {
	now := time.Now()
	old := &models.Task{Priority: 0, CreatedAt: now.Add(-365 * 24 * time.Hour)}
	if got := Score(old, now); got != 30 {
		t.Errorf("expected capped age penalty 30, got %v", got)
	}
}

func TestScoreDependencyPenalty(t *testing.T) {
	now := time.Now()
	task := &models.Task{Priority: 0, CreatedAt: now, DependsOn: []string{"a", "b"}}
	if got := Score(task, now); got != 10 {
		t.Errorf("expected 10 (5 per dep), got %v", got)
	}
}

func TestLastUpdatedMonotonic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.json")
	b := New(path)

	var stamps []time.Time
	for i := 0; i < 3; i++ {
		if _, err := b.AddTask("task", float64(i), nil); err != nil {
			t.Fatalf("add: %v", err)
		}
		var doc TasksDocument
		if err := store.ReadDocument(path, &doc); err != nil {
			t.Fatalf("read: %v", err)
		}
		stamps = append(stamps, doc.LastUpdated)
	}

	for i := 1; i < len(stamps); i++ {
		if !stamps[i].After(stamps[i-1]) {
			t.Errorf("lastUpdated not strictly increasing: %v then %v", stamps[i-1], stamps[i])
		}
	}
}

func TestResetToPending(t *testing.T) {
	b := newTestBoard(t)

	task, _ := b.AddTask("flaky", 0, nil)
	_ = b.MarkInProgress(task.ID, "s1")
	_ = b.MarkFailed(task.ID, "verification failed", models.FailureTest)

	if err := b.ResetToPending(task.ID); err != nil {
		t.Fatalf("reset: %v", err)
	}
	got, _ := b.Get(task.ID)
	if got.Status != models.TaskStatusPending {
		t.Errorf("expected pending, got %s", got.Status)
	}
	if got.Error != "" || got.SessionID != "" {
		t.Error("reset should clear error and session")
	}

	// Only failed tasks may reset.
	if err := b.ResetToPending(task.ID); err == nil {
		t.Error("expected reset of pending task to fail")
	}
}

func TestRequeueInProgressTask(t *testing.T) {
	b := newTestBoard(t)

	task, _ := b.AddTask("interrupted by crash", 0, nil)
	_ = b.MarkInProgress(task.ID, "s1")

	if err := b.Requeue(task.ID); err != nil {
		t.Fatalf("requeue: %v", err)
	}
	got, _ := b.Get(task.ID)
	if got.Status != models.TaskStatusPending {
		t.Errorf("expected pending, got %s", got.Status)
	}
	if got.SessionID != "" || got.StartedAt != nil {
		t.Error("requeue should clear session and start time")
	}

	// Terminal complete tasks stay where they are.
	_ = b.MarkInProgress(task.ID, "s2")
	_ = b.MarkComplete(task.ID)
	if err := b.Requeue(task.ID); err == nil {
		t.Error("expected requeue of complete task to fail")
	}
}
