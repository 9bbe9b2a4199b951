package workspace

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/undercity/undercity/internal/git"
	"github.com/undercity/undercity/internal/store"
)

// initTestRepo creates a git repository with one commit and returns its path.
func initTestRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	cmds := [][]string{
		{"init", "-b", "main"},
		{"config", "user.email", "test@example.com"},
		{"config", "user.name", "test"},
	}
	for _, args := range cmds {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v: %s", args, err, out)
		}
	}

	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	r := git.NewRunner(dir)
	if err := r.AddAll(); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := r.Commit("initial commit"); err != nil {
		t.Fatalf("commit: %v", err)
	}
	return dir
}

func newTestManager(t *testing.T, repo string) *Manager {
	t.Helper()
	m, err := NewManager(store.NewLayout(repo), git.NewRunner(repo), zerolog.Nop())
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m
}

func TestAssignmentRoundTrip(t *testing.T) {
	dir := t.TempDir()
	a := &Assignment{
		TaskID:     "task-1",
		WorkerName: "worker-1",
		BaseCommit: "abc123",
		CreatedAt:  time.Now().UTC(),
	}
	if err := SaveAssignment(dir, a); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := LoadAssignment(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got == nil || got.TaskID != "task-1" || got.BaseCommit != "abc123" {
		t.Errorf("loaded assignment = %+v", got)
	}
}

func TestLoadAssignmentMissingAndCorrupt(t *testing.T) {
	dir := t.TempDir()
	if a, err := LoadAssignment(dir); err != nil || a != nil {
		t.Errorf("missing assignment: got %+v, %v", a, err)
	}

	if err := os.WriteFile(assignmentPath(dir), []byte("{not json"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if a, err := LoadAssignment(dir); err != nil || a != nil {
		t.Errorf("corrupt assignment should load as nil: got %+v, %v", a, err)
	}
}

func TestSaveCheckpoint(t *testing.T) {
	dir := t.TempDir()
	if err := SaveAssignment(dir, &Assignment{TaskID: "task-1", BaseCommit: "abc"}); err != nil {
		t.Fatalf("save: %v", err)
	}

	cp := Checkpoint{Phase: "implementing", SavedAt: time.Now().UTC(), Attempts: 2, Model: "mid"}
	if err := SaveCheckpoint(dir, cp); err != nil {
		t.Fatalf("checkpoint: %v", err)
	}

	a, err := LoadAssignment(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if a.Checkpoint == nil || a.Checkpoint.Phase != "implementing" || a.Checkpoint.Attempts != 2 {
		t.Errorf("checkpoint = %+v", a.Checkpoint)
	}
}

func TestSaveCheckpointWithoutAssignment(t *testing.T) {
	if err := SaveCheckpoint(t.TempDir(), Checkpoint{Phase: "planning"}); err == nil {
		t.Error("expected error when no assignment exists")
	}
}

func TestCreateAndDestroy(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping git integration test in short mode")
	}
	repo := initTestRepo(t)
	m := newTestManager(t, repo)

	ws, err := m.Create("task-1", "worker-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if ws.Branch != "undercity/task-1" {
		t.Errorf("branch = %s", ws.Branch)
	}
	if _, err := os.Stat(ws.Path); err != nil {
		t.Fatalf("worktree missing: %v", err)
	}
	if _, err := os.Stat(assignmentPath(ws.Path)); err != nil {
		t.Fatalf("assignment missing: %v", err)
	}

	if _, err := m.Create("task-1", "worker-2"); err == nil {
		t.Error("duplicate create should fail")
	}

	if err := m.Destroy("task-1", false); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	if _, err := os.Stat(ws.Path); !os.IsNotExist(err) {
		t.Errorf("worktree should be gone, stat err = %v", err)
	}
}

func TestDestroyKeep(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping git integration test in short mode")
	}
	repo := initTestRepo(t)
	m := newTestManager(t, repo)

	ws, err := m.Create("task-keep", "worker-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := m.Destroy("task-keep", true); err != nil {
		t.Fatalf("destroy keep: %v", err)
	}
	if _, err := os.Stat(ws.Path); err != nil {
		t.Errorf("kept worktree should survive: %v", err)
	}
}

func TestRehydrateAndListActive(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping git integration test in short mode")
	}
	repo := initTestRepo(t)
	m := newTestManager(t, repo)

	if _, err := m.Create("task-a", "worker-1"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := m.Create("task-b", "worker-2"); err != nil {
		t.Fatalf("create: %v", err)
	}

	// A fresh manager sees the surviving workspaces.
	m2 := newTestManager(t, repo)
	ws, err := m2.Rehydrate("task-a")
	if err != nil {
		t.Fatalf("rehydrate: %v", err)
	}
	if ws == nil || ws.TaskID != "task-a" || ws.Assignment == nil {
		t.Fatalf("rehydrated = %+v", ws)
	}

	active, err := m2.ListActive()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(active) != 2 {
		t.Errorf("active = %d, want 2", len(active))
	}

	if ws, err := m2.Rehydrate("task-missing"); err != nil || ws != nil {
		t.Errorf("missing task rehydrate = %+v, %v", ws, err)
	}
}

func TestCleanupOrphans(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping git integration test in short mode")
	}
	repo := initTestRepo(t)
	m := newTestManager(t, repo)

	if _, err := m.Create("task-live", "worker-1"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := m.Create("task-dead", "worker-2"); err != nil {
		t.Fatalf("create: %v", err)
	}
	// A stray directory git never tracked.
	stray := filepath.Join(store.NewLayout(repo).WorktreesDir(), "stray")
	if err := os.MkdirAll(stray, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	removed, err := m.CleanupOrphans([]string{"task-live"})
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}

	active, err := m.ListActive()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(active) != 1 || active[0].TaskID != "task-live" {
		t.Errorf("active = %+v", active)
	}
}
