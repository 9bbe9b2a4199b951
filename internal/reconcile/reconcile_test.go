package reconcile

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/undercity/undercity/internal/board"
	"github.com/undercity/undercity/pkg/models"
)

type fakeCommits struct {
	subjects []string
	err      error
}

func (f *fakeCommits) AddAll() error                        { return nil }
func (f *fakeCommits) Commit(string) error                  { return nil }
func (f *fakeCommits) Head() (string, error)                { return "head", nil }
func (f *fakeCommits) LogOneline(int) (string, error)       { return "", nil }
func (f *fakeCommits) RecentSubjects(int) ([]string, error) { return f.subjects, f.err }

func newTestBoard(t *testing.T, objectives ...string) *board.Board {
	t.Helper()
	b := board.New(filepath.Join(t.TempDir(), "tasks.json"))
	if len(objectives) > 0 {
		if _, err := b.AddTasks(objectives); err != nil {
			t.Fatal(err)
		}
	}
	return b
}

func TestRunCompletesMatchingTask(t *testing.T) {
	b := newTestBoard(t,
		"add session table migration",
		"implement refresh token rotation",
	)
	g := &fakeCommits{subjects: []string{
		"feat(db): add session table migration",
		"unrelated housekeeping commit",
	}}

	r := New(b, g, zerolog.Nop())
	report, err := r.Run(10, false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Completed != 1 {
		t.Fatalf("completed = %d, want 1", report.Completed)
	}
	if len(report.Matches) != 1 {
		t.Fatalf("matches = %d, want 1", len(report.Matches))
	}
	if report.Matches[0].Subject != "feat(db): add session table migration" {
		t.Errorf("subject = %q", report.Matches[0].Subject)
	}

	tasks, err := b.List()
	if err != nil {
		t.Fatal(err)
	}
	byObjective := map[string]models.TaskStatus{}
	for _, task := range tasks {
		byObjective[task.Objective] = task.Status
	}
	if got := byObjective["add session table migration"]; got != models.TaskStatusComplete {
		t.Errorf("matched task status = %s, want complete", got)
	}
	if got := byObjective["implement refresh token rotation"]; got != models.TaskStatusPending {
		t.Errorf("unmatched task status = %s, want pending", got)
	}
}

func TestRunDryRunDoesNotMutate(t *testing.T) {
	b := newTestBoard(t, "add session table migration")
	g := &fakeCommits{subjects: []string{"add session table migration"}}

	report, err := New(b, g, zerolog.Nop()).Run(10, true)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(report.Matches) != 1 || report.Completed != 0 {
		t.Fatalf("matches = %d completed = %d, want 1 and 0", len(report.Matches), report.Completed)
	}

	tasks, err := b.List()
	if err != nil {
		t.Fatal(err)
	}
	if tasks[0].Status != models.TaskStatusPending {
		t.Errorf("status = %s, want pending after dry run", tasks[0].Status)
	}
}

func TestRunSkipsNonPendingTasks(t *testing.T) {
	b := newTestBoard(t, "add session table migration")
	tasks, err := b.List()
	if err != nil {
		t.Fatal(err)
	}
	if err := b.MarkInProgress(tasks[0].ID, "session"); err != nil {
		t.Fatal(err)
	}

	g := &fakeCommits{subjects: []string{"add session table migration"}}
	report, err := New(b, g, zerolog.Nop()).Run(10, false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Candidate != 0 || len(report.Matches) != 0 {
		t.Errorf("candidate = %d matches = %d, want 0 and 0", report.Candidate, len(report.Matches))
	}
}

func TestBestSubjectThreshold(t *testing.T) {
	tests := []struct {
		name      string
		objective string
		subjects  []string
		want      bool
	}{
		{"exact", "remove legacy cookie codec", []string{"remove legacy cookie codec"}, true},
		{"prefix stripped", "remove legacy cookie codec", []string{"chore!: remove legacy cookie codec"}, true},
		{"partial overlap below threshold", "remove legacy cookie codec entirely", []string{"remove the cheese"}, false},
		{"single shared word", "fix login", []string{"fix everything else"}, false},
		{"no subjects", "remove legacy cookie codec", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, ok := bestSubject(tt.objective, tt.subjects)
			if ok != tt.want {
				t.Errorf("ok = %v, want %v", ok, tt.want)
			}
		})
	}
}

func TestRunDefaultLookback(t *testing.T) {
	b := newTestBoard(t)
	g := &fakeCommits{}
	report, err := New(b, g, zerolog.Nop()).Run(0, false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Scanned != 0 || report.Candidate != 0 {
		t.Errorf("unexpected report: %+v", report)
	}
}
