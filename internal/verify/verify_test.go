package verify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/undercity/undercity/internal/exec"
	"github.com/undercity/undercity/pkg/models"
)

// fakeRunner maps command substrings to canned results.
type fakeRunner struct {
	mu       sync.Mutex
	results  map[string]exec.Result
	commands []string
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{results: make(map[string]exec.Result)}
}

func (f *fakeRunner) set(substr string, res exec.Result) { f.results[substr] = res }

func (f *fakeRunner) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.commands))
	copy(out, f.commands)
	return out
}

func (f *fakeRunner) RunWithTimeout(ctx context.Context, workDir, command string, timeout time.Duration) exec.Result {
	f.mu.Lock()
	f.commands = append(f.commands, command)
	f.mu.Unlock()
	for substr, res := range f.results {
		if strings.Contains(command, substr) {
			return res
		}
	}
	return exec.Result{Output: []byte("ok")}
}

func (f *fakeRunner) Run(ctx context.Context, workDir, name string, args ...string) ([]byte, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeRunner) RunShell(ctx context.Context, workDir, command string) ([]byte, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeRunner) Exists(ctx context.Context, workDir, path string) bool { return false }

var _ exec.CommandRunner = (*fakeRunner)(nil)

func testCommands() Commands {
	return Commands{
		Typecheck:  "run-typecheck",
		Lint:       "run-lint",
		Test:       "run-test",
		Build:      "run-build",
		Spell:      "run-spell",
		CodeHealth: "run-health",
	}
}

func TestRunAllPass(t *testing.T) {
	runner := newFakeRunner()
	v := NewVerifier(runner, testCommands(), zerolog.Nop())

	report, err := v.Run(context.Background(), "/ws", 3)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !report.Passed {
		t.Errorf("report should pass: %+v", report)
	}
	if report.FailureKind() != "" {
		t.Errorf("failure kind = %s", report.FailureKind())
	}
	if len(report.Checks) != 6 {
		t.Errorf("checks = %d, want 6", len(report.Checks))
	}
}

func TestRunNoChangesNeverPasses(t *testing.T) {
	runner := newFakeRunner()
	v := NewVerifier(runner, testCommands(), zerolog.Nop())

	report, err := v.Run(context.Background(), "/ws", 0)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Passed {
		t.Error("zero changed files must not pass")
	}
	if report.FailureKind() != models.FailureNoChanges {
		t.Errorf("kind = %s, want no_changes", report.FailureKind())
	}
}

func TestRunTestFailureCategorized(t *testing.T) {
	runner := newFakeRunner()
	runner.set("run-test", exec.Result{Output: []byte("FAIL: TestX"), Err: errors.New("exit 1")})
	v := NewVerifier(runner, testCommands(), zerolog.Nop())

	report, err := v.Run(context.Background(), "/ws", 2)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Passed {
		t.Error("failing test must fail the report")
	}
	if report.FailureKind() != models.FailureTest {
		t.Errorf("kind = %s, want test", report.FailureKind())
	}
	if cats := report.Categories(); len(cats) == 0 || cats[0] != "test" {
		t.Errorf("categories = %v", cats)
	}

	// The build is skipped when a fast gate fails.
	for _, cmd := range runner.seen() {
		if strings.Contains(cmd, "run-build") {
			t.Error("build should not run after a blocking failure")
		}
	}
}

func TestRunTimeoutIsFailedCheck(t *testing.T) {
	runner := newFakeRunner()
	runner.set("run-typecheck", exec.Result{TimedOut: true, Err: errors.New("killed")})
	v := NewVerifier(runner, testCommands(), zerolog.Nop())

	report, err := v.Run(context.Background(), "/ws", 1)
	if err != nil {
		t.Fatalf("timeout must not surface as an error: %v", err)
	}
	if report.Passed {
		t.Error("timed out check must fail the report")
	}
	fail := report.FirstFailure()
	if fail == nil || !fail.TimedOut || fail.Kind != models.FailureTypecheck {
		t.Errorf("first failure = %+v", fail)
	}
}

func TestRunAdvisoryFailureDoesNotBlock(t *testing.T) {
	runner := newFakeRunner()
	runner.set("run-spell", exec.Result{Output: []byte("misspelling found"), Err: errors.New("exit 1")})
	v := NewVerifier(runner, testCommands(), zerolog.Nop())

	report, err := v.Run(context.Background(), "/ws", 1)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !report.Passed {
		t.Error("advisory failure must not block")
	}
	if cats := report.Categories(); len(cats) != 1 || cats[0] != "spell" {
		t.Errorf("categories = %v", cats)
	}
}

func TestRunSkipsEmptyCommands(t *testing.T) {
	runner := newFakeRunner()
	cmds := testCommands()
	cmds.Lint = ""
	cmds.Spell = ""
	v := NewVerifier(runner, cmds, zerolog.Nop())

	report, err := v.Run(context.Background(), "/ws", 1)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !report.Passed {
		t.Errorf("report should pass: %+v", report)
	}
	for _, c := range report.Checks {
		if (c.Name == "lint" || c.Name == "spell") && !c.Skipped {
			t.Errorf("%s should be skipped", c.Name)
		}
	}
}

func TestVerificationEnvPrefix(t *testing.T) {
	runner := newFakeRunner()
	v := NewVerifier(runner, testCommands(), zerolog.Nop())

	if _, err := v.Run(context.Background(), "/ws", 1); err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, cmd := range runner.seen() {
		if !strings.HasPrefix(cmd, VerificationEnv+" ") {
			t.Errorf("command missing verification env: %q", cmd)
		}
	}
}
