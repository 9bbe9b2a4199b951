// Package verify runs a workspace through the project's quality gates.
// Blocking checks (typecheck, lint, test, build) decide pass or fail;
// advisory checks (spell, code health) only annotate the report.
package verify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/undercity/undercity/internal/exec"
	"github.com/undercity/undercity/pkg/models"
)

// VerificationEnv marks commands spawned for verification so project
// scripts can detect the context.
const VerificationEnv = "UNDERCITY_VERIFICATION=true"

// Per-check timeouts.
const (
	typecheckTimeout = 60 * time.Second
	lintTimeout      = 60 * time.Second
	testTimeout      = 120 * time.Second
	buildTimeout     = 120 * time.Second
	formatTimeout    = 30 * time.Second
	advisoryTimeout  = 30 * time.Second
)

// Commands holds the project's check commands. Empty commands are
// skipped.
type Commands struct {
	Typecheck  string
	Lint       string
	Test       string
	Build      string
	Format     string
	Spell      string
	CodeHealth string
}

// CheckResult is the outcome of one check.
type CheckResult struct {
	Name     string
	Kind     models.FailureKind
	Passed   bool
	Blocking bool
	Skipped  bool
	TimedOut bool
	Output   string
	Duration time.Duration
}

// Report aggregates the results of one verification run.
type Report struct {
	Checks       []CheckResult
	ChangedFiles int
	Passed       bool
}

// FirstFailure returns the first failed blocking check, or nil.
func (r *Report) FirstFailure() *CheckResult {
	for i := range r.Checks {
		c := &r.Checks[i]
		if c.Blocking && !c.Passed && !c.Skipped {
			return c
		}
	}
	return nil
}

// FailureKind categorizes the report for retry bookkeeping. A passing
// report with zero changed files is a no_changes failure.
func (r *Report) FailureKind() models.FailureKind {
	if fail := r.FirstFailure(); fail != nil {
		return fail.Kind
	}
	if r.ChangedFiles == 0 {
		return models.FailureNoChanges
	}
	return ""
}

// Categories lists the failed check names, for attempt records.
func (r *Report) Categories() []string {
	var out []string
	for _, c := range r.Checks {
		if !c.Passed && !c.Skipped {
			out = append(out, c.Name)
		}
	}
	return out
}

// Verifier runs the quality gates against a workspace.
type Verifier struct {
	runner exec.CommandRunner
	cmds   Commands
	log    zerolog.Logger
}

// NewVerifier creates a Verifier with the given project commands.
func NewVerifier(runner exec.CommandRunner, cmds Commands, log zerolog.Logger) *Verifier {
	return &Verifier{
		runner: runner,
		cmds:   cmds,
		log:    log.With().Str("component", "verify").Logger(),
	}
}

// Run verifies a workspace. changedFiles is the number of modified
// files; a run with zero changes never passes. Fast blocking checks run
// in parallel, the build runs after they pass, and advisory checks run
// last without affecting the outcome.
func (v *Verifier) Run(ctx context.Context, workDir string, changedFiles int) (*Report, error) {
	report := &Report{ChangedFiles: changedFiles}

	// Typecheck, lint, and test are independent; run them together.
	parallel := []struct {
		name    string
		kind    models.FailureKind
		command string
		timeout time.Duration
	}{
		{"typecheck", models.FailureTypecheck, v.cmds.Typecheck, typecheckTimeout},
		{"lint", models.FailureLint, v.cmds.Lint, lintTimeout},
		{"test", models.FailureTest, v.cmds.Test, testTimeout},
	}

	results := make([]CheckResult, len(parallel))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for i, check := range parallel {
		g.Go(func() error {
			res := v.runCheck(gctx, workDir, check.name, check.kind, check.command, check.timeout, true)
			mu.Lock()
			results[i] = res
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	report.Checks = append(report.Checks, results...)

	blockingOK := report.FirstFailure() == nil

	// The build only runs when the fast gates pass.
	if blockingOK {
		build := v.runCheck(ctx, workDir, "build", models.FailureBuild, v.cmds.Build, buildTimeout, true)
		report.Checks = append(report.Checks, build)
		blockingOK = report.FirstFailure() == nil
	}

	// Advisory checks never block.
	report.Checks = append(report.Checks,
		v.runCheck(ctx, workDir, "spell", models.FailureSpell, v.cmds.Spell, advisoryTimeout, false),
		v.runCheck(ctx, workDir, "code-health", models.FailureUnknown, v.cmds.CodeHealth, advisoryTimeout, false),
	)

	report.Passed = blockingOK && changedFiles > 0
	v.log.Debug().Bool("passed", report.Passed).Int("changedFiles", changedFiles).
		Strs("failed", report.Categories()).Msg("verification finished")
	return report, nil
}

// Typecheck runs only the typecheck command. Used for trunk baselines
// where the full verification suite would be wasted.
func (v *Verifier) Typecheck(ctx context.Context, workDir string) CheckResult {
	return v.runCheck(ctx, workDir, "typecheck", models.FailureTypecheck, v.cmds.Typecheck, typecheckTimeout, true)
}

// Commands returns the verifier's configured project commands.
func (v *Verifier) Commands() Commands { return v.cmds }

// runCheck executes one command with its timeout. A timeout counts as
// a failed check, not an error.
func (v *Verifier) runCheck(ctx context.Context, workDir, name string, kind models.FailureKind,
	command string, timeout time.Duration, blocking bool) CheckResult {

	if command == "" {
		return CheckResult{Name: name, Kind: kind, Passed: true, Blocking: blocking, Skipped: true}
	}

	res := v.runner.RunWithTimeout(ctx, workDir, VerificationEnv+" "+command, timeout)
	out := strings.TrimSpace(string(res.Output))
	check := CheckResult{
		Name:     name,
		Kind:     kind,
		Blocking: blocking,
		TimedOut: res.TimedOut,
		Output:   out,
		Duration: res.Duration,
		Passed:   res.Ok() && !res.TimedOut,
	}
	if check.TimedOut {
		check.Output = fmt.Sprintf("timed out after %v\n%s", timeout, out)
	}
	return check
}
