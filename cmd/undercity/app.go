package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/undercity/undercity/internal/board"
	"github.com/undercity/undercity/internal/config"
	"github.com/undercity/undercity/internal/decompose"
	"github.com/undercity/undercity/internal/exec"
	"github.com/undercity/undercity/internal/git"
	"github.com/undercity/undercity/internal/health"
	"github.com/undercity/undercity/internal/knowledge"
	"github.com/undercity/undercity/internal/llm"
	"github.com/undercity/undercity/internal/mergequeue"
	"github.com/undercity/undercity/internal/metrics"
	"github.com/undercity/undercity/internal/orchestrator"
	"github.com/undercity/undercity/internal/review"
	"github.com/undercity/undercity/internal/store"
	"github.com/undercity/undercity/internal/tracker"
	"github.com/undercity/undercity/internal/verify"
	"github.com/undercity/undercity/internal/worker"
	"github.com/undercity/undercity/internal/workspace"
	"github.com/undercity/undercity/pkg/models"
)

// app holds the lazily-wired pieces every command starts from.
type app struct {
	cfg      *config.Config
	repoPath string
	layout   store.Layout
	log      zerolog.Logger

	board   *board.Board
	metrics *metrics.Recorder
}

// newApp loads configuration and opens the board-level state. The
// heavier run stack is wired separately by newRunStack.
func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errConfig, err)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("get working directory: %w", err)
	}
	repoPath, err := repoRoot(cwd)
	if err != nil {
		return nil, err
	}

	layout := store.NewLayout(repoPath)
	if cfg.Run.StateDir != "" {
		layout = store.NewLayoutAt(cfg.Run.StateDir)
	}
	if err := os.MkdirAll(layout.Root(), 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	log := newLogger()
	return &app{
		cfg:      cfg,
		repoPath: repoPath,
		layout:   layout,
		log:      log,
		board:    board.New(layout.TasksFile(), board.WithLogger(log)),
		metrics:  metrics.NewRecorder(layout.MetricsFile()),
	}, nil
}

// repoRoot resolves the enclosing git repository's top level.
func repoRoot(dir string) (string, error) {
	out, err := git.NewRunner(dir).Run("rev-parse", "--show-toplevel")
	if err != nil {
		return "", fmt.Errorf("not inside a git repository: %w", err)
	}
	return strings.TrimSpace(out), nil
}

func newLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	if os.Getenv("UNDERCITY_DEBUG") != "" {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}).Level(level).With().Timestamp().Logger()
}

// runStack is the full orchestration wiring behind orchestrate and work.
type runStack struct {
	orch      *orchestrator.Orchestrator
	knowledge *knowledge.Store
	queue     *mergequeue.Queue
}

// Close releases resources held by the stack.
func (s *runStack) Close() {
	if s.knowledge != nil {
		_ = s.knowledge.Close()
	}
}

// newRunStack wires every collaborator the orchestrator needs.
// maxConcurrent and maxTasks of zero keep the configured defaults.
func (a *app) newRunStack(maxConcurrent, maxTasks int) (*runStack, error) {
	client, err := llm.NewAnthropicClient(llm.AnthropicConfig{
		APIKey: a.cfg.Anthropic.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errConfig, err)
	}

	know, err := knowledge.Open(a.layout.KnowledgeDB())
	if err != nil {
		return nil, fmt.Errorf("open knowledge db: %w", err)
	}

	trunkGit := git.NewRunner(a.repoPath)
	cmdRunner := exec.NewRunner()
	verifier := verify.NewVerifier(cmdRunner, verify.Commands{
		Typecheck:  a.cfg.Commands.Typecheck,
		Lint:       a.cfg.Commands.Lint,
		Test:       a.cfg.Commands.Test,
		Build:      a.cfg.Commands.Build,
		Format:     a.cfg.Commands.Format,
		Spell:      a.cfg.Commands.Spell,
		CodeHealth: a.cfg.Commands.CodeHealth,
	}, a.log)

	workspaces, err := workspace.NewManager(a.layout, trunkGit, a.log)
	if err != nil {
		know.Close()
		return nil, fmt.Errorf("workspace manager: %w", err)
	}

	track := tracker.New(a.repoPath, tracker.WithLogger(a.log))
	monitor := health.NewMonitor(a.board, a.layout,
		health.WithInterval(a.cfg.Health.Interval),
		health.WithStuckThreshold(a.cfg.Health.StuckThreshold),
		health.WithLogger(a.log))

	verifyTrunk := func(ctx context.Context) (bool, string, error) {
		report, err := verifier.Run(ctx, a.repoPath, 1)
		if err != nil {
			return false, "", err
		}
		if report.Passed {
			return true, "", nil
		}
		detail := "verification failed"
		if f := report.FirstFailure(); f != nil {
			detail = fmt.Sprintf("%s failed: %s", f.Name, f.Output)
		}
		return false, detail, nil
	}

	workerDeps := worker.Deps{
		Client:    client,
		Runner:    cmdRunner,
		Board:     a.board,
		Tracker:   track,
		Knowledge: know,
		Verifier:  verifier,
		Reviewer:  review.New(client, a.log),
		Decompose: decompose.New(client, llm.ModelForTier(models.TierMid), a.log),
		Baseline:  store.NewBaselineCache(a.layout.BaselineCache()),
		TrunkGit:  trunkGit,
		Log:       a.log,
	}

	if maxConcurrent <= 0 {
		maxConcurrent = a.cfg.Run.MaxConcurrent
	}
	orch := orchestrator.New(orchestrator.Config{
		MaxConcurrent:        maxConcurrent,
		MaxTasks:             maxTasks,
		KeepFailedWorkspaces: a.cfg.Run.KeepFailedWorkspaces,
		DefaultBranch:        a.cfg.Git.DefaultBranch,
	}, orchestrator.Deps{
		Board:      a.board,
		Workspaces: workspaces,
		Tracker:    track,
		Health:     monitor,
		Metrics:    a.metrics,
		WorkerDeps: workerDeps,
		Log:        a.log,
	})

	queue := mergequeue.New(a.layout.MergeQueueFile(), trunkGit,
		a.cfg.Git.DefaultBranch, verifyTrunk,
		mergequeue.WithLogger(a.log),
		mergequeue.WithOnMerged(orch.OnMerged))
	orch.SetQueue(queue)

	return &runStack{orch: orch, knowledge: know, queue: queue}, nil
}
