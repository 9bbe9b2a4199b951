// Package health watches in-progress tasks for stalled workers. A
// worker is stuck when its workspace checkpoint has not been refreshed
// within the stuck threshold. The monitor nudges stuck workers through
// a file in their workspace; it never kills processes it did not spawn.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/undercity/undercity/internal/store"
	"github.com/undercity/undercity/internal/workspace"
	"github.com/undercity/undercity/pkg/models"
)

const (
	// DefaultInterval is how often the monitor sweeps active tasks.
	DefaultInterval = 60 * time.Second
	// DefaultStuckThreshold is the checkpoint age beyond which a
	// worker counts as stuck.
	DefaultStuckThreshold = 300 * time.Second
	// maxRecoveryAttempts bounds nudges per task before the monitor
	// stops intervening and only alerts.
	maxRecoveryAttempts = 2
)

// Nudge is the payload written into a stuck worker's workspace. Workers
// poll for this file and react at their next suspension point.
type Nudge struct {
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason"`
	Attempt   int       `json:"attempt"`
	Message   string    `json:"message"`
}

// StuckReport describes one stuck worker found during a sweep.
type StuckReport struct {
	TaskID  string
	Phase   string
	IdleFor time.Duration
	Attempt int
	// Abandoned is set when the recovery budget is exhausted and the
	// monitor has stopped nudging.
	Abandoned bool
}

// TaskSource supplies the tasks the monitor watches.
type TaskSource interface {
	InProgress() ([]*models.Task, error)
}

// Monitor periodically sweeps in-progress tasks for stale checkpoints.
type Monitor struct {
	tasks          TaskSource
	layout         store.Layout
	interval       time.Duration
	stuckThreshold time.Duration
	clock          func() time.Time
	log            zerolog.Logger

	mu       sync.Mutex
	attempts map[string]int
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithInterval overrides the sweep interval.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) { m.interval = d }
}

// WithStuckThreshold overrides the checkpoint staleness threshold.
func WithStuckThreshold(d time.Duration) Option {
	return func(m *Monitor) { m.stuckThreshold = d }
}

// WithClock overrides the monitor's time source, for tests.
func WithClock(clock func() time.Time) Option {
	return func(m *Monitor) { m.clock = clock }
}

// WithLogger sets the monitor's logger.
func WithLogger(log zerolog.Logger) Option {
	return func(m *Monitor) { m.log = log }
}

// NewMonitor creates a Monitor over the given task source and state
// layout.
func NewMonitor(tasks TaskSource, layout store.Layout, opts ...Option) *Monitor {
	m := &Monitor{
		tasks:          tasks,
		layout:         layout,
		interval:       DefaultInterval,
		stuckThreshold: DefaultStuckThreshold,
		clock:          time.Now,
		log:            zerolog.Nop(),
		attempts:       make(map[string]int),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.With().Str("component", "health").Logger()
	return m
}

// Run sweeps on the configured interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Sweep(); err != nil {
				m.log.Warn().Err(err).Msg("health sweep failed")
			}
		}
	}
}

// Sweep examines every in-progress task once and nudges stuck workers.
// It returns reports for the stuck workers it found.
func (m *Monitor) Sweep() ([]StuckReport, error) {
	active, err := m.tasks.InProgress()
	if err != nil {
		return nil, fmt.Errorf("list active tasks: %w", err)
	}

	now := m.clock()
	var reports []StuckReport
	seen := make(map[string]bool, len(active))
	for _, task := range active {
		seen[task.ID] = true
		idle, phase, ok := m.idleFor(task, now)
		if !ok || idle < m.stuckThreshold {
			m.clearAttempts(task.ID)
			continue
		}
		reports = append(reports, m.handleStuck(task, phase, idle, now))
	}
	m.dropFinished(seen)
	return reports, nil
}

// idleFor computes how long a task's worker has gone without progress.
// The checkpoint's savedAt is authoritative; a workspace without a
// checkpoint falls back to the task's startedAt. ok is false when
// neither signal exists yet.
func (m *Monitor) idleFor(task *models.Task, now time.Time) (time.Duration, string, bool) {
	dir := m.layout.WorktreeDir(task.ID)
	a, err := workspace.LoadAssignment(dir)
	if err == nil && a != nil && a.Checkpoint != nil {
		return now.Sub(a.Checkpoint.SavedAt), a.Checkpoint.Phase, true
	}
	if task.StartedAt != nil {
		return now.Sub(*task.StartedAt), "starting", true
	}
	return 0, "", false
}

func (m *Monitor) handleStuck(task *models.Task, phase string, idle time.Duration, now time.Time) StuckReport {
	m.mu.Lock()
	m.attempts[task.ID]++
	attempt := m.attempts[task.ID]
	m.mu.Unlock()

	report := StuckReport{TaskID: task.ID, Phase: phase, IdleFor: idle, Attempt: attempt}

	if attempt > maxRecoveryAttempts {
		// Out of interventions. Alert loudly, reset the counter so a
		// later stall gets fresh nudges, and leave the process alone.
		m.log.Error().Str("task", task.ID).Str("phase", phase).
			Dur("idle", idle).Int("attempts", attempt-1).
			Msg("worker unrecoverable after repeated nudges")
		m.clearAttempts(task.ID)
		report.Abandoned = true
		return report
	}

	nudge := Nudge{
		Timestamp: now,
		Reason:    fmt.Sprintf("stuck in %s", phase),
		Attempt:   attempt,
		Message:   fmt.Sprintf("no checkpoint progress for %s; save a checkpoint or abort", idle.Round(time.Second)),
	}
	path := m.nudgePath(task.ID)
	if err := store.WriteDocument(path, &nudge); err != nil {
		m.log.Warn().Err(err).Str("task", task.ID).Msg("failed to write nudge")
		return report
	}
	m.log.Warn().Str("task", task.ID).Str("phase", phase).
		Dur("idle", idle).Int("attempt", attempt).
		Msg("worker stuck, nudge written")
	return report
}

func (m *Monitor) nudgePath(taskID string) string {
	return filepath.Join(m.layout.WorktreeDir(taskID), store.NudgeFileName)
}

func (m *Monitor) clearAttempts(taskID string) {
	m.mu.Lock()
	delete(m.attempts, taskID)
	m.mu.Unlock()
}

// LoadNudge reads a nudge from a workspace directory. A missing or
// corrupt nudge file returns nil without error.
func LoadNudge(worktreePath string) (*Nudge, error) {
	data, err := os.ReadFile(filepath.Join(worktreePath, store.NudgeFileName))
	if err != nil {
		return nil, nil
	}
	var n Nudge
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, nil
	}
	return &n, nil
}

// ClearNudge removes the nudge file after a worker has reacted to it.
func ClearNudge(worktreePath string) error {
	err := os.Remove(filepath.Join(worktreePath, store.NudgeFileName))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// dropFinished forgets attempt counters for tasks no longer active.
func (m *Monitor) dropFinished(seen map[string]bool) {
	m.mu.Lock()
	for id := range m.attempts {
		if !seen[id] {
			delete(m.attempts, id)
		}
	}
	m.mu.Unlock()
}
