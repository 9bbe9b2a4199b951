// Package workspace manages per-task git worktree sandboxes.
// Each task gets an isolated worktree under the state directory with its
// own branch, so workers never touch the trunk checkout directly.
package workspace

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/undercity/undercity/internal/git"
	"github.com/undercity/undercity/internal/store"
)

// BranchPrefix is the namespace for task branches.
const BranchPrefix = "undercity/"

// BranchForTask returns the branch name used for a task's workspace.
func BranchForTask(taskID string) string {
	return BranchPrefix + taskID
}

// Workspace is one task's isolated worktree.
type Workspace struct {
	TaskID     string
	Path       string
	Branch     string
	BaseCommit string
	CreatedAt  time.Time
	Assignment *Assignment
}

// Manager creates, destroys, and rehydrates task workspaces.
type Manager struct {
	layout store.Layout
	git    git.Runner
	log    zerolog.Logger
	mu     sync.Mutex
}

// NewManager creates a workspace manager rooted at the repository's state
// directory.
func NewManager(layout store.Layout, runner git.Runner, log zerolog.Logger) (*Manager, error) {
	if err := os.MkdirAll(layout.WorktreesDir(), 0o755); err != nil {
		return nil, fmt.Errorf("create worktrees directory: %w", err)
	}
	return &Manager{
		layout: layout,
		git:    runner,
		log:    log.With().Str("component", "workspace").Logger(),
	}, nil
}

// Create makes a fresh worktree for the task, branched from the current
// trunk HEAD, and writes its assignment file.
func (m *Manager) Create(taskID, workerName string) (*Workspace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	base, err := m.git.Head()
	if err != nil {
		return nil, fmt.Errorf("resolve base commit: %w", err)
	}

	branch := BranchForTask(taskID)
	path := m.layout.WorktreeDir(taskID)

	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("workspace for task %s already exists at %s", taskID, path)
	}

	if err := m.git.WorktreeAddAtCommit(path, branch, base); err != nil {
		return nil, fmt.Errorf("create worktree: %w", err)
	}

	ws := &Workspace{
		TaskID:     taskID,
		Path:       path,
		Branch:     branch,
		BaseCommit: base,
		CreatedAt:  time.Now(),
	}
	a := &Assignment{
		TaskID:     taskID,
		WorkerName: workerName,
		BaseCommit: base,
		CreatedAt:  ws.CreatedAt,
	}
	if err := SaveAssignment(path, a); err != nil {
		_ = m.git.WorktreeRemove(path, true)
		return nil, err
	}
	ws.Assignment = a

	m.log.Debug().Str("task", taskID).Str("branch", branch).Str("base", base).
		Msg("workspace created")
	return ws, nil
}

// Destroy removes a task's worktree. With keep set, the worktree and its
// branch are left in place for inspection and only a warning is logged.
func (m *Manager) Destroy(taskID string, keep bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	path := m.layout.WorktreeDir(taskID)
	if keep {
		m.log.Warn().Str("task", taskID).Str("path", path).
			Msg("keeping workspace for inspection")
		return nil
	}

	if err := m.git.WorktreeRemove(path, true); err != nil {
		// Git may have lost track of it. Fall back to removing the
		// directory and pruning references.
		if rmErr := os.RemoveAll(path); rmErr != nil {
			return fmt.Errorf("remove worktree: %w", err)
		}
	}
	_ = m.git.WorktreePrune()

	m.log.Debug().Str("task", taskID).Msg("workspace destroyed")
	return nil
}

// ListActive returns workspaces that exist on disk with a valid assignment.
func (m *Manager) ListActive() ([]*Workspace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listActiveLocked()
}

func (m *Manager) listActiveLocked() ([]*Workspace, error) {
	entries, err := os.ReadDir(m.layout.WorktreesDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read worktrees directory: %w", err)
	}

	var active []*Workspace
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(m.layout.WorktreesDir(), entry.Name())
		a, err := LoadAssignment(path)
		if err != nil || a == nil {
			continue
		}
		info, _ := entry.Info()
		createdAt := a.CreatedAt
		if createdAt.IsZero() && info != nil {
			createdAt = info.ModTime()
		}
		active = append(active, &Workspace{
			TaskID:     a.TaskID,
			Path:       path,
			Branch:     BranchForTask(a.TaskID),
			BaseCommit: a.BaseCommit,
			CreatedAt:  createdAt,
			Assignment: a,
		})
	}
	return active, nil
}

// Rehydrate returns the existing workspace for a task, or nil if none
// survives on disk. Used at startup to resume interrupted work.
func (m *Manager) Rehydrate(taskID string) (*Workspace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	path := m.layout.WorktreeDir(taskID)
	a, err := LoadAssignment(path)
	if err != nil {
		return nil, err
	}
	if a == nil || a.TaskID != taskID {
		return nil, nil
	}
	return &Workspace{
		TaskID:     taskID,
		Path:       path,
		Branch:     BranchForTask(taskID),
		BaseCommit: a.BaseCommit,
		CreatedAt:  a.CreatedAt,
		Assignment: a,
	}, nil
}

// CleanupOrphans removes worktree directories whose task is not in
// activeTasks. Directories git no longer tracks are removed directly.
// Returns the number of workspaces removed.
func (m *Manager) CleanupOrphans(activeTasks []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	activeSet := make(map[string]bool, len(activeTasks))
	for _, id := range activeTasks {
		activeSet[id] = true
	}

	tracked, err := m.trackedWorktreePaths()
	if err != nil {
		return 0, err
	}

	entries, err := os.ReadDir(m.layout.WorktreesDir())
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read worktrees directory: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(m.layout.WorktreesDir(), entry.Name())
		a, _ := LoadAssignment(path)
		if a != nil && activeSet[a.TaskID] {
			continue
		}
		if tracked[path] {
			if err := m.git.WorktreeRemove(path, true); err != nil {
				if rmErr := os.RemoveAll(path); rmErr != nil {
					continue
				}
			}
		} else if err := os.RemoveAll(path); err != nil {
			continue
		}
		m.log.Info().Str("path", path).Msg("removed orphaned workspace")
		removed++
	}

	_ = m.git.WorktreePrune()
	return removed, nil
}

// trackedWorktreePaths parses `git worktree list --porcelain` into a
// path set.
func (m *Manager) trackedWorktreePaths() (map[string]bool, error) {
	output, err := m.git.WorktreeListPorcelain()
	if err != nil {
		return nil, fmt.Errorf("list worktrees: %w", err)
	}
	paths := make(map[string]bool)
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "worktree ") {
			paths[strings.TrimPrefix(line, "worktree ")] = true
		}
	}
	return paths, scanner.Err()
}
