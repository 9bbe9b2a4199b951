package workspace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/undercity/undercity/internal/store"
)

// Checkpoint records worker progress inside a workspace so an interrupted
// task can resume instead of restarting.
type Checkpoint struct {
	Phase    string    `json:"phase"`
	SavedAt  time.Time `json:"savedAt"`
	Attempts int       `json:"attempts"`
	Model    string    `json:"model,omitempty"`
}

// Assignment binds a workspace directory to the task it was created for.
// It is written as .assignment.json inside the worktree.
type Assignment struct {
	TaskID     string      `json:"taskId"`
	WorkerName string      `json:"workerName"`
	BaseCommit string      `json:"baseCommit"`
	CreatedAt  time.Time   `json:"createdAt"`
	Checkpoint *Checkpoint `json:"checkpoint,omitempty"`
}

// assignmentPath returns the assignment file location inside a worktree.
func assignmentPath(worktreePath string) string {
	return filepath.Join(worktreePath, store.AssignmentFileName)
}

// SaveAssignment writes the assignment file atomically inside the worktree.
func SaveAssignment(worktreePath string, a *Assignment) error {
	if err := store.WriteDocument(assignmentPath(worktreePath), a); err != nil {
		return fmt.Errorf("save assignment: %w", err)
	}
	return nil
}

// LoadAssignment reads the assignment file from a worktree. A missing or
// unreadable file returns nil without error: the workspace is then treated
// as unassigned.
func LoadAssignment(worktreePath string) (*Assignment, error) {
	data, err := os.ReadFile(assignmentPath(worktreePath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read assignment: %w", err)
	}
	var a Assignment
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, nil
	}
	if a.TaskID == "" {
		return nil, nil
	}
	return &a, nil
}

// SaveCheckpoint updates only the checkpoint portion of an assignment.
func SaveCheckpoint(worktreePath string, cp Checkpoint) error {
	a, err := LoadAssignment(worktreePath)
	if err != nil {
		return err
	}
	if a == nil {
		return fmt.Errorf("save checkpoint: no assignment in %s", worktreePath)
	}
	a.Checkpoint = &cp
	return SaveAssignment(worktreePath, a)
}
