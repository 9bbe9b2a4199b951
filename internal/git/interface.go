// Package git provides an interface for git operations.
package git

// BranchOperations defines the interface for git branch operations.
type BranchOperations interface {
	// CurrentBranch returns the name of the current branch.
	CurrentBranch() (string, error)
	// CheckoutBranch switches to the specified branch.
	CheckoutBranch(name string) error
	// BranchExists returns true if the branch exists.
	BranchExists(name string) (bool, error)
	// DeleteBranch deletes the specified branch (force delete).
	DeleteBranch(name string) error
}

// DiffOperations defines the interface for git diff and status operations.
type DiffOperations interface {
	// Status returns the output of git status --porcelain.
	Status() (string, error)
	// HasChanges returns true if there are uncommitted changes.
	HasChanges() (bool, error)
	// DiffStat returns the output of git diff --stat against a base ref.
	DiffStat(base string) (string, error)
	// Diff returns the diff between the current state and the given base.
	Diff(base string) (string, error)
	// ChangedFiles returns a list of files changed since the base ref.
	ChangedFiles(base string) ([]string, error)
	// UntrackedFiles returns paths of untracked files.
	UntrackedFiles() ([]string, error)
	// ConflictedFiles returns a list of files with unmerged changes.
	ConflictedFiles() ([]string, error)
}

// CommitOperations defines the interface for git commit operations.
type CommitOperations interface {
	// AddAll stages all changes including untracked files.
	AddAll() error
	// Commit creates a new commit with the given message.
	Commit(message string) error
	// Head returns the commit id of HEAD.
	Head() (string, error)
	// RecentSubjects returns the subjects of the most recent n commits.
	RecentSubjects(n int) ([]string, error)
	// LogOneline returns git log --oneline limited to n entries.
	LogOneline(n int) (string, error)
}

// MergeOperations defines the interface for git merge operations.
type MergeOperations interface {
	// MergeNoFF merges the specified branch creating a merge commit (--no-ff).
	MergeNoFF(branch, message string) error
	// MergeAbort aborts an in-progress merge.
	MergeAbort() error
	// HasConflicts returns true if there are merge conflicts.
	HasConflicts() (bool, error)
	// ResetHard resets the working tree and HEAD to the given ref.
	ResetHard(ref string) error
}

// WorktreeOperations defines the interface for git worktree operations.
type WorktreeOperations interface {
	// WorktreeAddAtCommit creates a worktree on a new branch rooted at commit.
	WorktreeAddAtCommit(path, branch, commit string) error
	// WorktreeRemove removes the worktree at the given path, optionally forced.
	WorktreeRemove(path string, force bool) error
	// WorktreeListPorcelain returns the raw porcelain output for parsing.
	WorktreeListPorcelain() (string, error)
	// WorktreePrune removes stale worktree entries immediately.
	WorktreePrune() error
}

// Runner defines the complete interface for git operations.
// Consumers should prefer the focused interfaces when possible.
type Runner interface {
	BranchOperations
	DiffOperations
	CommitOperations
	MergeOperations
	WorktreeOperations
	// RepoPath returns the repository path this runner operates on.
	RepoPath() string
	// Run executes an arbitrary git command with the given arguments.
	Run(args ...string) (string, error)
}
