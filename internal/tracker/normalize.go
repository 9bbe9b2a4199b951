// Package tracker records per-worker file access events and detects
// cross-task write conflicts before they reach the merge queue.
package tracker

import (
	"path/filepath"
	"strings"
)

// NormalizePath rewrites a path into its trunk-relative form.
//
// Paths reported by agent tool calls arrive in three shapes: absolute
// paths inside a workspace checkout, absolute paths inside the trunk,
// and already-relative paths. All collapse to the same trunk-relative
// form, and the function is idempotent: normalizing a normalized path
// yields the same path.
func NormalizePath(trunkRoot, worktreePath, path string) string {
	if path == "" {
		return ""
	}

	cleaned := filepath.Clean(path)

	if filepath.IsAbs(cleaned) {
		if worktreePath != "" {
			if rel, ok := relUnder(worktreePath, cleaned); ok {
				return rel
			}
		}
		if rel, ok := relUnder(trunkRoot, cleaned); ok {
			return rel
		}
		// An absolute path outside both roots keeps its base structure
		// stripped of the leading separator; it cannot be mapped better.
		return strings.TrimPrefix(cleaned, string(filepath.Separator))
	}

	// A relative path from inside the workspace maps one-to-one onto the
	// trunk because a workspace mirrors the trunk's layout.
	if worktreePath != "" {
		joined := filepath.Join(worktreePath, cleaned)
		if rel, ok := relUnder(worktreePath, joined); ok {
			return rel
		}
	}
	return cleaned
}

// relUnder returns path relative to root when path is inside root.
func relUnder(root, path string) (string, bool) {
	rel, err := filepath.Rel(filepath.Clean(root), path)
	if err != nil {
		return "", false
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	if rel == "." {
		return "", false
	}
	return rel, true
}
