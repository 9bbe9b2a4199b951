package store

import (
	"time"
)

// baselineTTL is how long a cached baseline verification stays valid.
const baselineTTL = 24 * time.Hour

// BaselineEntry records a trunk baseline verification result keyed by
// the trunk commit it was taken at.
type BaselineEntry struct {
	// Commit is the trunk commit the baseline was verified at.
	Commit string `json:"commit"`
	// VerifiedAt is when the verification ran.
	VerifiedAt time.Time `json:"verifiedAt"`
	// Passed indicates whether the trunk typecheck passed.
	Passed bool `json:"passed"`
	// Output holds the tail of the verification output for diagnostics.
	Output string `json:"output,omitempty"`
}

// BaselineCache persists the most recent trunk baseline result.
type BaselineCache struct {
	path string
}

// NewBaselineCache creates a cache backed by the given file path.
func NewBaselineCache(path string) *BaselineCache {
	return &BaselineCache{path: path}
}

// Get returns the cached entry if it matches the commit and has not
// expired. The bool result reports a usable hit.
func (c *BaselineCache) Get(commit string) (BaselineEntry, bool) {
	var entry BaselineEntry
	_ = ReadDocument(c.path, &entry)
	if entry.Commit != commit {
		return BaselineEntry{}, false
	}
	if time.Since(entry.VerifiedAt) > baselineTTL {
		return BaselineEntry{}, false
	}
	return entry, true
}

// Put stores a baseline result, replacing any previous entry.
func (c *BaselineCache) Put(entry BaselineEntry) error {
	return WriteDocument(c.path, &entry)
}
