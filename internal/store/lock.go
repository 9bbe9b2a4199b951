package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrStaleLockOrContention indicates lock acquisition failed after the
// full backoff budget was spent.
var ErrStaleLockOrContention = errors.New("store: lock held by another writer after max retries")

// lockStaleAfter is how old a lock may be before it is reclaimed even
// when its owning pid is alive.
const lockStaleAfter = 30 * time.Second

// lockAcquireBudget bounds the total time spent retrying acquisition.
const lockAcquireBudget = 10 * time.Second

// lockInfo is the JSON content of a lock sibling file.
type lockInfo struct {
	PID       int       `json:"pid"`
	Timestamp time.Time `json:"timestamp"`
}

// FileLock is an advisory lock implemented as a sibling file recording
// the owning pid and acquisition time.
type FileLock struct {
	path string
	pid  int
}

// NewFileLock creates a lock guarding the given document path.
// The lock file is the document path with a ".lock" suffix.
func NewFileLock(docPath string) *FileLock {
	return &FileLock{path: docPath + ".lock", pid: os.Getpid()}
}

// Path returns the lock file path.
func (l *FileLock) Path() string { return l.path }

// Acquire attempts to take the lock, retrying with truncated exponential
// backoff for up to about ten seconds. A lock older than thirty seconds,
// or whose pid is dead, is considered stale and reclaimed.
func (l *FileLock) Acquire() error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 25 * time.Millisecond
	bo.MaxInterval = time.Second
	bo.MaxElapsedTime = lockAcquireBudget

	err := backoff.Retry(func() error {
		return l.tryAcquire()
	}, bo)
	if err != nil {
		return ErrStaleLockOrContention
	}
	return nil
}

// tryAcquire makes a single attempt at taking the lock.
func (l *FileLock) tryAcquire() error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err == nil {
		info := lockInfo{PID: l.pid, Timestamp: time.Now()}
		data, _ := json.Marshal(info)
		if _, werr := f.Write(data); werr != nil {
			f.Close()
			os.Remove(l.path)
			return fmt.Errorf("write lock info: %w", werr)
		}
		return f.Close()
	}
	if !os.IsExist(err) {
		return fmt.Errorf("create lock: %w", err)
	}

	// The lock exists. Reclaim it if it is stale; otherwise keep retrying.
	if l.isStale() {
		_ = os.Remove(l.path)
	}
	return fmt.Errorf("lock held: %s", l.path)
}

// isStale reports whether the current lock file may be reclaimed.
// Unparseable lock files count as stale; they cannot identify an owner.
func (l *FileLock) isStale() bool {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return false
	}
	var info lockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return true
	}
	if time.Since(info.Timestamp) > lockStaleAfter {
		return true
	}
	return !pidAlive(info.PID)
}

// Release deletes the lock sibling, but only if it still belongs to the
// current pid. A lock reclaimed by another process is left alone.
func (l *FileLock) Release() error {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read lock for release: %w", err)
	}
	var info lockInfo
	if err := json.Unmarshal(data, &info); err == nil && info.PID != l.pid {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove lock: %w", err)
	}
	return nil
}

// pidAlive reports whether a process with the given pid exists.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Signal 0 probes for existence without delivering a signal.
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM)
}
