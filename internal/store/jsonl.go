package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// AppendLog is an append-only newline-delimited JSON log.
// Past lines are never rewritten.
type AppendLog struct {
	path string
	mu   sync.Mutex
}

// NewAppendLog creates an AppendLog at the given path.
func NewAppendLog(path string) *AppendLog {
	return &AppendLog{path: path}
}

// Path returns the log file path.
func (l *AppendLog) Path() string { return l.path }

// Append serializes v as one JSON line and appends it to the log.
func (l *AppendLog) Append(v interface{}) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal log record: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append log record: %w", err)
	}
	return f.Sync()
}

// ReadAll decodes every parseable line into fresh values produced by
// newv and passes them to visit. Malformed lines are skipped; a log
// truncated by a crash still yields every complete record.
func (l *AppendLog) ReadAll(newv func() interface{}, visit func(v interface{})) error {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open log: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		v := newv()
		if err := json.Unmarshal(line, v); err != nil {
			continue
		}
		visit(v)
	}
	return scanner.Err()
}
