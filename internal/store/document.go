package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// WriteDocument atomically replaces the document at path with the JSON
// encoding of v: write a temp sibling, fsync it, then rename over the
// target. Readers never observe a partial document.
func WriteDocument(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	return writeAtomic(path, append(data, '\n'))
}

// ReadDocument reads the JSON document at path into v. A missing,
// truncated, or otherwise corrupt document fails soft: v is left at its
// zero value and no error is returned. Callers that must distinguish
// absence use os.Stat first.
func ReadDocument(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return nil
	}
	return nil
}

// WriteDocumentLocked takes the document's advisory lock, applies fn to
// the freshly loaded document, and atomically persists the result.
// The zero value of T is used when the document does not exist yet.
func WriteDocumentLocked[T any](path string, fn func(*T) error) error {
	lock := NewFileLock(path)
	if err := lock.Acquire(); err != nil {
		return err
	}
	defer func() { _ = lock.Release() }()

	var doc T
	if err := ReadDocument(path, &doc); err != nil {
		return err
	}
	if err := fn(&doc); err != nil {
		return err
	}
	return WriteDocument(path, &doc)
}

// writeAtomic performs the temp-sibling, fsync, rename sequence.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open temp sibling: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write temp sibling: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("fsync temp sibling: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close temp sibling: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename over target: %w", err)
	}
	return nil
}
