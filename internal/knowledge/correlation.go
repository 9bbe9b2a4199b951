package knowledge

import (
	"fmt"
	"sort"
	"time"
)

// FileHint predicts a file is relevant to an objective, with the number
// of past tasks supporting the prediction.
type FileHint struct {
	File    string
	Support int
}

// RecordTaskFiles associates a completed task's objective with the
// files it modified, feeding the correlation oracle.
func (s *Store) RecordTaskFiles(taskID, objective string, files []string) error {
	if len(files) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("record task files: %w", err)
	}
	now := formatTime(time.Now())
	for _, file := range files {
		if _, err := tx.Exec(`
			INSERT INTO task_files (task_id, objective, file, created_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(task_id, file) DO NOTHING
		`, taskID, objective, file, now); err != nil {
			tx.Rollback()
			return fmt.Errorf("record task files: %w", err)
		}
	}
	return tx.Commit()
}

// FindRelevantFiles predicts which files a new objective is likely to
// touch, based on keyword overlap with past tasks. Results are ordered
// by supporting task count, strongest first.
func (s *Store) FindRelevantFiles(objective string, limit int) ([]FileHint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.conn.Query(`SELECT DISTINCT task_id, objective FROM task_files`)
	if err != nil {
		return nil, fmt.Errorf("find relevant files: %w", err)
	}

	keywords := keywordSet(objective)
	var matchingTasks []string
	for rows.Next() {
		var taskID, pastObjective string
		if err := rows.Scan(&taskID, &pastObjective); err != nil {
			rows.Close()
			return nil, err
		}
		if keywordOverlap(keywords, keywordSet(pastObjective)) >= 2 {
			matchingTasks = append(matchingTasks, taskID)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	support := make(map[string]int)
	for _, taskID := range matchingTasks {
		fileRows, err := s.conn.Query(`SELECT file FROM task_files WHERE task_id = ?`, taskID)
		if err != nil {
			return nil, fmt.Errorf("find relevant files: %w", err)
		}
		for fileRows.Next() {
			var file string
			if err := fileRows.Scan(&file); err != nil {
				fileRows.Close()
				return nil, err
			}
			support[file]++
		}
		if err := fileRows.Err(); err != nil {
			fileRows.Close()
			return nil, err
		}
		fileRows.Close()
	}

	hints := make([]FileHint, 0, len(support))
	for file, n := range support {
		hints = append(hints, FileHint{File: file, Support: n})
	}
	sort.Slice(hints, func(i, j int) bool {
		if hints[i].Support != hints[j].Support {
			return hints[i].Support > hints[j].Support
		}
		return hints[i].File < hints[j].File
	})
	if limit > 0 && len(hints) > limit {
		hints = hints[:limit]
	}
	return hints, nil
}

// CoModifiedWith returns files that have changed together with the
// given file in past tasks, ordered by co-occurrence count.
func (s *Store) CoModifiedWith(file string, limit int) ([]FileHint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.conn.Query(`
		SELECT other.file, COUNT(*) AS n
		FROM task_files AS target
		JOIN task_files AS other
		  ON other.task_id = target.task_id AND other.file != target.file
		WHERE target.file = ?
		GROUP BY other.file
		ORDER BY n DESC, other.file ASC
		LIMIT ?
	`, file, limit)
	if err != nil {
		return nil, fmt.Errorf("co-modified files: %w", err)
	}
	defer rows.Close()

	var hints []FileHint
	for rows.Next() {
		var h FileHint
		if err := rows.Scan(&h.File, &h.Support); err != nil {
			return nil, err
		}
		hints = append(hints, h)
	}
	return hints, rows.Err()
}
