package knowledge

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/undercity/undercity/pkg/models"
)

// ErrorPattern pairs a recurring verification failure with its known fix.
type ErrorPattern struct {
	ID        string
	Category  string
	Pattern   string
	Fix       string
	HitCount  int
	CreatedAt time.Time
}

// RecordErrorPattern stores a failure pattern, incrementing the hit
// count when the same category and pattern are already known.
func (s *Store) RecordErrorPattern(category, pattern, fix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.conn.Exec(`
		INSERT INTO error_patterns (id, category, pattern, fix, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(category, pattern) DO UPDATE SET hit_count = hit_count + 1
	`, uuid.New().String(), category, pattern, fix, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("record error pattern: %w", err)
	}
	return nil
}

// TopErrorPatterns returns the most frequently hit patterns, for
// inlining into worker prompts as standing rules.
func (s *Store) TopErrorPatterns(limit int) ([]*ErrorPattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.conn.Query(`
		SELECT id, category, pattern, fix, hit_count, created_at
		FROM error_patterns
		ORDER BY hit_count DESC, created_at ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("top error patterns: %w", err)
	}
	defer rows.Close()

	var out []*ErrorPattern
	for rows.Next() {
		var p ErrorPattern
		var createdAt string
		if err := rows.Scan(&p.ID, &p.Category, &p.Pattern, &p.Fix, &p.HitCount, &createdAt); err != nil {
			return nil, err
		}
		p.CreatedAt, _ = parseTime(createdAt)
		out = append(out, &p)
	}
	return out, rows.Err()
}

// InlineRules renders the top error patterns as prompt rules.
func (s *Store) InlineRules(limit int) (string, error) {
	patterns, err := s.TopErrorPatterns(limit)
	if err != nil {
		return "", err
	}
	if len(patterns) == 0 {
		return "", nil
	}
	var b strings.Builder
	for _, p := range patterns {
		fmt.Fprintf(&b, "- [%s] %s: %s\n", p.Category, p.Pattern, p.Fix)
	}
	return b.String(), nil
}

// permanentFailureThreshold is how many distinct tasks must hit a
// signature before it is treated as permanently failing.
const permanentFailureThreshold = 2

// FailureSignature summarizes an objective for permanent-failure
// matching: its sorted keyword set joined with spaces.
func FailureSignature(objective string) string {
	set := keywordSet(objective)
	words := make([]string, 0, len(set))
	for w := range set {
		words = append(words, w)
	}
	sort.Strings(words)
	return strings.Join(words, " ")
}

// RecordFailure associates a task with a failure signature.
func (s *Store) RecordFailure(signature, taskID string, kind models.FailureKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.conn.Exec(`
		INSERT INTO failure_signatures (signature, task_id, kind, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(signature, task_id) DO UPDATE SET kind = excluded.kind
	`, signature, taskID, string(kind), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("record failure: %w", err)
	}
	return nil
}

// IsPermanentFailure reports whether a signature has failed across
// enough distinct tasks to be skipped without another attempt. Active
// operator guidance suspends the verdict: a fresh note may change the
// outcome, so the signature earns another try while any note stands.
func (s *Store) IsPermanentFailure(signature string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	row := s.conn.QueryRow(`
		SELECT COUNT(DISTINCT task_id) FROM failure_signatures WHERE signature = ?
	`, signature)
	if err := row.Scan(&count); err != nil {
		return false, fmt.Errorf("check permanent failure: %w", err)
	}
	if count < permanentFailureThreshold {
		return false, nil
	}

	var guided int
	row = s.conn.QueryRow(`SELECT COUNT(*) FROM guidance WHERE active = 1`)
	if err := row.Scan(&guided); err != nil {
		return false, fmt.Errorf("check permanent failure: %w", err)
	}
	return guided == 0, nil
}
