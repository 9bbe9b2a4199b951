package knowledge

import (
	"database/sql"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Learning is a durable observation from past runs, surfaced into
// worker prompts when relevant.
type Learning struct {
	ID           string
	Topic        string
	Content      string
	Category     string
	UsedCount    int
	SuccessCount int
	CreatedAt    time.Time
}

// SuccessRate is the fraction of uses that led to a successful task.
func (l Learning) SuccessRate() float64 {
	if l.UsedCount == 0 {
		return 0
	}
	return float64(l.SuccessCount) / float64(l.UsedCount)
}

// Confidence scores a learning by how often it has been used and how
// well it has worked. Unused learnings sit at 0.5; heavy successful use
// pushes toward 1, heavy failed use toward 0.
func (l Learning) Confidence() float64 {
	c := 0.5 + 0.1*math.Log(1+float64(l.UsedCount))*(2*l.SuccessRate()-1)
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// AddLearning stores a new learning and returns its id.
func (s *Store) AddLearning(topic, content, category string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.New().String()
	_, err := s.conn.Exec(`
		INSERT INTO learnings (id, topic, content, category, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, id, topic, content, category, formatTime(time.Now()))
	if err != nil {
		return "", fmt.Errorf("add learning: %w", err)
	}
	return id, nil
}

// MarkUsed records that a learning was surfaced to a worker, and
// whether that task succeeded.
func (s *Store) MarkUsed(id string, success bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	successInc := 0
	if success {
		successInc = 1
	}
	result, err := s.conn.Exec(`
		UPDATE learnings
		SET used_count = used_count + 1, success_count = success_count + ?
		WHERE id = ?
	`, successInc, id)
	if err != nil {
		return fmt.Errorf("mark learning used: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark learning used: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("learning %s not found", id)
	}
	return nil
}

// GetLearning fetches one learning by id.
func (s *Store) GetLearning(id string) (*Learning, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.conn.QueryRow(`
		SELECT id, topic, content, category, used_count, success_count, created_at
		FROM learnings WHERE id = ?
	`, id)
	l, err := scanLearning(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("learning %s not found", id)
	}
	return l, err
}

// retrieveLimit caps the learnings surfaced into one prompt.
const retrieveLimit = 5

// Retrieve returns the learnings most relevant to an objective, ranked
// by keyword overlap weighted by confidence, at most retrieveLimit.
func (s *Store) Retrieve(objective string) ([]*Learning, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.conn.Query(`
		SELECT id, topic, content, category, used_count, success_count, created_at
		FROM learnings
	`)
	if err != nil {
		return nil, fmt.Errorf("retrieve learnings: %w", err)
	}
	defer rows.Close()

	keywords := keywordSet(objective)
	type scored struct {
		learning *Learning
		score    float64
	}
	var candidates []scored
	for rows.Next() {
		l, err := scanLearning(rows)
		if err != nil {
			return nil, err
		}
		overlap := keywordOverlap(keywords, keywordSet(l.Topic+" "+l.Content))
		if overlap == 0 {
			continue
		}
		candidates = append(candidates, scored{l, float64(overlap) * (0.5 + l.Confidence())})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("retrieve learnings: %w", err)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})
	if len(candidates) > retrieveLimit {
		candidates = candidates[:retrieveLimit]
	}

	out := make([]*Learning, len(candidates))
	for i, c := range candidates {
		out[i] = c.learning
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLearning(row rowScanner) (*Learning, error) {
	var l Learning
	var createdAt string
	err := row.Scan(&l.ID, &l.Topic, &l.Content, &l.Category,
		&l.UsedCount, &l.SuccessCount, &createdAt)
	if err != nil {
		return nil, err
	}
	l.CreatedAt, _ = parseTime(createdAt)
	return &l, nil
}

// stopwords excluded from keyword matching.
var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "to": true, "of": true,
	"in": true, "on": true, "for": true, "and": true, "or": true,
	"with": true, "is": true, "be": true, "it": true, "this": true,
	"that": true, "all": true, "so": true, "its": true, "by": true,
}

// keywordSet extracts lowercased keywords from text.
func keywordSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,;:()[]{}'\"`!?")
		if len(word) < 3 || stopwords[word] {
			continue
		}
		set[word] = true
	}
	return set
}

func keywordOverlap(a, b map[string]bool) int {
	n := 0
	for word := range a {
		if b[word] {
			n++
		}
	}
	return n
}
