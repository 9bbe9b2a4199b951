package knowledge

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Guidance is a standing instruction from a human operator, injected
// into every worker prompt while active.
type Guidance struct {
	ID        string
	Content   string
	Active    bool
	CreatedAt time.Time
}

// AddGuidance stores an active guidance note and returns its id.
func (s *Store) AddGuidance(content string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.New().String()
	_, err := s.conn.Exec(`
		INSERT INTO guidance (id, content, created_at) VALUES (?, ?, ?)
	`, id, content, formatTime(time.Now()))
	if err != nil {
		return "", fmt.Errorf("add guidance: %w", err)
	}
	return id, nil
}

// DeactivateGuidance retires a guidance note without deleting it.
func (s *Store) DeactivateGuidance(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.conn.Exec(`UPDATE guidance SET active = 0 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deactivate guidance: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("deactivate guidance: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("guidance %s not found", id)
	}
	return nil
}

// ActiveGuidance returns active notes, oldest first.
func (s *Store) ActiveGuidance() ([]*Guidance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.conn.Query(`
		SELECT id, content, active, created_at FROM guidance
		WHERE active = 1 ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("active guidance: %w", err)
	}
	defer rows.Close()

	var out []*Guidance
	for rows.Next() {
		var g Guidance
		var createdAt string
		var active int
		if err := rows.Scan(&g.ID, &g.Content, &active, &createdAt); err != nil {
			return nil, err
		}
		g.Active = active != 0
		g.CreatedAt, _ = parseTime(createdAt)
		out = append(out, &g)
	}
	return out, rows.Err()
}
