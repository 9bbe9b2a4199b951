// Package metrics records per-task outcomes in an append-only JSONL
// log under the state directory.
package metrics

import (
	"fmt"

	"github.com/undercity/undercity/internal/store"
	"github.com/undercity/undercity/pkg/models"
)

// Recorder appends task outcome records to the metrics log.
type Recorder struct {
	log *store.AppendLog
}

// NewRecorder creates a Recorder writing to the given path.
func NewRecorder(path string) *Recorder {
	return &Recorder{log: store.NewAppendLog(path)}
}

// Record appends one metrics record.
func (r *Recorder) Record(rec models.MetricsRecord) error {
	if err := r.log.Append(rec); err != nil {
		return fmt.Errorf("record metrics: %w", err)
	}
	return nil
}

// ReadAll returns every parseable record in write order.
func (r *Recorder) ReadAll() ([]models.MetricsRecord, error) {
	var out []models.MetricsRecord
	err := r.log.ReadAll(
		func() interface{} { return &models.MetricsRecord{} },
		func(v interface{}) { out = append(out, *v.(*models.MetricsRecord)) },
	)
	if err != nil {
		return nil, fmt.Errorf("read metrics: %w", err)
	}
	return out, nil
}

// Summary aggregates the metrics log.
type Summary struct {
	Total       int
	Succeeded   int
	Failed      int
	Escalated   int
	TotalTokens int64
}

// SuccessRate is the fraction of recorded tasks that succeeded.
func (s Summary) SuccessRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Succeeded) / float64(s.Total)
}

// Summarize reads the log and aggregates it.
func (r *Recorder) Summarize() (Summary, error) {
	records, err := r.ReadAll()
	if err != nil {
		return Summary{}, err
	}
	var s Summary
	for _, rec := range records {
		s.Total++
		if rec.Success {
			s.Succeeded++
		} else {
			s.Failed++
		}
		if rec.WasEscalated {
			s.Escalated++
		}
		s.TotalTokens += rec.TotalTokens
	}
	return s, nil
}
