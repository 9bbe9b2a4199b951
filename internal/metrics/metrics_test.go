package metrics

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/undercity/undercity/pkg/models"
)

func TestRecordAndSummarize(t *testing.T) {
	r := NewRecorder(filepath.Join(t.TempDir(), "metrics.jsonl"))

	records := []models.MetricsRecord{
		{TaskID: "t1", Success: true, TotalTokens: 100, StartedAt: time.Now()},
		{TaskID: "t2", Success: false, TotalTokens: 250, WasEscalated: true, Error: "test failed"},
		{TaskID: "t3", Success: true, TotalTokens: 50, WasEscalated: true},
	}
	for _, rec := range records {
		if err := r.Record(rec); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	got, err := r.ReadAll()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("records = %d, want 3", len(got))
	}
	if got[1].TaskID != "t2" || got[1].Error != "test failed" {
		t.Errorf("record[1] = %+v", got[1])
	}

	s, err := r.Summarize()
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if s.Total != 3 || s.Succeeded != 2 || s.Failed != 1 || s.Escalated != 2 {
		t.Errorf("summary = %+v", s)
	}
	if s.TotalTokens != 400 {
		t.Errorf("tokens = %d", s.TotalTokens)
	}
	if rate := s.SuccessRate(); rate < 0.66 || rate > 0.67 {
		t.Errorf("success rate = %v", rate)
	}
}

func TestSummarizeEmptyLog(t *testing.T) {
	r := NewRecorder(filepath.Join(t.TempDir(), "metrics.jsonl"))
	s, err := r.Summarize()
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if s.Total != 0 || s.SuccessRate() != 0 {
		t.Errorf("summary = %+v", s)
	}
}
