package decompose

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/undercity/undercity/internal/llm"
	"github.com/undercity/undercity/pkg/models"
)

func TestShouldConsider(t *testing.T) {
	tests := []struct {
		name string
		task models.Task
		want bool
	}{
		{"small task", models.Task{Objective: "fix typo in readme"}, false},
		{"many estimated files", models.Task{
			Objective:      "update config",
			EstimatedFiles: []string{"a", "b", "c", "d", "e", "f"},
		}, true},
		{"complex objective", models.Task{
			Objective: "integrate the distributed event protocol across every service in the entire repository and migrate all consumers",
		}, true},
		{"subtask never reconsidered", models.Task{
			Objective: "integrate the distributed event protocol across every service in the entire repository",
			ParentID:  "parent-1",
		}, false},
		{"already decomposed", models.Task{
			Objective:      "anything",
			EstimatedFiles: []string{"a", "b", "c", "d", "e", "f"},
			IsDecomposed:   true,
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShouldConsider(&tt.task); got != tt.want {
				t.Errorf("ShouldConsider = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCheckAndDecomposeSkipsSmallTasks(t *testing.T) {
	client := llm.NewScriptedClient() // no scripts: a model call would fail
	d := New(client, "mid-model", zerolog.Nop())

	out, err := d.CheckAndDecompose(context.Background(), &models.Task{Objective: "fix typo"})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if out.Verdict != VerdictSkip {
		t.Errorf("verdict = %s, want skip", out.Verdict)
	}
}

func TestCheckAndDecomposeSplits(t *testing.T) {
	client := llm.NewScriptedClient(llm.Script{
		Result: `Here is the split:
[
  {"objective": "extract the event codec into its own package", "package_hints": ["codec"]},
  {"objective": "migrate producers to the new codec", "package_hints": ["producer"]},
  {"objective": "migrate consumers to the new codec", "package_hints": ["consumer"]}
]`,
	})
	d := New(client, "mid-model", zerolog.Nop())

	task := &models.Task{
		ID:             "task-1",
		Objective:      "migrate every service to the new event protocol across the entire repository",
		EstimatedFiles: []string{"a", "b", "c", "d", "e", "f"},
	}
	out, err := d.CheckAndDecompose(context.Background(), task)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if out.Verdict != VerdictDecomposed {
		t.Fatalf("verdict = %s, want decomposed", out.Verdict)
	}
	if len(out.Subtasks) != 3 {
		t.Fatalf("subtasks = %d", len(out.Subtasks))
	}
	if out.Subtasks[0].PackageHints[0] != "codec" {
		t.Errorf("subtask hints = %+v", out.Subtasks[0])
	}
}

func TestCheckAndDecomposeWholeProceeds(t *testing.T) {
	client := llm.NewScriptedClient(llm.Script{Result: "WHOLE"})
	d := New(client, "mid-model", zerolog.Nop())

	task := &models.Task{
		ID:             "task-1",
		Objective:      "tidy up",
		EstimatedFiles: []string{"a", "b", "c", "d", "e", "f"},
	}
	out, err := d.CheckAndDecompose(context.Background(), task)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if out.Verdict != VerdictProceed {
		t.Errorf("verdict = %s, want proceed", out.Verdict)
	}
}

func TestCheckAndDecomposeGarbageProceeds(t *testing.T) {
	client := llm.NewScriptedClient(llm.Script{Result: "I cannot help with that."})
	d := New(client, "mid-model", zerolog.Nop())

	task := &models.Task{
		ID:             "task-1",
		Objective:      "tidy up",
		EstimatedFiles: []string{"a", "b", "c", "d", "e", "f"},
	}
	out, err := d.CheckAndDecompose(context.Background(), task)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if out.Verdict != VerdictProceed {
		t.Errorf("verdict = %s, want proceed", out.Verdict)
	}
}

func TestParseResponseBounds(t *testing.T) {
	if _, err := ParseResponse(`[{"objective": "only one"}]`); err == nil {
		t.Error("single subtask should be rejected")
	}
	if _, err := ParseResponse(`[]`); err == nil {
		t.Error("empty array should be rejected")
	}
	if _, err := ParseResponse(`no json here`); err == nil {
		t.Error("missing array should be rejected")
	}
	// Blank objectives are dropped before the count check.
	subtasks, err := ParseResponse(`[{"objective": "a"}, {"objective": ""}, {"objective": "b"}]`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(subtasks) != 2 {
		t.Errorf("subtasks = %d, want 2", len(subtasks))
	}
}
