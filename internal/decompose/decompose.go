// Package decompose breaks oversized tasks into smaller subtasks before
// a worker attempts them. The gate runs a read-only model pass; tasks
// below the size heuristics skip it entirely.
package decompose

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/undercity/undercity/internal/llm"
	"github.com/undercity/undercity/internal/router"
	"github.com/undercity/undercity/pkg/models"
)

// Verdict is the outcome of the decomposition gate.
type Verdict string

const (
	// VerdictProceed means the task is workable as-is.
	VerdictProceed Verdict = "proceed"
	// VerdictDecomposed means the task was split into subtasks.
	VerdictDecomposed Verdict = "decomposed"
	// VerdictSkip means the gate did not run for this task.
	VerdictSkip Verdict = "skip"
)

// Subtask is one proposed piece of a decomposed task.
type Subtask struct {
	Objective    string   `json:"objective"`
	PackageHints []string `json:"package_hints,omitempty"`
}

// Outcome is the gate's result for one task.
type Outcome struct {
	Verdict  Verdict
	Subtasks []Subtask
	// Reason explains the verdict for logs.
	Reason string
}

// Subtask count bounds for an acceptable decomposition.
const (
	minSubtasks = 2
	maxSubtasks = 8
)

// estimatedFilesThreshold triggers the gate regardless of assessed
// complexity.
const estimatedFilesThreshold = 6

// Decomposer runs the decomposition gate.
type Decomposer struct {
	client llm.Client
	model  string
	log    zerolog.Logger
}

// New creates a Decomposer using the given model client.
func New(client llm.Client, model string, log zerolog.Logger) *Decomposer {
	return &Decomposer{
		client: client,
		model:  model,
		log:    log.With().Str("component", "decompose").Logger(),
	}
}

// ShouldConsider reports whether a task is large enough for the gate.
// Subtasks are never decomposed again.
func ShouldConsider(t *models.Task) bool {
	if t.ParentID != "" || t.IsDecomposed {
		return false
	}
	if len(t.EstimatedFiles) >= estimatedFilesThreshold {
		return true
	}
	switch router.Assess(t.Objective) {
	case models.ComplexityComplex, models.ComplexityCritical:
		return true
	}
	return false
}

// CheckAndDecompose runs the gate for one task. Tasks below the size
// heuristics return VerdictSkip without a model call. A model pass that
// declines to split, or produces an unusable split, returns
// VerdictProceed.
func (d *Decomposer) CheckAndDecompose(ctx context.Context, t *models.Task) (*Outcome, error) {
	if !ShouldConsider(t) {
		return &Outcome{Verdict: VerdictSkip, Reason: "task below decomposition thresholds"}, nil
	}

	stream, err := d.client.Query(ctx, llm.Request{
		System:  decompositionSystemPrompt,
		Prompt:  buildPrompt(t),
		Model:   d.model,
		Toolset: llm.ToolsetReadOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("decomposition query: %w", err)
	}

	response, err := llm.Drain(stream)
	if err != nil {
		return nil, fmt.Errorf("decomposition stream: %w", err)
	}

	subtasks, err := ParseResponse(response)
	if err != nil {
		d.log.Debug().Str("task", t.ID).Err(err).Msg("unusable decomposition, proceeding")
		return &Outcome{Verdict: VerdictProceed, Reason: "decomposition response unusable"}, nil
	}
	if subtasks == nil {
		return &Outcome{Verdict: VerdictProceed, Reason: "model kept task whole"}, nil
	}

	d.log.Info().Str("task", t.ID).Int("subtasks", len(subtasks)).Msg("task decomposed")
	return &Outcome{Verdict: VerdictDecomposed, Subtasks: subtasks}, nil
}

const decompositionSystemPrompt = `You split oversized code-change tasks into independent subtasks.
Reply with a JSON array of subtasks, each {"objective": "...", "package_hints": ["..."]}.
Subtasks must be ordered so earlier ones never depend on later ones.
If the task is already small enough to do in one sitting, reply with the single word WHOLE.`

// buildPrompt renders the task for the decomposition pass.
func buildPrompt(t *models.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n", t.Objective)
	if len(t.PackageHints) > 0 {
		fmt.Fprintf(&b, "Packages involved: %s\n", strings.Join(t.PackageHints, ", "))
	}
	if len(t.EstimatedFiles) > 0 {
		fmt.Fprintf(&b, "Estimated files: %s\n", strings.Join(t.EstimatedFiles, ", "))
	}
	if len(t.Tags) > 0 {
		fmt.Fprintf(&b, "Tags: %s\n", strings.Join(t.Tags, ", "))
	}
	return b.String()
}

// ParseResponse extracts the subtask list from a model reply. A WHOLE
// reply returns (nil, nil). Replies without a valid subtask array, or
// with a count outside bounds, return an error.
func ParseResponse(response string) ([]Subtask, error) {
	trimmed := strings.TrimSpace(response)
	if strings.EqualFold(strings.Trim(trimmed, "`\" ."), "WHOLE") {
		return nil, nil
	}

	start := strings.Index(trimmed, "[")
	end := strings.LastIndex(trimmed, "]")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no subtask array in response")
	}

	var subtasks []Subtask
	if err := json.Unmarshal([]byte(trimmed[start:end+1]), &subtasks); err != nil {
		return nil, fmt.Errorf("parse subtasks: %w", err)
	}

	var valid []Subtask
	for _, st := range subtasks {
		if strings.TrimSpace(st.Objective) == "" {
			continue
		}
		valid = append(valid, st)
	}
	if len(valid) < minSubtasks || len(valid) > maxSubtasks {
		return nil, fmt.Errorf("unusable subtask count %d", len(valid))
	}
	return valid, nil
}
