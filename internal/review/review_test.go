package review

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/undercity/undercity/internal/llm"
	"github.com/undercity/undercity/pkg/models"
)

func noReverify(t *testing.T) func(context.Context) (bool, error) {
	t.Helper()
	return func(context.Context) (bool, error) {
		t.Error("reverify called without edits")
		return true, nil
	}
}

func cleanScript() llm.Script {
	return llm.Script{Result: "LGTM", Usage: llm.Usage{InputTokens: 10, OutputTokens: 5}}
}

func TestReviewConvergesWithCleanPasses(t *testing.T) {
	// One clean pass per tier: mid, mid, strong.
	client := llm.NewScriptedClient(cleanScript(), cleanScript(), cleanScript())
	r := New(client, zerolog.Nop())

	result, err := r.Review(context.Background(), "/ws",
		&models.Task{ID: "t1", Objective: "add retries"}, models.TierMid, noReverify(t))
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if !result.Converged {
		t.Error("review should converge")
	}
	if result.Passes != 3 {
		t.Errorf("passes = %d, want 3", result.Passes)
	}
	if result.FinalTier != models.TierStrong {
		t.Errorf("final tier = %s", result.FinalTier)
	}
	if result.Tokens != 45 {
		t.Errorf("tokens = %d", result.Tokens)
	}

	// Each escalation uses its tier's model.
	calls := client.Calls()
	if calls[0].Model != llm.ModelForTier(models.TierMid) {
		t.Errorf("first pass model = %s", calls[0].Model)
	}
	if calls[2].Model != llm.ModelForTier(models.TierStrong) {
		t.Errorf("top pass model = %s", calls[2].Model)
	}
}

func TestReviewEditsForceReverify(t *testing.T) {
	editScript := llm.Script{
		Steps:  []llm.ScriptStep{{Tool: "edit", Input: `{"file_path":"a.go"}`, TouchPath: "a.go"}},
		Result: "fixed a nil check",
	}
	client := llm.NewScriptedClient(editScript, cleanScript(), cleanScript(), cleanScript())
	r := New(client, zerolog.Nop())

	reverified := 0
	result, err := r.Review(context.Background(), "/ws",
		&models.Task{ID: "t1", Objective: "add retries"}, models.TierMid,
		func(context.Context) (bool, error) { reverified++; return true, nil })
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if reverified != 1 {
		t.Errorf("reverify calls = %d, want 1", reverified)
	}
	if !result.Edited {
		t.Error("result should record edits")
	}
	if !result.Converged {
		t.Error("review should still converge after the edit pass")
	}
}

func TestReviewFailedReverifyRecordsTicket(t *testing.T) {
	editScript := llm.Script{
		Steps:  []llm.ScriptStep{{Tool: "edit", Input: `{"file_path":"a.go"}`, TouchPath: "a.go"}},
		Result: "attempted a fix",
	}
	// The edit pass burns pass 1 of the first mid tier; clean passes
	// carry the rest of the ladder.
	client := llm.NewScriptedClient(editScript, cleanScript(), cleanScript(), cleanScript())
	r := New(client, zerolog.Nop())

	result, err := r.Review(context.Background(), "/ws",
		&models.Task{ID: "t1", Objective: "add retries"}, models.TierMid,
		func(context.Context) (bool, error) { return false, nil })
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if len(result.Tickets) != 1 || result.Tickets[0].Priority != PriorityHigh {
		t.Errorf("tickets = %+v", result.Tickets)
	}
}

func TestReviewUnconvergedCollectsTickets(t *testing.T) {
	dirty := llm.Script{Result: "TICKET: security hole in token handling\nstill not right"}
	// Every pass is dirty: 2 + 2 + 6 = 10 passes, never converges.
	scripts := make([]llm.Script, 10)
	for i := range scripts {
		scripts[i] = dirty
	}
	client := llm.NewScriptedClient(scripts...)
	r := New(client, zerolog.Nop())

	result, err := r.Review(context.Background(), "/ws",
		&models.Task{ID: "t1", Objective: "add retries"}, models.TierMid, noReverify(t))
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if result.Converged {
		t.Error("dirty review should not converge")
	}
	if result.Passes != 10 {
		t.Errorf("passes = %d, want 10", result.Passes)
	}
	// Duplicate findings collapse to one ticket.
	if len(result.Tickets) != 1 {
		t.Fatalf("tickets = %+v", result.Tickets)
	}
	if result.Tickets[0].Priority != PriorityHigh {
		t.Errorf("priority = %s", result.Tickets[0].Priority)
	}
}

func TestClassifyPriority(t *testing.T) {
	tests := []struct {
		desc string
		want Priority
	}{
		{"security hole in auth", PriorityHigh},
		{"possible crash on nil receiver", PriorityHigh},
		{"data race in the worker pool", PriorityHigh},
		{"inconsistent naming in helpers", PriorityLow},
		{"style nit in formatting", PriorityLow},
		{"missing pagination on list endpoint", PriorityMedium},
	}
	for _, tt := range tests {
		if got := ClassifyPriority(tt.desc); got != tt.want {
			t.Errorf("ClassifyPriority(%q) = %s, want %s", tt.desc, got, tt.want)
		}
	}
}

func TestParseTickets(t *testing.T) {
	text := `some prose
TICKET: first finding
  TICKET: second finding with style nit
TICKET:
not a ticket line`
	tickets := parseTickets(text)
	if len(tickets) != 2 {
		t.Fatalf("tickets = %+v", tickets)
	}
	if tickets[1].Priority != PriorityLow {
		t.Errorf("second priority = %s", tickets[1].Priority)
	}
}

func TestReviewCheapTierCapsAtMid(t *testing.T) {
	// Cheap-tier work never reaches the strong tier: the ladder
	// truncates to two mid stages.
	client := llm.NewScriptedClient(cleanScript(), cleanScript())
	r := New(client, zerolog.Nop())

	result, err := r.Review(context.Background(), "/ws",
		&models.Task{ID: "t1", Objective: "fix typo"}, models.TierCheap, noReverify(t))
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if !result.Converged {
		t.Error("capped ladder should still converge")
	}
	if result.FinalTier != models.TierMid {
		t.Errorf("final tier = %s, want mid", result.FinalTier)
	}
	for i, call := range client.Calls() {
		if call.Model != llm.ModelForTier(models.TierMid) {
			t.Errorf("pass %d model = %s, want mid model", i, call.Model)
		}
	}
}

func TestLadderFor(t *testing.T) {
	if got := len(ladderFor(models.TierCheap)); got != 2 {
		t.Errorf("cheap ladder length = %d, want 2", got)
	}
	if got := ladderFor(models.TierStrong); got[len(got)-1] != models.TierStrong {
		t.Errorf("strong ladder top = %s, want strong", got[len(got)-1])
	}
}
