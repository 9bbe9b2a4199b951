// Package review runs accepted changes through escalating model review
// passes. A tier is satisfied by one clean pass; review converges when
// the top tier passes clean. Reviewers may edit the workspace, and any
// edit forces re-verification before the next pass.
package review

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/undercity/undercity/internal/llm"
	"github.com/undercity/undercity/pkg/models"
)

// cleanMarker is the token a reviewer emits when no issues remain.
const cleanMarker = "LGTM"

// ticketPrefix marks a finding the reviewer could not fix in place.
const ticketPrefix = "TICKET:"

// passesPerTier is the pass budget at each non-top tier.
const passesPerTier = 2

// reviewTiers is the full escalation ladder. The final entry is the
// top tier, which gets a triple pass budget and rotates focused
// lenses.
var reviewTiers = []models.Tier{models.TierMid, models.TierMid, models.TierStrong}

// topTierLenses focus the top tier's extra passes.
var topTierLenses = []string{"security", "error handling", "correctness", "edge cases"}

// ladderFor truncates the escalation ladder for the task's tier. Work
// done at the cheap tier is reviewed no higher than mid; everything
// else climbs the full ladder.
func ladderFor(taskTier models.Tier) []models.Tier {
	top := models.TierStrong
	if !taskTier.AtLeast(models.TierMid) {
		top = models.TierMid
	}
	out := make([]models.Tier, 0, len(reviewTiers))
	for _, tier := range reviewTiers {
		if tier.Rank() <= top.Rank() {
			out = append(out, tier)
		}
	}
	return out
}

// Priority ranks an unresolved review finding.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Ticket is a finding review could not resolve in place. The caller
// turns tickets into follow-up tasks.
type Ticket struct {
	Description string
	Priority    Priority
}

// Result summarizes one review run.
type Result struct {
	// Converged means the top tier produced a clean pass.
	Converged bool
	// Edited means at least one pass modified the workspace.
	Edited bool
	// Tickets are unresolved findings, deduplicated.
	Tickets []Ticket
	// Passes is the total number of model passes run.
	Passes int
	// Tokens is aggregate token usage across passes.
	Tokens int64
	// FinalTier is the highest tier reached.
	FinalTier models.Tier
}

// Reviewer drives the review ladder.
type Reviewer struct {
	client llm.Client
	log    zerolog.Logger
}

// New creates a Reviewer backed by the given model client.
func New(client llm.Client, log zerolog.Logger) *Reviewer {
	return &Reviewer{
		client: client,
		log:    log.With().Str("component", "review").Logger(),
	}
}

// Review runs the escalation ladder against a workspace. taskTier is
// the tier the change was produced at and caps how high the ladder
// climbs. reverify is called after any pass that edits; a failing
// reverify records a ticket and keeps going. The error return is
// reserved for transport failures; an unconverged review is reported
// through the Result.
func (r *Reviewer) Review(ctx context.Context, workDir string, t *models.Task,
	taskTier models.Tier, reverify func(context.Context) (bool, error)) (*Result, error) {

	result := &Result{}
	seen := make(map[string]bool)
	ladder := ladderFor(taskTier)

	for stage, tier := range ladder {
		result.FinalTier = tier
		top := stage == len(ladder)-1
		budget := passesPerTier
		if top {
			budget = 3 * passesPerTier
		}

		satisfied := false
		for pass := 0; pass < budget; pass++ {
			lens := ""
			if top {
				lens = topTierLenses[pass%len(topTierLenses)]
			}

			clean, edited, tickets, tokens, err := r.runPass(ctx, workDir, t, tier, lens)
			if err != nil {
				return nil, err
			}
			result.Passes++
			result.Tokens += tokens
			for _, ticket := range tickets {
				if !seen[ticket.Description] {
					seen[ticket.Description] = true
					result.Tickets = append(result.Tickets, ticket)
				}
			}

			if edited {
				result.Edited = true
				ok, err := reverify(ctx)
				if err != nil {
					return nil, fmt.Errorf("re-verify after review edits: %w", err)
				}
				if !ok {
					desc := "review edits failed verification; changes need manual attention"
					if !seen[desc] {
						seen[desc] = true
						result.Tickets = append(result.Tickets, Ticket{
							Description: desc,
							Priority:    PriorityHigh,
						})
					}
					continue
				}
			}

			if clean {
				satisfied = true
				break
			}
		}

		if top && satisfied {
			result.Converged = true
		}
		if !satisfied {
			r.log.Debug().Str("task", t.ID).Str("tier", string(tier)).
				Msg("tier exhausted without clean pass, escalating")
		}
	}

	r.log.Info().Str("task", t.ID).Bool("converged", result.Converged).
		Int("passes", result.Passes).Int("tickets", len(result.Tickets)).
		Msg("review finished")
	return result, nil
}

// runPass executes one review pass and classifies its outcome.
func (r *Reviewer) runPass(ctx context.Context, workDir string, t *models.Task,
	tier models.Tier, lens string) (clean, edited bool, tickets []Ticket, tokens int64, err error) {

	mutations := 0
	stream, err := r.client.Query(ctx, llm.Request{
		System:  reviewSystemPrompt(lens),
		Prompt:  buildPrompt(t),
		Model:   llm.ModelForTier(tier),
		WorkDir: workDir,
		Toolset: llm.ToolsetFull,
		Hooks: llm.Hooks{
			OnFileAccess: func(path string, op llm.FileOp) {
				if op != llm.FileOpRead {
					mutations++
				}
			},
		},
	})
	if err != nil {
		return false, false, nil, 0, fmt.Errorf("review query: %w", err)
	}

	text, err := llm.Drain(stream)
	tokens = stream.Usage().Total()
	if err != nil {
		return false, false, nil, tokens, fmt.Errorf("review stream: %w", err)
	}

	edited = mutations > 0
	clean = !edited && strings.Contains(text, cleanMarker)
	tickets = parseTickets(text)
	return clean, edited, tickets, tokens, nil
}

func reviewSystemPrompt(lens string) string {
	base := `You are reviewing a code change before it merges.
Fix small problems directly with the edit tools.
For problems too large to fix here, emit one line per finding starting with "` + ticketPrefix + `".
If the change is acceptable and you made no edits, reply with ` + cleanMarker + `.`
	if lens != "" {
		base += "\nFocus this pass on " + lens + "."
	}
	return base
}

func buildPrompt(t *models.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task under review: %s\n", t.Objective)
	if t.Ticket != nil && t.Ticket.Description != "" {
		fmt.Fprintf(&b, "Details: %s\n", t.Ticket.Description)
	}
	b.WriteString("Inspect the working tree; it already contains the change.\n")
	return b.String()
}

// parseTickets extracts TICKET: findings from reviewer output.
func parseTickets(text string) []Ticket {
	var out []Ticket
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, ticketPrefix) {
			continue
		}
		desc := strings.TrimSpace(strings.TrimPrefix(line, ticketPrefix))
		if desc == "" {
			continue
		}
		out = append(out, Ticket{Description: desc, Priority: ClassifyPriority(desc)})
	}
	return out
}

// ClassifyPriority maps a finding's wording to a priority.
func ClassifyPriority(description string) Priority {
	lower := strings.ToLower(description)
	for _, kw := range []string{"security", "critical", "crash", "data loss", "race"} {
		if strings.Contains(lower, kw) {
			return PriorityHigh
		}
	}
	for _, kw := range []string{"style", "naming", "typo", "formatting", "comment"} {
		if strings.Contains(lower, kw) {
			return PriorityLow
		}
	}
	return PriorityMedium
}
