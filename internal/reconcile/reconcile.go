// Package reconcile completes board tasks that already landed on trunk.
//
// After manual work, cherry-picks, or a crash between merge and board
// update, trunk can contain commits whose work matches tasks still
// marked pending. Reconcile scans recent commit subjects and completes
// tasks whose objective overlaps a subject strongly enough.
package reconcile

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/undercity/undercity/internal/git"
	"github.com/undercity/undercity/pkg/models"
)

// DefaultLookback is how many trunk commits are scanned by default.
const DefaultLookback = 50

// matchThreshold is the minimum share of objective keywords a commit
// subject must cover. minShared guards short objectives against
// single-word coincidences.
const (
	matchThreshold = 0.6
	minShared      = 2
)

// TaskSource is the slice of the board reconcile needs.
type TaskSource interface {
	List() ([]*models.Task, error)
	MarkComplete(id string) error
}

// Match pairs a pending task with the commit subject that completed it.
type Match struct {
	TaskID    string  `json:"taskId"`
	Objective string  `json:"objective"`
	Subject   string  `json:"subject"`
	Score     float64 `json:"score"`
}

// Report summarizes one reconcile pass.
type Report struct {
	Scanned   int     `json:"scanned"`
	Candidate int     `json:"candidate"`
	Matches   []Match `json:"matches"`
	// Completed is zero on dry runs.
	Completed int `json:"completed"`
}

// Reconciler matches pending tasks against recent trunk history.
type Reconciler struct {
	tasks TaskSource
	git   git.CommitOperations
	log   zerolog.Logger
}

// New creates a Reconciler over the given board and trunk repository.
func New(tasks TaskSource, g git.CommitOperations, log zerolog.Logger) *Reconciler {
	return &Reconciler{
		tasks: tasks,
		git:   g,
		log:   log.With().Str("component", "reconcile").Logger(),
	}
}

// Run scans the last lookback commit subjects and completes matching
// pending tasks. With dryRun set it reports matches without mutating
// the board.
func (r *Reconciler) Run(lookback int, dryRun bool) (*Report, error) {
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	subjects, err := r.git.RecentSubjects(lookback)
	if err != nil {
		return nil, fmt.Errorf("read trunk history: %w", err)
	}
	all, err := r.tasks.List()
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}

	report := &Report{Scanned: len(subjects)}
	for _, t := range all {
		if t.Status != models.TaskStatusPending {
			continue
		}
		report.Candidate++
		subject, score, ok := bestSubject(t.Objective, subjects)
		if !ok {
			continue
		}
		report.Matches = append(report.Matches, Match{
			TaskID:    t.ID,
			Objective: t.Objective,
			Subject:   subject,
			Score:     score,
		})
		if dryRun {
			continue
		}
		if err := r.tasks.MarkComplete(t.ID); err != nil {
			return report, fmt.Errorf("complete task %s: %w", t.ID, err)
		}
		report.Completed++
		r.log.Info().
			Str("taskId", t.ID).
			Str("subject", subject).
			Float64("score", score).
			Msg("task reconciled against trunk commit")
	}
	return report, nil
}

// bestSubject returns the highest-scoring subject for the objective,
// or ok=false when nothing clears the threshold.
func bestSubject(objective string, subjects []string) (string, float64, bool) {
	want := keywords(objective)
	if len(want) == 0 {
		return "", 0, false
	}
	var (
		best      string
		bestScore float64
	)
	for _, s := range subjects {
		got := keywords(stripCommitPrefix(s))
		shared := 0
		for w := range want {
			if got[w] {
				shared++
			}
		}
		if shared < minShared {
			continue
		}
		score := float64(shared) / float64(len(want))
		if score > bestScore {
			best, bestScore = s, score
		}
	}
	if bestScore < matchThreshold {
		return "", 0, false
	}
	return best, bestScore, true
}

var (
	wordRe   = regexp.MustCompile(`[a-z0-9]+`)
	prefixRe = regexp.MustCompile(`^[a-z]+(\([^)]*\))?!?:\s*`)

	stopwords = map[string]bool{
		"a": true, "an": true, "and": true, "by": true, "for": true,
		"from": true, "in": true, "into": true, "of": true, "on": true,
		"or": true, "that": true, "the": true, "to": true, "with": true,
	}
)

// keywords tokenizes text to a set of lowercase significant words.
func keywords(text string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range wordRe.FindAllString(strings.ToLower(text), -1) {
		if len(w) < 3 || stopwords[w] {
			continue
		}
		set[w] = true
	}
	return set
}

// stripCommitPrefix drops conventional-commit prefixes like "fix:" or
// "feat(auth)!:" so they do not dilute the overlap score.
func stripCommitPrefix(subject string) string {
	return prefixRe.ReplaceAllString(strings.TrimSpace(strings.ToLower(subject)), "")
}
