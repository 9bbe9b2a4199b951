package router

import (
	"strings"

	"github.com/undercity/undercity/pkg/models"
)

// complexity keyword weights, applied to the lowercased objective.
var complexitySignals = []struct {
	keywords []string
	weight   int
}{
	{[]string{"fix", "update", "adjust", "tweak", "small"}, -1},
	{[]string{"add", "implement", "create", "write"}, 1},
	{[]string{"refactor", "restructure", "extract", "split"}, 2},
	{[]string{"across", "all", "every", "entire", "throughout"}, 2},
	{[]string{"integrate", "migration", "concurrent", "distributed", "protocol"}, 3},
}

// Assess estimates the complexity of an objective from its text alone.
// It is a heuristic fallback used when no explicit pattern matched.
func Assess(objective string) models.Complexity {
	lower := strings.ToLower(objective)
	words := len(strings.Fields(lower))

	score := 0
	switch {
	case words <= 6:
		score -= 1
	case words >= 25:
		score += 2
	case words >= 15:
		score += 1
	}

	for _, sig := range complexitySignals {
		for _, kw := range sig.keywords {
			if containsWord(lower, kw) {
				score += sig.weight
				break
			}
		}
	}

	switch {
	case score <= -1:
		return models.ComplexityTrivial
	case score == 0:
		return models.ComplexitySimple
	case score <= 2:
		return models.ComplexityStandard
	case score <= 4:
		return models.ComplexityComplex
	default:
		return models.ComplexityCritical
	}
}

// containsWord reports whether kw appears in s on word boundaries.
func containsWord(s, kw string) bool {
	idx := 0
	for {
		i := strings.Index(s[idx:], kw)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(kw)
		leftOK := start == 0 || !isWordByte(s[start-1])
		rightOK := end == len(s) || !isWordByte(s[end])
		if leftOK && rightOK {
			return true
		}
		idx = start + 1
	}
}

func isWordByte(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}
