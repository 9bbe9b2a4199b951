package board

import (
	"time"

	"github.com/undercity/undercity/pkg/models"
)

// tagBoosts adjust the priority score for recognized tags.
// Lower score means higher priority.
var tagBoosts = map[string]float64{
	"critical":    -50,
	"bugfix":      -30,
	"security":    -25,
	"performance": -20,
	"refactor":    -10,
}

// complexityBoosts adjust the priority score by assessed complexity.
var complexityBoosts = map[models.Complexity]float64{
	models.ComplexityTrivial:  -20,
	models.ComplexitySimple:   -10,
	models.ComplexityStandard: 0,
	models.ComplexityComplex:  10,
	models.ComplexityCritical: 20,
}

// agePenaltyCap bounds how much waiting can promote a task.
const agePenaltyCap = 30

// Score computes the priority score for a task at the given time.
// Lower scores rank first. Ties are broken by insertion order, which the
// board preserves by using a stable sort.
func Score(t *models.Task, now time.Time) float64 {
	score := t.Priority

	for tag, boost := range tagBoosts {
		if t.HasTag(tag) {
			score += boost
		}
	}

	score += complexityBoosts[complexityForRisk(t.RiskScore)]

	days := now.Sub(t.CreatedAt).Hours() / 24
	if days < 0 {
		days = 0
	}
	age := days * 0.5
	if age > agePenaltyCap {
		age = agePenaltyCap
	}
	score += age

	score += 5 * float64(len(t.DependsOn))

	return score
}

// complexityForRisk maps a risk score band to a complexity class.
// Tasks without analysis default to standard.
func complexityForRisk(risk *float64) models.Complexity {
	if risk == nil {
		return models.ComplexityStandard
	}
	switch r := *risk; {
	case r < 0.1:
		return models.ComplexityTrivial
	case r < 0.3:
		return models.ComplexitySimple
	case r < 0.6:
		return models.ComplexityStandard
	case r < 0.85:
		return models.ComplexityComplex
	default:
		return models.ComplexityCritical
	}
}
