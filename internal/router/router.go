// Package router maps a task objective to an execution tier.
// Routing is a pure function of the objective text: identical inputs
// always produce identical decisions.
package router

import (
	"strings"

	"github.com/undercity/undercity/pkg/models"
)

// LocalTool identifies a deterministic local tool that can satisfy an
// objective without any model call.
type LocalTool string

const (
	// ToolFormat runs the project formatter.
	ToolFormat LocalTool = "format"
	// ToolLint runs the project linter.
	ToolLint LocalTool = "lint"
	// ToolTypecheck runs the project typechecker.
	ToolTypecheck LocalTool = "typecheck"
	// ToolTest runs the project test suite.
	ToolTest LocalTool = "test"
	// ToolBuild runs the project build.
	ToolBuild LocalTool = "build"
	// ToolOrganizeImports reorders and prunes imports.
	ToolOrganizeImports LocalTool = "organize-imports"
)

// Decision is the routing outcome for one objective.
type Decision struct {
	// Tier is the selected capability class.
	Tier models.Tier
	// Reason explains the selection for logs and metrics.
	Reason string
	// Confidence is the router's confidence in the decision, in [0,1].
	Confidence float64
	// EstimatedTokens is a rough token budget for the attempt.
	EstimatedTokens int64
	// CanParallelize indicates the task is safe to batch with others.
	CanParallelize bool
	// SuggestedBatchSize is the batch width when parallelizable.
	SuggestedBatchSize int
	// LocalTool is set when Tier is local-tools.
	LocalTool LocalTool
	// Complexity is the assessed complexity when heuristic routing ran.
	Complexity models.Complexity
}

// localToolPatterns map objective phrasings to local tools, checked in order.
var localToolPatterns = []struct {
	keywords []string
	tool     LocalTool
}{
	{[]string{"organize imports", "organise imports", "sort imports", "fix imports"}, ToolOrganizeImports},
	{[]string{"format the code", "run the formatter", "run prettier", "run gofmt", "reformat"}, ToolFormat},
	{[]string{"run lint", "run the linter", "fix lint"}, ToolLint},
	{[]string{"run typecheck", "run the typechecker", "check types"}, ToolTypecheck},
	{[]string{"run tests", "run the tests", "run the test suite"}, ToolTest},
	{[]string{"run the build", "verify the build", "check the build"}, ToolBuild},
}

// trivialPatterns indicate work small enough for the cheapest model tier.
var trivialPatterns = []string{
	"typo",
	"spelling",
	"comment",
	"bump version",
	"version bump",
	"rename variable",
	"rename the",
	"remove unused",
	"delete unused",
	"unused import",
}

// escalationPatterns force the strongest tier regardless of size.
var escalationPatterns = []string{
	"security",
	"auth",
	"encrypt",
	"credential",
	"secret",
	"payment",
	"migrate database",
	"database migration",
	"breaking change",
	"redesign",
	"refactor architecture",
	"rearchitect",
}

// Route maps an objective to an execution tier and cost estimate.
//
// Decision order: local-tool patterns, then trivial patterns, then
// escalation patterns, then complexity assessment.
func Route(objective string) Decision {
	lower := strings.ToLower(objective)

	for _, p := range localToolPatterns {
		for _, kw := range p.keywords {
			if strings.Contains(lower, kw) {
				return Decision{
					Tier:               models.TierLocalTools,
					Reason:             "matches local-tool pattern: " + kw,
					Confidence:         0.95,
					EstimatedTokens:    0,
					CanParallelize:     true,
					SuggestedBatchSize: 10,
					LocalTool:          p.tool,
				}
			}
		}
	}

	for _, kw := range trivialPatterns {
		if strings.Contains(lower, kw) {
			return Decision{
				Tier:               models.TierCheap,
				Reason:             "trivial",
				Confidence:         0.85,
				EstimatedTokens:    2000,
				CanParallelize:     true,
				SuggestedBatchSize: 5,
				Complexity:         models.ComplexityTrivial,
			}
		}
	}

	for _, kw := range escalationPatterns {
		if strings.Contains(lower, kw) {
			return Decision{
				Tier:            models.TierStrong,
				Reason:          "matches escalation pattern: " + kw,
				Confidence:      0.9,
				EstimatedTokens: 60000,
				CanParallelize:  false,
				Complexity:      models.ComplexityCritical,
			}
		}
	}

	complexity := Assess(objective)
	return decisionForComplexity(complexity)
}

// decisionForComplexity maps assessed complexity onto a tier decision.
func decisionForComplexity(c models.Complexity) Decision {
	switch c {
	case models.ComplexityTrivial:
		return Decision{
			Tier: models.TierCheap, Reason: "assessed trivial", Confidence: 0.7,
			EstimatedTokens: 2000, CanParallelize: true, SuggestedBatchSize: 5,
			Complexity: c,
		}
	case models.ComplexitySimple:
		return Decision{
			Tier: models.TierCheap, Reason: "assessed simple", Confidence: 0.7,
			EstimatedTokens: 6000, CanParallelize: true, SuggestedBatchSize: 3,
			Complexity: c,
		}
	case models.ComplexityStandard:
		return Decision{
			Tier: models.TierMid, Reason: "assessed standard", Confidence: 0.65,
			EstimatedTokens: 20000, CanParallelize: true, SuggestedBatchSize: 2,
			Complexity: c,
		}
	case models.ComplexityComplex:
		return Decision{
			Tier: models.TierMid, Reason: "assessed complex", Confidence: 0.6,
			EstimatedTokens: 40000, CanParallelize: false,
			Complexity: c,
		}
	default:
		return Decision{
			Tier: models.TierStrong, Reason: "assessed critical", Confidence: 0.6,
			EstimatedTokens: 80000, CanParallelize: false,
			Complexity: models.ComplexityCritical,
		}
	}
}
