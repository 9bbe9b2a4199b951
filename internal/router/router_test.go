package router

import (
	"testing"

	"github.com/undercity/undercity/pkg/models"
)

func TestRouteLocalTool(t *testing.T) {
	d := Route("Organize imports in the api package")
	if d.Tier != models.TierLocalTools {
		t.Fatalf("tier = %s, want local-tools", d.Tier)
	}
	if d.LocalTool != ToolOrganizeImports {
		t.Errorf("tool = %s, want organize-imports", d.LocalTool)
	}
	if d.EstimatedTokens != 0 {
		t.Errorf("estimated tokens = %d, want 0", d.EstimatedTokens)
	}
	if !d.CanParallelize || d.SuggestedBatchSize != 10 {
		t.Errorf("parallelize = %v batch = %d, want true/10", d.CanParallelize, d.SuggestedBatchSize)
	}
}

func TestRouteTrivial(t *testing.T) {
	d := Route("Fix the typo in the README header")
	if d.Tier != models.TierCheap {
		t.Fatalf("tier = %s, want cheap", d.Tier)
	}
	if d.Complexity != models.ComplexityTrivial {
		t.Errorf("complexity = %s, want trivial", d.Complexity)
	}
	if d.SuggestedBatchSize != 5 {
		t.Errorf("batch = %d, want 5", d.SuggestedBatchSize)
	}
}

func TestRouteEscalation(t *testing.T) {
	d := Route("Update the auth token validation to reject expired credentials")
	if d.Tier != models.TierStrong {
		t.Fatalf("tier = %s, want strong", d.Tier)
	}
	if d.CanParallelize {
		t.Error("escalated tasks must not be parallelizable")
	}
}

func TestRouteDeterministic(t *testing.T) {
	obj := "Implement request retries across every client in the transport layer"
	a := Route(obj)
	b := Route(obj)
	if a != b {
		t.Errorf("routing not deterministic: %+v vs %+v", a, b)
	}
}

func TestRouteComplexityFallback(t *testing.T) {
	d := Route("Implement a new pagination layer for the list endpoints")
	if d.Tier != models.TierCheap && d.Tier != models.TierMid {
		t.Fatalf("tier = %s, want cheap or mid for heuristic routing", d.Tier)
	}
	if d.Reason == "" || d.Confidence <= 0 {
		t.Errorf("decision missing reason or confidence: %+v", d)
	}
}

func TestAssessWordCount(t *testing.T) {
	short := Assess("tweak config")
	if short != models.ComplexityTrivial {
		t.Errorf("short objective = %s, want trivial", short)
	}
	long := Assess("integrate the distributed event protocol across every service so that all " +
		"consumers observe a consistent ordering during the migration window and beyond")
	if long != models.ComplexityComplex && long != models.ComplexityCritical {
		t.Errorf("long objective = %s, want complex or critical", long)
	}
}

func TestContainsWordBoundaries(t *testing.T) {
	if containsWord("additional notes", "add") {
		t.Error("matched inside a larger word")
	}
	if !containsWord("add a field", "add") {
		t.Error("missed word at start")
	}
}
