package models

// Tier represents the execution capability class for a task attempt.
// Tiers are ordered from cheapest to most expensive.
type Tier string

const (
	// TierLocalTools runs deterministic local tooling with no model call.
	TierLocalTools Tier = "local-tools"
	// TierCheap is the least expensive model tier.
	TierCheap Tier = "cheap"
	// TierMid is the standard model tier.
	TierMid Tier = "mid"
	// TierStrong is the most capable model tier.
	TierStrong Tier = "strong"
)

// tierRank orders tiers for comparison and escalation.
var tierRank = map[Tier]int{
	TierLocalTools: 0,
	TierCheap:      1,
	TierMid:        2,
	TierStrong:     3,
}

// Valid returns true if the tier is a known value.
func (t Tier) Valid() bool {
	_, ok := tierRank[t]
	return ok
}

// Rank returns the ordering of the tier, cheapest first.
// Unknown tiers rank below local-tools.
func (t Tier) Rank() int {
	r, ok := tierRank[t]
	if !ok {
		return -1
	}
	return r
}

// Next returns the next more capable tier, or the tier itself if it is
// already the strongest.
func (t Tier) Next() Tier {
	switch t {
	case TierLocalTools:
		return TierCheap
	case TierCheap:
		return TierMid
	case TierMid:
		return TierStrong
	default:
		return TierStrong
	}
}

// AtLeast reports whether the tier is at least as capable as other.
func (t Tier) AtLeast(other Tier) bool {
	return t.Rank() >= other.Rank()
}

// Complexity is the assessed difficulty class of an objective.
type Complexity string

const (
	// ComplexityTrivial covers one-line mechanical changes.
	ComplexityTrivial Complexity = "trivial"
	// ComplexitySimple covers small localized changes.
	ComplexitySimple Complexity = "simple"
	// ComplexityStandard covers typical feature or fix work.
	ComplexityStandard Complexity = "standard"
	// ComplexityComplex covers multi-file or cross-cutting work.
	ComplexityComplex Complexity = "complex"
	// ComplexityCritical covers high-risk or architectural work.
	ComplexityCritical Complexity = "critical"
)

// Valid returns true if the complexity is a known value.
func (c Complexity) Valid() bool {
	switch c {
	case ComplexityTrivial, ComplexitySimple, ComplexityStandard, ComplexityComplex, ComplexityCritical:
		return true
	default:
		return false
	}
}
