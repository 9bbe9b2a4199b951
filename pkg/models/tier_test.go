package models

import "testing"

func TestTierOrdering(t *testing.T) {
	if !(TierLocalTools.Rank() < TierCheap.Rank()) {
		t.Error("local-tools should rank below cheap")
	}
	if !(TierCheap.Rank() < TierMid.Rank()) {
		t.Error("cheap should rank below mid")
	}
	if !(TierMid.Rank() < TierStrong.Rank()) {
		t.Error("mid should rank below strong")
	}
}

func TestTierNext(t *testing.T) {
	cases := []struct {
		in   Tier
		want Tier
	}{
		{TierLocalTools, TierCheap},
		{TierCheap, TierMid},
		{TierMid, TierStrong},
		{TierStrong, TierStrong},
	}

	for _, c := range cases {
		if got := c.in.Next(); got != c.want {
			t.Errorf("Next(%s): expected %s, got %s", c.in, c.want, got)
		}
	}
}

func TestTierAtLeast(t *testing.T) {
	if !TierStrong.AtLeast(TierCheap) {
		t.Error("strong should be at least cheap")
	}
	if TierCheap.AtLeast(TierMid) {
		t.Error("cheap should not be at least mid")
	}
	if !TierMid.AtLeast(TierMid) {
		t.Error("a tier should be at least itself")
	}
}

func TestFailureKindRetryable(t *testing.T) {
	if FailureBaseline.Retryable() {
		t.Error("baseline failures are never retried")
	}
	if FailureVagueTask.Retryable() {
		t.Error("vague tasks are never retried")
	}
	if !FailureTypecheck.Retryable() {
		t.Error("typecheck failures are retryable")
	}
	if !FailureAgentError.Retryable() {
		t.Error("agent errors are retryable")
	}
}
