package main

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/undercity/undercity/pkg/models"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, exitOK},
		{"tasks failed", fmt.Errorf("%w: 2 task(s) failed", errTasksFailed), exitFailed},
		{"config", fmt.Errorf("%w: bad yaml", errConfig), exitConfig},
		{"cancelled", context.Canceled, exitCancelled},
		{"wrapped cancelled", fmt.Errorf("run: %w", context.Canceled), exitCancelled},
		{"other", errors.New("boom"), exitFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(tt.err); got != tt.want {
				t.Errorf("exitCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestStatusRankOrdersActiveFirst(t *testing.T) {
	if statusRank(models.TaskStatusInProgress) >= statusRank(models.TaskStatusPending) {
		t.Error("in-progress should sort before pending")
	}
	if statusRank(models.TaskStatusPending) >= statusRank(models.TaskStatusFailed) {
		t.Error("pending should sort before failed")
	}
}

func TestFirstLine(t *testing.T) {
	if got := firstLine("one\ntwo"); got != "one" {
		t.Errorf("firstLine = %q", got)
	}
	if got := firstLine("single"); got != "single" {
		t.Errorf("firstLine = %q", got)
	}
}

func TestGuidanceSubcommands(t *testing.T) {
	want := map[string]bool{"add": false, "list": false, "drop": false}
	for _, sub := range guidanceCmd.Commands() {
		if _, ok := want[sub.Name()]; ok {
			want[sub.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("guidance %s subcommand not registered", name)
		}
	}
}
