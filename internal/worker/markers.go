package worker

import (
	"strings"

	"github.com/undercity/undercity/pkg/models"
)

// Terminal marker sentinels the agent may emit in assistant text.
const (
	markerAlreadyComplete    = "TASK_ALREADY_COMPLETE:"
	markerInvalidTarget      = "INVALID_TARGET:"
	markerNeedsDecomposition = "NEEDS_DECOMPOSITION:"
)

// ParseMarker scans assistant text for a terminal marker. The first
// marker found wins; text without one parses as MarkerNormal.
func ParseMarker(text string) models.TerminalMarker {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, markerAlreadyComplete):
			return models.TerminalMarker{
				Kind:   models.MarkerAlreadyComplete,
				Reason: strings.TrimSpace(strings.TrimPrefix(line, markerAlreadyComplete)),
			}
		case strings.HasPrefix(line, markerInvalidTarget):
			return models.TerminalMarker{
				Kind:   models.MarkerInvalidTarget,
				Reason: strings.TrimSpace(strings.TrimPrefix(line, markerInvalidTarget)),
			}
		case strings.HasPrefix(line, markerNeedsDecomposition):
			return models.TerminalMarker{
				Kind:   models.MarkerNeedsDecomposition,
				Reason: strings.TrimSpace(strings.TrimPrefix(line, markerNeedsDecomposition)),
			}
		}
	}
	return models.TerminalMarker{Kind: models.MarkerNormal}
}
