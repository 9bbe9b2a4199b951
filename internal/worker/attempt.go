package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/undercity/undercity/internal/llm"
	"github.com/undercity/undercity/internal/tracker"
	"github.com/undercity/undercity/pkg/models"
)

// writeCeiling is the per-file write limit within one attempt. A model
// rewriting the same file past this is thrashing, not converging.
const writeCeiling = 5

// checkpointInterval is the minimum gap between periodic checkpoint
// saves during the agent loop.
const checkpointInterval = 30 * time.Second

// attemptOutcome is the distilled result of one agent loop run.
type attemptOutcome struct {
	filesWritten int
	marker       models.TerminalMarker
	resultText   string
	usage        llm.Usage
	err          error
}

// runAttempt streams one model query with full tool access, tracking
// file accesses, enforcing the write ceiling, saving checkpoints, and
// watching assistant text for terminal markers.
func (w *Worker) runAttempt(ctx context.Context, tier models.Tier, attempt int,
	plan, postMortem, feedback string) attemptOutcome {

	if nudge := w.nudges.Take(); nudge != "" {
		feedback = joinFeedback(feedback, nudge)
	}

	var mu sync.Mutex
	writes := make(map[string]int)
	written := make(map[string]bool)
	marker := models.TerminalMarker{Kind: models.MarkerNormal}
	lastCheckpoint := w.clock()
	model := llm.ModelForTier(tier)

	hooks := llm.Hooks{
		PreToolUse: func(call llm.ToolCall) llm.StopDecision {
			if marker.ShortCircuits() {
				return llm.Halt("terminal marker emitted")
			}
			if !isWriteTool(call.Name) {
				return llm.Allow()
			}
			path := toolFilePath(call.Input)
			if path == "" {
				return llm.Allow()
			}
			mu.Lock()
			count := writes[path]
			mu.Unlock()
			if count >= writeCeiling {
				return llm.Deny(fmt.Sprintf(
					"you have rewritten %s %d times; stop rewriting it and move on", path, count))
			}
			return llm.Allow()
		},
		OnFileAccess: func(path string, op llm.FileOp) {
			trackerOp := fileOpToTracker(op)
			w.deps.Tracker.RecordFileAccess(w.task.ID, path, trackerOp, w.task.ID, w.ws.Path)

			mu.Lock()
			if trackerOp.Mutating() {
				writes[path]++
				written[path] = true
			}
			due := w.clock().Sub(lastCheckpoint) >= checkpointInterval
			if due {
				lastCheckpoint = w.clock()
			}
			mu.Unlock()
			if due {
				w.checkpoint("executing", attempt, model)
			}
		},
		OnAssistantText: func(text string) {
			if m := ParseMarker(text); m.ShortCircuits() {
				mu.Lock()
				marker = m
				mu.Unlock()
			}
		},
	}

	stream, err := w.deps.Client.Query(ctx, llm.Request{
		System:   executionSystemPrompt,
		Prompt:   w.buildPrompt(ctx, plan, postMortem, feedback),
		Model:    model,
		WorkDir:  w.ws.Path,
		MaxTurns: maxTurns[tier],
		Toolset:  llm.ToolsetFull,
		Hooks:    hooks,
		Resume:   w.conversationID,
	})
	if err != nil {
		return attemptOutcome{err: fmt.Errorf("start attempt: %w", err)}
	}

	result, drainErr := llm.Drain(stream)
	if id := stream.ConversationID(); id != "" {
		w.conversationID = id
	}
	out := attemptOutcome{
		resultText: result,
		usage:      stream.Usage(),
	}
	mu.Lock()
	out.filesWritten = len(written)
	out.marker = marker
	mu.Unlock()

	// A halt caused by our own marker hook is a clean short-circuit,
	// not a failure.
	if drainErr != nil && !out.marker.ShortCircuits() {
		out.err = drainErr
	}
	return out
}

// isWriteTool reports whether a tool name mutates files.
func isWriteTool(name string) bool {
	return name == "write" || name == "edit"
}

// toolFilePath extracts the file_path argument from a tool input.
func toolFilePath(input json.RawMessage) string {
	var p struct {
		FilePath string `json:"file_path"`
	}
	if err := json.Unmarshal(input, &p); err != nil {
		return ""
	}
	return p.FilePath
}

// fileOpToTracker maps the model client's file ops onto tracker ops.
func fileOpToTracker(op llm.FileOp) tracker.Op {
	switch op {
	case llm.FileOpWrite:
		return tracker.OpWrite
	case llm.FileOpEdit:
		return tracker.OpEdit
	case llm.FileOpDelete:
		return tracker.OpDelete
	default:
		return tracker.OpRead
	}
}

func joinFeedback(parts ...string) string {
	out := ""
	for _, p := range parts {
		if p == "" {
			continue
		}
		if out != "" {
			out += "\n\n"
		}
		out += p
	}
	return out
}
