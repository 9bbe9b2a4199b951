package llm

import (
	"context"
	"fmt"
	"sync"
)

// ScriptStep is one scripted action a fake stream performs.
type ScriptStep struct {
	// Text emits an assistant text event.
	Text string
	// Tool, when set, emits a tool_use event and runs Apply.
	Tool string
	// Input is the raw tool input attached to the tool_use event.
	Input string
	// Apply performs the step's side effect in the workspace. Its
	// return becomes the tool_result output.
	Apply func(workDir string) (string, error)
	// TouchPath reports a file access through the request's hooks.
	TouchPath string
	// TouchOp is the access kind for TouchPath (defaults to write).
	TouchOp FileOp
}

// Script is the full behavior of one scripted invocation.
type Script struct {
	Steps []ScriptStep
	// Result is the final result text.
	Result string
	// Err fails the stream instead of emitting a result.
	Err error
	// Usage is reported as the stream's token accounting.
	Usage Usage
}

// ScriptedClient replays scripts in order, one per Query call. It is
// the test double for AnthropicClient.
type ScriptedClient struct {
	mu      sync.Mutex
	scripts []Script
	calls   []Request
}

var _ Client = (*ScriptedClient)(nil)

// NewScriptedClient creates a fake client that replays the given
// scripts in order.
func NewScriptedClient(scripts ...Script) *ScriptedClient {
	return &ScriptedClient{scripts: scripts}
}

// Calls returns the requests seen so far.
func (c *ScriptedClient) Calls() []Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Request, len(c.calls))
	copy(out, c.calls)
	return out
}

// Query replays the next script against the request.
func (c *ScriptedClient) Query(ctx context.Context, req Request) (*Stream, error) {
	c.mu.Lock()
	c.calls = append(c.calls, req)
	if len(c.scripts) == 0 {
		c.mu.Unlock()
		return nil, fmt.Errorf("scripted client: no script for call %d", len(c.calls))
	}
	script := c.scripts[0]
	c.scripts = c.scripts[1:]
	// Resumed calls keep their conversation; fresh ones get a
	// deterministic id per call position.
	convID := req.Resume
	if convID == "" {
		convID = fmt.Sprintf("conv-%d", len(c.calls))
	}
	c.mu.Unlock()

	events := make(chan Event, len(script.Steps)*2+2)
	var finalErr error

	go func() {
		defer close(events)
		for _, step := range script.Steps {
			if ctx.Err() != nil {
				finalErr = ctx.Err()
				events <- Event{Kind: EventError, Err: finalErr}
				return
			}
			if step.Text != "" {
				if req.Hooks.OnAssistantText != nil {
					req.Hooks.OnAssistantText(step.Text)
				}
				events <- Event{Kind: EventAssistantText, Text: step.Text}
			}
			if step.Tool != "" {
				events <- Event{Kind: EventToolUse, Tool: step.Tool, Input: []byte(step.Input)}
				if req.Hooks.PreToolUse != nil {
					decision := req.Hooks.PreToolUse(ToolCall{Name: step.Tool, Input: []byte(step.Input)})
					switch decision.Kind {
					case StopDeny:
						events <- Event{Kind: EventToolResult, Tool: step.Tool, Output: decision.Reason, IsError: true}
						continue
					case StopHalt:
						finalErr = fmt.Errorf("%w: %s", ErrHalted, decision.Reason)
						events <- Event{Kind: EventError, Err: finalErr}
						return
					}
				}
				output := "ok"
				isError := false
				if step.Apply != nil {
					out, err := step.Apply(req.WorkDir)
					if err != nil {
						output, isError = err.Error(), true
					} else if out != "" {
						output = out
					}
				}
				if step.TouchPath != "" && req.Hooks.OnFileAccess != nil {
					op := step.TouchOp
					if op == "" {
						op = FileOpWrite
					}
					req.Hooks.OnFileAccess(step.TouchPath, op)
				}
				events <- Event{Kind: EventToolResult, Tool: step.Tool, Output: output, IsError: isError}
			}
		}
		if script.Err != nil {
			finalErr = script.Err
			events <- Event{Kind: EventError, Err: script.Err}
			return
		}
		events <- Event{Kind: EventResult, Text: script.Result}
	}()

	return NewStream(events,
		func() Usage { return script.Usage },
		func() error { return finalErr },
		func() string { return convID },
	), nil
}
