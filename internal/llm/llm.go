// Package llm provides the model client used by workers.
// It exposes an opaque streaming interface so the orchestrator never
// depends on a particular provider SDK: callers submit a request and
// consume a stream of typed events.
package llm

import (
	"context"
	"encoding/json"
	"time"
)

// EventKind identifies the type of a stream event.
type EventKind string

const (
	// EventAssistantText is a chunk of assistant prose.
	EventAssistantText EventKind = "assistant_text"
	// EventToolUse is emitted when the model invokes a tool.
	EventToolUse EventKind = "tool_use"
	// EventToolResult is emitted after a tool call completes.
	EventToolResult EventKind = "tool_result"
	// EventResult is the final event of a successful stream.
	EventResult EventKind = "result"
	// EventError terminates the stream on failure.
	EventError EventKind = "error"
)

// Event is one typed message from a model stream.
type Event struct {
	Kind EventKind
	// Text holds assistant prose or the final result text.
	Text string
	// Tool is the tool name for tool_use and tool_result events.
	Tool string
	// Input is the raw tool input for tool_use events.
	Input json.RawMessage
	// Output is the tool output for tool_result events.
	Output string
	// IsError marks a failed tool call.
	IsError bool
	// Err carries the failure for error events.
	Err error
}

// Usage is cumulative token accounting for one stream.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
	Calls        int
}

// Total returns combined input and output tokens.
func (u Usage) Total() int64 { return u.InputTokens + u.OutputTokens }

// Request describes one model invocation.
type Request struct {
	// System is the system prompt.
	System string
	// Prompt is the user prompt.
	Prompt string
	// Model overrides the client's default model when set.
	Model string
	// WorkDir is the directory tool calls operate in.
	WorkDir string
	// MaxTurns caps the number of API round trips.
	MaxTurns int
	// Toolset selects which tools the model may call.
	Toolset Toolset
	// Hooks intercept and observe tool calls.
	Hooks Hooks
	// Timeout bounds the whole stream when positive.
	Timeout time.Duration
	// Resume continues the conversation with the given id, preserving
	// the model's prior exploration. Empty starts a new conversation.
	Resume string
}

// Toolset selects the tools offered to the model.
type Toolset string

const (
	// ToolsetFull offers read, write, edit, bash, and search tools.
	ToolsetFull Toolset = "full"
	// ToolsetReadOnly offers only read and search tools.
	ToolsetReadOnly Toolset = "read-only"
	// ToolsetNone offers no tools.
	ToolsetNone Toolset = "none"
)

// Stream is a cold sequence of events from one model invocation.
// Events must be drained; the channel closes when the stream ends.
type Stream struct {
	events       <-chan Event
	usage        func() Usage
	err          func() error
	conversation func() string
}

// NewStream wraps an event channel with usage, error, and conversation
// accessors.
func NewStream(events <-chan Event, usage func() Usage, err func() error,
	conversation func() string) *Stream {
	return &Stream{events: events, usage: usage, err: err, conversation: conversation}
}

// Events returns the event channel.
func (s *Stream) Events() <-chan Event { return s.events }

// Usage returns token accounting. Valid after the event channel closes.
func (s *Stream) Usage() Usage {
	if s.usage == nil {
		return Usage{}
	}
	return s.usage()
}

// Err returns the stream failure, if any. Valid after the channel closes.
func (s *Stream) Err() error {
	if s.err == nil {
		return nil
	}
	return s.err()
}

// ConversationID identifies the conversation this stream belongs to.
// Pass it as Request.Resume to continue where the stream left off.
func (s *Stream) ConversationID() string {
	if s.conversation == nil {
		return ""
	}
	return s.conversation()
}

// Client issues model requests. Implementations must be safe for
// concurrent use.
type Client interface {
	// Query starts a model invocation and returns its event stream.
	Query(ctx context.Context, req Request) (*Stream, error)
}

// Drain consumes a stream to completion and returns the final result
// text. Convenience for callers that do not need per-event handling.
func Drain(s *Stream) (string, error) {
	var result string
	for ev := range s.Events() {
		switch ev.Kind {
		case EventResult:
			result = ev.Text
		case EventError:
			if ev.Err != nil {
				return result, ev.Err
			}
		}
	}
	return result, s.Err()
}
