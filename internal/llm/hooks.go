package llm

import "encoding/json"

// StopKind classifies a pre-tool-use decision.
type StopKind string

const (
	// StopAllow lets the tool call proceed.
	StopAllow StopKind = "allow"
	// StopDeny blocks the call and returns Reason to the model as an
	// error result. The stream continues.
	StopDeny StopKind = "deny"
	// StopHalt blocks the call and terminates the stream.
	StopHalt StopKind = "halt"
)

// StopDecision is the outcome of a pre-tool-use hook.
type StopDecision struct {
	Kind   StopKind
	Reason string
}

// Allow permits the tool call.
func Allow() StopDecision { return StopDecision{Kind: StopAllow} }

// Deny blocks the call, feeding reason back to the model.
func Deny(reason string) StopDecision { return StopDecision{Kind: StopDeny, Reason: reason} }

// Halt blocks the call and ends the stream with reason.
func Halt(reason string) StopDecision { return StopDecision{Kind: StopHalt, Reason: reason} }

// ToolCall describes an imminent tool invocation for hooks.
type ToolCall struct {
	Name  string
	Input json.RawMessage
}

// FileOp is the kind of file access a tool performed.
type FileOp string

const (
	FileOpRead   FileOp = "read"
	FileOpWrite  FileOp = "write"
	FileOpEdit   FileOp = "edit"
	FileOpDelete FileOp = "delete"
)

// Hooks observe and intercept tool execution. All fields are optional.
type Hooks struct {
	// PreToolUse runs before each tool call and may block it.
	PreToolUse func(call ToolCall) StopDecision
	// OnFileAccess is called after a tool touches a file.
	OnFileAccess func(path string, op FileOp)
	// OnAssistantText is called for each prose chunk, before it is
	// emitted on the stream.
	OnAssistantText func(text string)
}

// filePathOf extracts the file_path argument from a tool input, or ""
// when the tool does not carry one.
func filePathOf(input json.RawMessage) string {
	var p struct {
		FilePath string `json:"file_path"`
	}
	if err := json.Unmarshal(input, &p); err != nil {
		return ""
	}
	return p.FilePath
}
