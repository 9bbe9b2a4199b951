package llm

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestScriptedClientReplaysEvents(t *testing.T) {
	client := NewScriptedClient(Script{
		Steps: []ScriptStep{
			{Text: "thinking about it"},
			{Tool: "write", Input: `{"file_path":"a.go"}`, TouchPath: "a.go"},
		},
		Result: "done",
		Usage:  Usage{InputTokens: 100, OutputTokens: 50, Calls: 2},
	})

	var touched []string
	stream, err := client.Query(context.Background(), Request{
		Prompt: "do the thing",
		Hooks: Hooks{
			OnFileAccess: func(path string, op FileOp) {
				touched = append(touched, path+":"+string(op))
			},
		},
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}

	result, err := Drain(stream)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if result != "done" {
		t.Errorf("result = %q", result)
	}
	if stream.Usage().Total() != 150 {
		t.Errorf("usage = %+v", stream.Usage())
	}
	if len(touched) != 1 || touched[0] != "a.go:write" {
		t.Errorf("touched = %v", touched)
	}
}

func TestScriptedClientHaltHook(t *testing.T) {
	client := NewScriptedClient(Script{
		Steps:  []ScriptStep{{Tool: "write", Input: `{"file_path":"a.go"}`}},
		Result: "never reached",
	})

	stream, err := client.Query(context.Background(), Request{
		Prompt: "p",
		Hooks: Hooks{
			PreToolUse: func(call ToolCall) StopDecision { return Halt("write ceiling") },
		},
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}

	if _, err := Drain(stream); !errors.Is(err, ErrHalted) {
		t.Errorf("drain err = %v, want ErrHalted", err)
	}
}

func TestScriptedClientDenyHook(t *testing.T) {
	client := NewScriptedClient(Script{
		Steps:  []ScriptStep{{Tool: "bash", Input: `{"command":"rm -rf /"}`}},
		Result: "finished",
	})

	stream, err := client.Query(context.Background(), Request{
		Prompt: "p",
		Hooks: Hooks{
			PreToolUse: func(call ToolCall) StopDecision { return Deny("not allowed") },
		},
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}

	var sawDeniedResult bool
	for ev := range stream.Events() {
		if ev.Kind == EventToolResult && ev.IsError && ev.Output == "not allowed" {
			sawDeniedResult = true
		}
	}
	if !sawDeniedResult {
		t.Error("denied tool call should produce an error tool_result")
	}
	if stream.Err() != nil {
		t.Errorf("deny must not fail the stream: %v", stream.Err())
	}
}

func TestScriptedClientExhausted(t *testing.T) {
	client := NewScriptedClient()
	if _, err := client.Query(context.Background(), Request{Prompt: "p"}); err == nil {
		t.Error("expected error with no scripts")
	}
}

func TestToolExecutorReadWriteEdit(t *testing.T) {
	dir := t.TempDir()
	var accesses []string
	exec := newToolExecutor(dir, Hooks{
		OnFileAccess: func(path string, op FileOp) {
			accesses = append(accesses, string(op)+":"+path)
		},
	})
	ctx := context.Background()

	out := exec.execute(ctx, "write", mustJSON(t, map[string]any{
		"file_path": "pkg/a.txt", "content": "alpha\nbeta\n",
	}))
	if out.IsError {
		t.Fatalf("write: %s", out.Content)
	}

	out = exec.execute(ctx, "read", mustJSON(t, map[string]any{"file_path": "pkg/a.txt"}))
	if out.IsError || !strings.Contains(out.Content, "alpha") {
		t.Fatalf("read: %+v", out)
	}

	out = exec.execute(ctx, "edit", mustJSON(t, map[string]any{
		"file_path": "pkg/a.txt", "old_string": "beta", "new_string": "gamma",
	}))
	if out.IsError {
		t.Fatalf("edit: %s", out.Content)
	}
	content, err := os.ReadFile(filepath.Join(dir, "pkg/a.txt"))
	if err != nil || !strings.Contains(string(content), "gamma") {
		t.Fatalf("edited content = %q, err %v", content, err)
	}

	want := []string{"write:pkg/a.txt", "read:pkg/a.txt", "edit:pkg/a.txt"}
	if len(accesses) != len(want) {
		t.Fatalf("accesses = %v", accesses)
	}
	for i := range want {
		if accesses[i] != want[i] {
			t.Errorf("access[%d] = %s, want %s", i, accesses[i], want[i])
		}
	}
}

func TestToolExecutorEditRequiresUnique(t *testing.T) {
	dir := t.TempDir()
	exec := newToolExecutor(dir, Hooks{})
	ctx := context.Background()

	exec.execute(ctx, "write", mustJSON(t, map[string]any{
		"file_path": "f.txt", "content": "x x",
	}))
	out := exec.execute(ctx, "edit", mustJSON(t, map[string]any{
		"file_path": "f.txt", "old_string": "x", "new_string": "y",
	}))
	if !out.IsError {
		t.Error("ambiguous edit should fail")
	}

	out = exec.execute(ctx, "edit", mustJSON(t, map[string]any{
		"file_path": "f.txt", "old_string": "x", "new_string": "y", "replace_all": true,
	}))
	if out.IsError {
		t.Errorf("replace_all edit failed: %s", out.Content)
	}
}

func TestToolExecutorUnknownTool(t *testing.T) {
	exec := newToolExecutor(t.TempDir(), Hooks{})
	out := exec.execute(context.Background(), "teleport", nil)
	if !out.IsError {
		t.Error("unknown tool should error")
	}
}

func TestToolDefinitionsBySet(t *testing.T) {
	if got := toolDefinitions(ToolsetNone); got != nil {
		t.Errorf("none toolset = %d tools", len(got))
	}
	ro := toolDefinitions(ToolsetReadOnly)
	full := toolDefinitions(ToolsetFull)
	if len(ro) >= len(full) {
		t.Errorf("read-only (%d) should be smaller than full (%d)", len(ro), len(full))
	}
	for _, tool := range ro {
		name := tool.OfTool.Name
		if name == "write" || name == "edit" || name == "bash" {
			t.Errorf("read-only toolset includes %s", name)
		}
	}
}

func TestFilePathOf(t *testing.T) {
	if got := filePathOf([]byte(`{"file_path":"x.go"}`)); got != "x.go" {
		t.Errorf("got %q", got)
	}
	if got := filePathOf([]byte(`{"command":"ls"}`)); got != "" {
		t.Errorf("got %q, want empty", got)
	}
	if got := filePathOf([]byte(`not json`)); got != "" {
		t.Errorf("got %q, want empty", got)
	}
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func TestScriptedClientConversationResume(t *testing.T) {
	client := NewScriptedClient(
		Script{Result: "first"},
		Script{Result: "second"},
		Script{Result: "third"},
	)

	first, err := client.Query(context.Background(), Request{Prompt: "start"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if _, err := Drain(first); err != nil {
		t.Fatalf("drain: %v", err)
	}
	convID := first.ConversationID()
	if convID == "" {
		t.Fatal("expected a conversation id on a fresh stream")
	}

	// Resuming keeps the conversation id.
	second, err := client.Query(context.Background(), Request{Prompt: "retry", Resume: convID})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if _, err := Drain(second); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if second.ConversationID() != convID {
		t.Errorf("resumed conversation = %q, want %q", second.ConversationID(), convID)
	}

	// A fresh request starts a new conversation.
	third, err := client.Query(context.Background(), Request{Prompt: "other"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if _, err := Drain(third); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if third.ConversationID() == convID {
		t.Error("unrelated request should not share the conversation")
	}
}
