package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
)

// toolDefinitions returns the tool schemas for the given toolset.
func toolDefinitions(set Toolset) []anthropic.ToolUnionParam {
	if set == ToolsetNone {
		return nil
	}
	tools := []anthropic.ToolUnionParam{
		{
			OfTool: &anthropic.ToolParam{
				Name:        "read",
				Description: anthropic.String("Read a file. Returns contents with line numbers."),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: map[string]interface{}{
						"file_path": map[string]interface{}{
							"type":        "string",
							"description": "Path to the file, relative to the workspace root",
						},
						"offset": map[string]interface{}{
							"type":        "integer",
							"description": "Line to start from (1-indexed, optional)",
						},
						"limit": map[string]interface{}{
							"type":        "integer",
							"description": "Maximum lines to read (optional)",
						},
					},
					Required: []string{"file_path"},
				},
			},
		},
		{
			OfTool: &anthropic.ToolParam{
				Name:        "grep",
				Description: anthropic.String("Search file contents with a regex pattern."),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: map[string]interface{}{
						"pattern": map[string]interface{}{
							"type":        "string",
							"description": "Regex pattern to search for",
						},
						"path": map[string]interface{}{
							"type":        "string",
							"description": "File or directory to search (optional)",
						},
					},
					Required: []string{"pattern"},
				},
			},
		},
		{
			OfTool: &anthropic.ToolParam{
				Name:        "list",
				Description: anthropic.String("List a directory."),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: map[string]interface{}{
						"path": map[string]interface{}{
							"type":        "string",
							"description": "Directory to list",
						},
					},
					Required: []string{"path"},
				},
			},
		},
	}
	if set == ToolsetReadOnly {
		return tools
	}
	tools = append(tools,
		anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        "write",
				Description: anthropic.String("Write a file, creating parent directories as needed."),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: map[string]interface{}{
						"file_path": map[string]interface{}{
							"type":        "string",
							"description": "Path to write",
						},
						"content": map[string]interface{}{
							"type":        "string",
							"description": "Full file content",
						},
					},
					Required: []string{"file_path", "content"},
				},
			},
		},
		anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        "edit",
				Description: anthropic.String("Replace text in a file. old_string must be unique unless replace_all is set."),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: map[string]interface{}{
						"file_path": map[string]interface{}{
							"type":        "string",
							"description": "Path to edit",
						},
						"old_string": map[string]interface{}{
							"type":        "string",
							"description": "Exact text to replace",
						},
						"new_string": map[string]interface{}{
							"type":        "string",
							"description": "Replacement text",
						},
						"replace_all": map[string]interface{}{
							"type":        "boolean",
							"description": "Replace every occurrence (default false)",
						},
					},
					Required: []string{"file_path", "old_string", "new_string"},
				},
			},
		},
		anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        "bash",
				Description: anthropic.String("Run a shell command in the workspace and return its output."),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: map[string]interface{}{
						"command": map[string]interface{}{
							"type":        "string",
							"description": "Command to run",
						},
						"timeout_ms": map[string]interface{}{
							"type":        "integer",
							"description": "Timeout in milliseconds (default 120000)",
						},
					},
					Required: []string{"command"},
				},
			},
		},
	)
	return tools
}

// toolOutput is the outcome of one tool execution.
type toolOutput struct {
	Content string
	IsError bool
}

// toolExecutor runs tool calls inside a workspace directory and reports
// file accesses through hooks.
type toolExecutor struct {
	workDir string
	hooks   Hooks
}

func newToolExecutor(workDir string, hooks Hooks) *toolExecutor {
	return &toolExecutor{workDir: workDir, hooks: hooks}
}

func (e *toolExecutor) execute(ctx context.Context, name string, input json.RawMessage) toolOutput {
	switch name {
	case "read":
		return e.execRead(input)
	case "write":
		return e.execWrite(input)
	case "edit":
		return e.execEdit(input)
	case "bash":
		return e.execBash(ctx, input)
	case "grep":
		return e.execGrep(ctx, input)
	case "list":
		return e.execList(input)
	default:
		return toolOutput{Content: fmt.Sprintf("unknown tool: %s", name), IsError: true}
	}
}

func (e *toolExecutor) reportAccess(path string, op FileOp) {
	if e.hooks.OnFileAccess != nil && path != "" {
		e.hooks.OnFileAccess(path, op)
	}
}

func (e *toolExecutor) execRead(input json.RawMessage) toolOutput {
	var params struct {
		FilePath string `json:"file_path"`
		Offset   int    `json:"offset"`
		Limit    int    `json:"limit"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return toolOutput{Content: fmt.Sprintf("invalid parameters: %v", err), IsError: true}
	}

	path := e.resolvePath(params.FilePath)
	content, err := os.ReadFile(path)
	if err != nil {
		return toolOutput{Content: fmt.Sprintf("read failed: %v", err), IsError: true}
	}
	e.reportAccess(params.FilePath, FileOpRead)

	lines := strings.Split(string(content), "\n")
	start := 0
	if params.Offset > 0 {
		start = params.Offset - 1
		if start >= len(lines) {
			return toolOutput{Content: "offset beyond end of file", IsError: true}
		}
	}
	end := len(lines)
	if params.Limit > 0 && start+params.Limit < end {
		end = start + params.Limit
	}

	var b strings.Builder
	for i := start; i < end; i++ {
		fmt.Fprintf(&b, "%6d\t%s\n", i+1, lines[i])
	}
	return toolOutput{Content: b.String()}
}

func (e *toolExecutor) execWrite(input json.RawMessage) toolOutput {
	var params struct {
		FilePath string `json:"file_path"`
		Content  string `json:"content"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return toolOutput{Content: fmt.Sprintf("invalid parameters: %v", err), IsError: true}
	}

	path := e.resolvePath(params.FilePath)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return toolOutput{Content: fmt.Sprintf("create directory: %v", err), IsError: true}
	}
	if err := os.WriteFile(path, []byte(params.Content), 0o644); err != nil {
		return toolOutput{Content: fmt.Sprintf("write failed: %v", err), IsError: true}
	}
	e.reportAccess(params.FilePath, FileOpWrite)
	return toolOutput{Content: fmt.Sprintf("wrote %d bytes to %s", len(params.Content), params.FilePath)}
}

func (e *toolExecutor) execEdit(input json.RawMessage) toolOutput {
	var params struct {
		FilePath   string `json:"file_path"`
		OldString  string `json:"old_string"`
		NewString  string `json:"new_string"`
		ReplaceAll bool   `json:"replace_all"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return toolOutput{Content: fmt.Sprintf("invalid parameters: %v", err), IsError: true}
	}

	path := e.resolvePath(params.FilePath)
	content, err := os.ReadFile(path)
	if err != nil {
		return toolOutput{Content: fmt.Sprintf("read failed: %v", err), IsError: true}
	}

	text := string(content)
	count := strings.Count(text, params.OldString)
	if count == 0 {
		return toolOutput{Content: "old_string not found in file", IsError: true}
	}
	if !params.ReplaceAll && count > 1 {
		return toolOutput{
			Content: fmt.Sprintf("old_string found %d times; must be unique or use replace_all", count),
			IsError: true,
		}
	}

	var updated string
	if params.ReplaceAll {
		updated = strings.ReplaceAll(text, params.OldString, params.NewString)
	} else {
		updated = strings.Replace(text, params.OldString, params.NewString, 1)
	}
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		return toolOutput{Content: fmt.Sprintf("write failed: %v", err), IsError: true}
	}
	e.reportAccess(params.FilePath, FileOpEdit)
	return toolOutput{Content: "edit applied"}
}

func (e *toolExecutor) execBash(ctx context.Context, input json.RawMessage) toolOutput {
	var params struct {
		Command   string `json:"command"`
		TimeoutMs int    `json:"timeout_ms"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return toolOutput{Content: fmt.Sprintf("invalid parameters: %v", err), IsError: true}
	}

	timeout := 120 * time.Second
	if params.TimeoutMs > 0 {
		timeout = time.Duration(params.TimeoutMs) * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "bash", "-c", params.Command)
	cmd.Dir = e.workDir
	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return toolOutput{
				Content: fmt.Sprintf("command timed out after %v:\n%s", timeout, output),
				IsError: true,
			}
		}
		return toolOutput{Content: fmt.Sprintf("%s\nerror: %v", output, err), IsError: true}
	}
	return toolOutput{Content: truncateOutput(string(output))}
}

func (e *toolExecutor) execGrep(ctx context.Context, input json.RawMessage) toolOutput {
	var params struct {
		Pattern string `json:"pattern"`
		Path    string `json:"path"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return toolOutput{Content: fmt.Sprintf("invalid parameters: %v", err), IsError: true}
	}

	searchPath := e.workDir
	if params.Path != "" {
		searchPath = e.resolvePath(params.Path)
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// grep returns non-zero on no match.
	cmd := exec.CommandContext(ctx, "grep", "-rn", "--color=never", params.Pattern, searchPath)
	output, _ := cmd.CombinedOutput()
	if len(output) == 0 {
		return toolOutput{Content: "no matches found"}
	}
	return toolOutput{Content: truncateOutput(string(output))}
}

func (e *toolExecutor) execList(input json.RawMessage) toolOutput {
	var params struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return toolOutput{Content: fmt.Sprintf("invalid parameters: %v", err), IsError: true}
	}

	entries, err := os.ReadDir(e.resolvePath(params.Path))
	if err != nil {
		return toolOutput{Content: fmt.Sprintf("read directory: %v", err), IsError: true}
	}
	var b strings.Builder
	for _, entry := range entries {
		if entry.IsDir() {
			fmt.Fprintf(&b, "d %s/\n", entry.Name())
		} else {
			fmt.Fprintf(&b, "- %s\n", entry.Name())
		}
	}
	return toolOutput{Content: b.String()}
}

func (e *toolExecutor) resolvePath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(e.workDir, path)
}

func truncateOutput(s string) string {
	if len(s) > 30000 {
		return s[:30000] + "\n... (output truncated)"
	}
	return s
}
