// Package exec provides an interface for command execution.
package exec

import (
	"context"
	"time"
)

// Result contains the outcome of a command invocation.
type Result struct {
	// Output is the combined stdout/stderr output.
	Output []byte
	// TimedOut indicates the command was killed by its timeout.
	TimedOut bool
	// Duration is how long the command ran.
	Duration time.Duration
	// Err is the process error, if any. A timeout also sets Err.
	Err error
}

// Ok reports whether the command exited cleanly within its timeout.
func (r Result) Ok() bool {
	return r.Err == nil && !r.TimedOut
}

// TailLines returns the last n lines of output, for compact error display.
func (r Result) TailLines(n int) []string {
	if n <= 0 || len(r.Output) == 0 {
		return nil
	}
	var lines []string
	start := 0
	for i, b := range r.Output {
		if b == '\n' {
			if i > start {
				lines = append(lines, string(r.Output[start:i]))
			}
			start = i + 1
		}
	}
	if start < len(r.Output) {
		lines = append(lines, string(r.Output[start:]))
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}

// CommandRunner defines the interface for running external commands.
// This abstraction allows mocking command execution in tests.
type CommandRunner interface {
	// Run executes a command and returns combined stdout/stderr output.
	// The working directory is set to workDir if non-empty.
	Run(ctx context.Context, workDir string, name string, args ...string) ([]byte, error)

	// RunShell executes a shell command through "sh -c".
	RunShell(ctx context.Context, workDir string, command string) ([]byte, error)

	// RunWithTimeout executes a shell command with a hard deadline.
	// Exceeding the deadline is reported through Result.TimedOut rather
	// than as a distinct error path; callers treat it as a failed check.
	RunWithTimeout(ctx context.Context, workDir string, command string, timeout time.Duration) Result

	// Exists checks if a file exists at the given path relative to workDir.
	Exists(ctx context.Context, workDir string, path string) bool
}
