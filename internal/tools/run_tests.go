package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/reeze/piecode/internal/llm"
)

// RunTestsTool implements the run_tests tool: a narrower sibling of the
// shell tool scoped to running the project's test suite. Its command goes
// through the same classified shell approval as the shell tool.
// Grounded on ShellTool's process handling (process-group isolation, devnull
// stdin, SIGTERM->SIGKILL on timeout) but fixed to a single read-only-ish
// purpose so a turn policy can allow it without opening the full shell.
type RunTestsTool struct {
	approval   *ApprovalManager
	limits     OutputLimits
	shellPath  string
	defaultCmd string
}

// NewRunTestsTool creates a new RunTestsTool. defaultCmd is run when the
// caller omits "command" (e.g. "go test ./..." for a Go project).
func NewRunTestsTool(approval *ApprovalManager, limits OutputLimits, defaultCmd string) *RunTestsTool {
	if defaultCmd == "" {
		defaultCmd = "go test ./..."
	}
	return &RunTestsTool{
		approval:   approval,
		limits:     limits,
		shellPath:  detectShell(),
		defaultCmd: defaultCmd,
	}
}

// RunTestsArgs are the arguments for run_tests.
type RunTestsArgs struct {
	Command        string `json:"command,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

func (t *RunTestsTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        RunTestsToolName,
		Description: fmt.Sprintf("Run the project's test suite. Defaults to %q; pass \"command\" to run a narrower test target.", t.defaultCmd),
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"command": map[string]interface{}{
					"type":        "string",
					"description": "Test command to run (default: the project's configured test command)",
				},
				"timeout_seconds": map[string]interface{}{
					"type":        "integer",
					"description": "Timeout in seconds (default: 120, max: 600)",
				},
			},
			"additionalProperties": false,
		},
	}
}

func (t *RunTestsTool) Preview(args json.RawMessage) string {
	var a RunTestsArgs
	if err := json.Unmarshal(args, &a); err != nil || a.Command == "" {
		return t.defaultCmd
	}
	return a.Command
}

func (t *RunTestsTool) Execute(ctx context.Context, args json.RawMessage) (llm.ToolOutput, error) {
	warning := WarnUnknownParams(args, []string{"command", "timeout_seconds"})
	textOutput := func(message string) llm.ToolOutput {
		return llm.TextOutput(warning + message)
	}

	var a RunTestsArgs
	if len(args) > 0 {
		if err := json.Unmarshal(args, &a); err != nil {
			return textOutput(formatToolError(NewToolError(ErrInvalidParams, err.Error()))), nil
		}
	}

	command := a.Command
	if command == "" {
		command = t.defaultCmd
	}

	if t.approval != nil {
		outcome, _, err := t.approval.CheckShellApprovalClassified(command)
		if err != nil {
			if toolErr, ok := err.(*ToolError); ok {
				return textOutput(formatToolError(toolErr)), nil
			}
			return textOutput(formatToolError(NewToolError(ErrPermissionDenied, err.Error()))), nil
		}
		if outcome == Cancel {
			return textOutput("Command was not approved by the user."), nil
		}
	}

	timeout := 120
	if a.TimeoutSeconds > 0 {
		timeout = a.TimeoutSeconds
	}
	if timeout > 600 {
		timeout = 600
	}

	workDir, err := os.Getwd()
	if err != nil {
		return textOutput(formatToolError(NewToolErrorf(ErrExecutionFailed, "cannot get working directory: %v", err))), nil
	}

	execCtx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
	defer cancel()

	cmd := exec.CommandContext(execCtx, t.shellPath, "-c", command)
	cmd.Dir = workDir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}
	cmd.WaitDelay = 2 * time.Second

	if devNull, openErr := os.OpenFile(os.DevNull, os.O_RDONLY, 0); openErr == nil {
		cmd.Stdin = devNull
		defer devNull.Close()
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	result := ShellResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if execCtx.Err() == context.DeadlineExceeded {
		result.TimedOut = true
		return textOutput(formatShellResult(result, t.limits)), nil
	}
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
		} else {
			return textOutput(formatToolError(NewToolErrorf(ErrExecutionFailed, "command error: %v", runErr))), nil
		}
	}

	return textOutput(CapToolResult(formatShellResult(result, t.limits), defaultResultCapChars)), nil
}
