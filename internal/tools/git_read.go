package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/reeze/piecode/internal/llm"
)

// GitStatusTool implements the git_status tool, the dedicated read-only
// counterpart to running "git status" through the shell tool. Registering it
// separately lets a turn policy allow status checks (repo_status) without
// opening up the general shell surface.
type GitStatusTool struct {
	approval *ApprovalManager
}

// NewGitStatusTool creates a new GitStatusTool.
func NewGitStatusTool(approval *ApprovalManager) *GitStatusTool {
	return &GitStatusTool{approval: approval}
}

// GitDiffTool implements the git_diff tool.
type GitDiffTool struct {
	approval *ApprovalManager
}

// NewGitDiffTool creates a new GitDiffTool.
func NewGitDiffTool(approval *ApprovalManager) *GitDiffTool {
	return &GitDiffTool{approval: approval}
}

// GitDiffArgs are the arguments for git_diff.
type GitDiffArgs struct {
	Staged bool   `json:"staged,omitempty"`
	Path   string `json:"path,omitempty"`
}

func (t *GitStatusTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        GitStatusToolName,
		Description: "Show the working tree status (equivalent to 'git status --short --branch').",
		Schema: map[string]interface{}{
			"type":                 "object",
			"properties":           map[string]interface{}{},
			"additionalProperties": false,
		},
	}
}

func (t *GitStatusTool) Preview(args json.RawMessage) string {
	return "git status"
}

func (t *GitStatusTool) Execute(ctx context.Context, args json.RawMessage) (llm.ToolOutput, error) {
	if t.approval != nil {
		outcome, _, err := t.approval.CheckShellApprovalClassified("git status")
		if err != nil {
			if toolErr, ok := err.(*ToolError); ok {
				return llm.TextOutput(formatToolError(toolErr)), nil
			}
			return llm.TextOutput(formatToolError(NewToolError(ErrPermissionDenied, err.Error()))), nil
		}
		if outcome == Cancel {
			return llm.TextOutput("Command was not approved by the user."), nil
		}
	}
	return llm.TextOutput(runGitReadOnly(ctx, "status", "--short", "--branch")), nil
}

func (t *GitDiffTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        GitDiffToolName,
		Description: "Show changes between the working tree and the index or HEAD (equivalent to 'git diff').",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"staged": map[string]interface{}{
					"type":        "boolean",
					"description": "Show staged changes only (git diff --cached)",
				},
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Limit the diff to this file or directory",
				},
			},
			"additionalProperties": false,
		},
	}
}

func (t *GitDiffTool) Preview(args json.RawMessage) string {
	var a GitDiffArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return "git diff"
	}
	if a.Path != "" {
		return fmt.Sprintf("git diff %s", a.Path)
	}
	return "git diff"
}

func (t *GitDiffTool) Execute(ctx context.Context, args json.RawMessage) (llm.ToolOutput, error) {
	warning := WarnUnknownParams(args, []string{"staged", "path"})
	var a GitDiffArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return llm.TextOutput(warning + formatToolError(NewToolError(ErrInvalidParams, err.Error()))), nil
	}

	display := "git diff"
	if a.Staged {
		display += " --cached"
	}
	if a.Path != "" {
		display += " -- " + a.Path
	}

	if t.approval != nil {
		outcome, _, err := t.approval.CheckShellApprovalClassified(display)
		if err != nil {
			if toolErr, ok := err.(*ToolError); ok {
				return llm.TextOutput(formatToolError(toolErr)), nil
			}
			return llm.TextOutput(formatToolError(NewToolError(ErrPermissionDenied, err.Error()))), nil
		}
		if outcome == Cancel {
			return llm.TextOutput("Command was not approved by the user."), nil
		}
	}

	gitArgs := []string{"diff"}
	if a.Staged {
		gitArgs = append(gitArgs, "--cached")
	}
	if a.Path != "" {
		absPath, toolErr := ResolveInWorkspace(a.Path)
		if toolErr != nil {
			return llm.TextOutput(warning + formatToolError(toolErr)), nil
		}
		gitArgs = append(gitArgs, "--", absPath)
	}

	return llm.TextOutput(warning + CapToolResult(runGitReadOnly(ctx, gitArgs...), defaultResultCapChars)), nil
}

// runGitReadOnly runs a read-only git subcommand in the current workspace and
// formats its output with a leading exit_code line, matching the shell
// tool's result envelope so the two are interchangeable evidence.
func runGitReadOnly(ctx context.Context, args ...string) string {
	root, err := os.Getwd()
	if err != nil {
		return formatToolError(NewToolErrorf(ErrExecutionFailed, "cannot determine workspace root: %v", err))
	}

	execCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cmd := exec.CommandContext(execCtx, "git", args...)
	cmd.Dir = root
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return formatToolError(NewToolErrorf(ErrExecutionFailed, "git error: %v", err))
		}
	}

	var sb bytes.Buffer
	fmt.Fprintf(&sb, "exit_code: %d\n", exitCode)
	if stdout.Len() > 0 {
		sb.WriteString(stdout.String())
		if stdout.Bytes()[stdout.Len()-1] != '\n' {
			sb.WriteByte('\n')
		}
	}
	if stderr.Len() > 0 {
		sb.WriteString("stderr:\n")
		sb.WriteString(stderr.String())
	}
	return sb.String()
}
