package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/reeze/piecode/internal/llm"
)

// maxReadFilesCount bounds how many files one read_files call may request,
// so a single tool call can't read the entire workspace in one shot.
const maxReadFilesCount = 20

// ReadFilesTool implements the read_files tool: a batch sibling of
// read_file for when the model already knows exactly which files it wants.
// Grounded on ReadFileTool's permission/sandbox/binary-detection sequence,
// applied per path, with per-file results concatenated under a header.
type ReadFilesTool struct {
	approval *ApprovalManager
	limits   OutputLimits
}

// NewReadFilesTool creates a new ReadFilesTool.
func NewReadFilesTool(approval *ApprovalManager, limits OutputLimits) *ReadFilesTool {
	return &ReadFilesTool{approval: approval, limits: limits}
}

// ReadFilesArgs are the arguments for read_files.
type ReadFilesArgs struct {
	FilePaths []string `json:"file_paths"`
}

func (t *ReadFilesTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        ReadFilesToolName,
		Description: fmt.Sprintf("Read the full contents of up to %d files in one call. Returns line-numbered output per file.", maxReadFilesCount),
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"file_paths": map[string]interface{}{
					"type":        "array",
					"items":       map[string]interface{}{"type": "string"},
					"description": "Paths to read",
				},
			},
			"required":             []string{"file_paths"},
			"additionalProperties": false,
		},
	}
}

func (t *ReadFilesTool) Preview(args json.RawMessage) string {
	var a ReadFilesArgs
	if err := json.Unmarshal(args, &a); err != nil || len(a.FilePaths) == 0 {
		return ""
	}
	if len(a.FilePaths) == 1 {
		return a.FilePaths[0]
	}
	return fmt.Sprintf("%d files", len(a.FilePaths))
}

func (t *ReadFilesTool) Execute(ctx context.Context, args json.RawMessage) (llm.ToolOutput, error) {
	var a ReadFilesArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return llm.TextOutput(formatToolError(NewToolError(ErrInvalidParams, err.Error()))), nil
	}
	if len(a.FilePaths) == 0 {
		return llm.TextOutput(formatToolError(NewToolError(ErrInvalidParams, "file_paths is required"))), nil
	}
	if len(a.FilePaths) > maxReadFilesCount {
		return llm.TextOutput(formatToolError(NewToolErrorf(ErrInvalidParams, "too many files requested (%d), max %d", len(a.FilePaths), maxReadFilesCount))), nil
	}

	var sb strings.Builder
	for i, fp := range a.FilePaths {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(fmt.Sprintf("=== %s ===\n", fp))
		sb.WriteString(t.readOne(fp))
	}

	return llm.TextOutput(CapToolResult(sb.String(), defaultResultCapChars)), nil
}

func (t *ReadFilesTool) readOne(fp string) string {
	if t.approval != nil {
		outcome, err := t.approval.CheckPathApproval(ReadFilesToolName, fp, fp, false)
		if err != nil {
			if toolErr, ok := err.(*ToolError); ok {
				return formatToolError(toolErr)
			}
			return formatToolError(NewToolError(ErrPermissionDenied, err.Error()))
		}
		if outcome == Cancel {
			return formatToolError(NewToolErrorf(ErrPermissionDenied, "access denied: %s", fp))
		}
	}

	absPath, toolErr := ResolveInWorkspace(fp)
	if toolErr != nil {
		return formatToolError(toolErr)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return formatToolError(NewToolError(ErrFileNotFound, fp))
		}
		return formatToolError(NewToolErrorf(ErrExecutionFailed, "read error: %v", err))
	}
	if isBinaryContent(data) {
		return formatToolError(NewToolErrorf(ErrBinaryFile, "%s appears to be a binary file", fp))
	}

	lines := strings.Split(string(data), "\n")
	truncated := false
	if len(lines) > t.limits.MaxLines {
		lines = lines[:t.limits.MaxLines]
		truncated = true
	}

	var sb strings.Builder
	for i, line := range lines {
		sb.WriteString(fmt.Sprintf("%d: %s\n", i+1, line))
	}
	out := strings.TrimSuffix(sb.String(), "\n")
	if truncated {
		out += "\n[Output truncated]"
	}
	return out
}
