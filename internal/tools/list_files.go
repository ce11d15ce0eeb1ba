package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/reeze/piecode/internal/llm"
)

// ListFilesTool implements the list_files tool: a shallow directory listing,
// the non-recursive sibling of glob_files. Grounded on GlobTool's
// permission/sandbox sequence but walks one level instead of matching a
// pattern.
type ListFilesTool struct {
	approval *ApprovalManager
}

// NewListFilesTool creates a new ListFilesTool.
func NewListFilesTool(approval *ApprovalManager) *ListFilesTool {
	return &ListFilesTool{approval: approval}
}

// ListFilesArgs are the arguments for list_files.
type ListFilesArgs struct {
	Path string `json:"path,omitempty"`
}

func (t *ListFilesTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        ListFilesToolName,
		Description: "List the immediate contents of a directory (non-recursive). Defaults to the current directory.",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Directory to list (defaults to the workspace root)",
				},
			},
			"additionalProperties": false,
		},
	}
}

func (t *ListFilesTool) Preview(args json.RawMessage) string {
	var a ListFilesArgs
	if err := json.Unmarshal(args, &a); err != nil || a.Path == "" {
		return "."
	}
	return a.Path
}

func (t *ListFilesTool) Execute(ctx context.Context, args json.RawMessage) (llm.ToolOutput, error) {
	warning := WarnUnknownParams(args, []string{"path"})
	textOutput := func(message string) llm.ToolOutput {
		return llm.TextOutput(warning + message)
	}

	var a ListFilesArgs
	if len(args) > 0 {
		if err := json.Unmarshal(args, &a); err != nil {
			return textOutput(formatToolError(NewToolError(ErrInvalidParams, err.Error()))), nil
		}
	}

	dir := a.Path
	if dir == "" {
		var err error
		dir, err = os.Getwd()
		if err != nil {
			return textOutput(formatToolError(NewToolErrorf(ErrExecutionFailed, "cannot get working directory: %v", err))), nil
		}
	}

	if t.approval != nil {
		outcome, err := t.approval.CheckPathApproval(ListFilesToolName, dir, dir, false)
		if err != nil {
			if toolErr, ok := err.(*ToolError); ok {
				return textOutput(formatToolError(toolErr)), nil
			}
			return textOutput(formatToolError(NewToolError(ErrPermissionDenied, err.Error()))), nil
		}
		if outcome == Cancel {
			return textOutput(formatToolError(NewToolErrorf(ErrPermissionDenied, "access denied: %s", dir))), nil
		}
	}

	absDir, toolErr := ResolveInWorkspace(dir)
	if toolErr != nil {
		return textOutput(formatToolError(toolErr)), nil
	}

	entries, err := os.ReadDir(absDir)
	if err != nil {
		if os.IsNotExist(err) {
			return textOutput(formatToolError(NewToolError(ErrFileNotFound, dir))), nil
		}
		return textOutput(formatToolError(NewToolErrorf(ErrExecutionFailed, "list error: %v", err))), nil
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var sb strings.Builder
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		indicator := "f"
		size := int64(0)
		if e.IsDir() {
			indicator = "d"
		} else if info, err := e.Info(); err == nil {
			size = info.Size()
		}
		sb.WriteString(fmt.Sprintf("[%s] %8d  %s\n", indicator, size, filepath.Join(dir, e.Name())))
	}

	if sb.Len() == 0 {
		return textOutput("(empty directory)"), nil
	}

	return textOutput(strings.TrimSuffix(sb.String(), "\n")), nil
}
