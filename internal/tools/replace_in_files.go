package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/reeze/piecode/internal/llm"
)

// maxReplaceFiles bounds how many files one replace_in_files call may touch.
const maxReplaceFiles = 50

// ReplaceInFilesTool implements the replace_in_files tool: a literal
// find/replace applied across every file matched by a glob pattern.
// Grounded on GlobTool's pattern-matching walk and EditFileTool's atomic
// write-via-temp-file approach, composed for a multi-file operation neither
// single-file tool covers.
type ReplaceInFilesTool struct {
	approval *ApprovalManager
}

// NewReplaceInFilesTool creates a new ReplaceInFilesTool.
func NewReplaceInFilesTool(approval *ApprovalManager) *ReplaceInFilesTool {
	return &ReplaceInFilesTool{approval: approval}
}

// ReplaceInFilesArgs are the arguments for replace_in_files.
type ReplaceInFilesArgs struct {
	Pattern string `json:"pattern"`
	OldText string `json:"old_text"`
	NewText string `json:"new_text"`
	Path    string `json:"path,omitempty"`
}

func (t *ReplaceInFilesTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        ReplaceInFilesName,
		Description: "Replace every literal occurrence of old_text with new_text across all files matching a glob pattern.",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"pattern": map[string]interface{}{
					"type":        "string",
					"description": "Glob pattern selecting files to edit, e.g. '**/*.go'",
				},
				"old_text": map[string]interface{}{
					"type":        "string",
					"description": "Literal text to find",
				},
				"new_text": map[string]interface{}{
					"type":        "string",
					"description": "Replacement text",
				},
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Base directory for the search (defaults to current directory)",
				},
			},
			"required":             []string{"pattern", "old_text", "new_text"},
			"additionalProperties": false,
		},
	}
}

func (t *ReplaceInFilesTool) Preview(args json.RawMessage) string {
	var a ReplaceInFilesArgs
	if err := json.Unmarshal(args, &a); err != nil || a.Pattern == "" {
		return ""
	}
	return a.Pattern
}

func (t *ReplaceInFilesTool) Execute(ctx context.Context, args json.RawMessage) (llm.ToolOutput, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	warning := WarnUnknownParams(args, []string{"pattern", "old_text", "new_text", "path"})
	textOutput := func(message string) llm.ToolOutput {
		return llm.TextOutput(warning + message)
	}

	var a ReplaceInFilesArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return textOutput(formatToolError(NewToolError(ErrInvalidParams, err.Error()))), nil
	}
	if a.Pattern == "" {
		return textOutput(formatToolError(NewToolError(ErrInvalidParams, "pattern is required"))), nil
	}
	if a.OldText == "" {
		return textOutput(formatToolError(NewToolError(ErrInvalidParams, "old_text is required"))), nil
	}

	basePath := a.Path
	if basePath == "" {
		var err error
		basePath, err = os.Getwd()
		if err != nil {
			return textOutput(formatToolError(NewToolErrorf(ErrExecutionFailed, "cannot get working directory: %v", err))), nil
		}
	}

	if t.approval != nil {
		outcome, err := t.approval.CheckPathApproval(ReplaceInFilesName, basePath, a.Pattern, true)
		if err != nil {
			if toolErr, ok := err.(*ToolError); ok {
				return textOutput(formatToolError(toolErr)), nil
			}
			return textOutput(formatToolError(NewToolError(ErrPermissionDenied, err.Error()))), nil
		}
		if outcome == Cancel {
			return textOutput(formatToolError(NewToolErrorf(ErrPermissionDenied, "access denied: %s", basePath))), nil
		}
	}

	absBasePath, toolErr := ResolveInWorkspace(basePath)
	if toolErr != nil {
		return textOutput(formatToolError(toolErr)), nil
	}

	var candidates []string
	err := filepath.WalkDir(absBasePath, func(path string, d os.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != absBasePath {
				return filepath.SkipDir
			}
			return nil
		}
		relPath, err := filepath.Rel(absBasePath, path)
		if err != nil {
			return nil
		}
		matched, err := doublestar.Match(a.Pattern, relPath)
		if err != nil || !matched {
			return nil
		}
		candidates = append(candidates, path)
		if len(candidates) > maxReplaceFiles {
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil && err != filepath.SkipAll {
		return textOutput(formatToolError(NewToolErrorf(ErrExecutionFailed, "walk error: %v", err))), nil
	}
	if len(candidates) > maxReplaceFiles {
		return textOutput(formatToolError(NewToolErrorf(ErrInvalidParams, "pattern matched more than %d files; narrow it", maxReplaceFiles))), nil
	}

	var changed []string
	var totalReplacements int
	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if isBinaryContent(data) {
			continue
		}
		content := string(data)
		count := strings.Count(content, a.OldText)
		if count == 0 {
			continue
		}
		updated := strings.ReplaceAll(content, a.OldText, a.NewText)

		tempFile := path + ".tmp"
		if err := os.WriteFile(tempFile, []byte(updated), 0644); err != nil {
			continue
		}
		if err := os.Rename(tempFile, path); err != nil {
			os.Remove(tempFile)
			continue
		}
		rel, _ := filepath.Rel(absBasePath, path)
		changed = append(changed, fmt.Sprintf("%s (%d replacement(s))", rel, count))
		totalReplacements += count
	}

	if len(changed) == 0 {
		return textOutput("No files changed; old_text was not found in any matched file."), nil
	}

	result := fmt.Sprintf("Replaced %d occurrence(s) across %d file(s):\n%s", totalReplacements, len(changed), strings.Join(changed, "\n"))
	return textOutput(result), nil
}
