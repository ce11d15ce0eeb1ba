package tools

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/reeze/piecode/cmd/udiff"
	"github.com/reeze/piecode/internal/llm"
	"github.com/reeze/piecode/internal/match"
)

// EditFileTool implements the edit_file tool: deterministic string
// replacement with progressively looser matching.
type EditFileTool struct {
	approval *ApprovalManager
}

// NewEditFileTool creates a new EditFileTool.
func NewEditFileTool(approval *ApprovalManager) *EditFileTool {
	return &EditFileTool{
		approval: approval,
	}
}

// EditFileArgs are the arguments for edit_file.
type EditFileArgs struct {
	FilePath string `json:"file_path"`
	OldText  string `json:"old_text"`
	NewText  string `json:"new_text"`
}

func (t *EditFileTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name: EditFileToolName,
		Description: `Edit a file by replacing old_text with new_text. Include enough surrounding
context in old_text to uniquely identify the target location. You may use the literal
token <<<elided>>> inside old_text to match any sequence of characters (including
newlines), which lets you anchor on a block's start and end without repeating its middle.`,
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"file_path": map[string]interface{}{
					"type":        "string",
					"description": "Path to the file to edit",
				},
				"old_text": map[string]interface{}{
					"type":        "string",
					"description": "Exact text to find and replace. Include enough context to be unique. You may use <<<elided>>> to match any sequence.",
				},
				"new_text": map[string]interface{}{
					"type":        "string",
					"description": "Text to replace old_text with",
				},
			},
			"required":             []string{"file_path", "old_text", "new_text"},
			"additionalProperties": false,
		},
	}
}

func (t *EditFileTool) Preview(args json.RawMessage) string {
	var a EditFileArgs
	if err := json.Unmarshal(args, &a); err != nil || a.FilePath == "" {
		return ""
	}
	return a.FilePath
}

func (t *EditFileTool) Execute(ctx context.Context, args json.RawMessage) (llm.ToolOutput, error) {
	var a EditFileArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return llm.TextOutput(formatToolError(NewToolError(ErrInvalidParams, err.Error()))), nil
	}

	if a.FilePath == "" {
		return llm.TextOutput(formatToolError(NewToolError(ErrInvalidParams, "file_path is required"))), nil
	}
	if a.OldText == "" {
		return llm.TextOutput(formatToolError(NewToolError(ErrInvalidParams, "old_text is required"))), nil
	}

	if t.approval != nil {
		outcome, err := t.approval.CheckPathApproval(EditFileToolName, a.FilePath, a.FilePath, true)
		if err != nil {
			if toolErr, ok := err.(*ToolError); ok {
				return llm.TextOutput(formatToolError(toolErr)), nil
			}
			return llm.TextOutput(formatToolError(NewToolError(ErrPermissionDenied, err.Error()))), nil
		}
		if outcome == Cancel {
			return llm.TextOutput(formatToolError(NewToolErrorf(ErrPermissionDenied, "access denied: %s", a.FilePath))), nil
		}
	}

	return t.executeDirectEdit(a)
}

// executeDirectEdit performs a deterministic string replacement using
// progressively looser matching, serialized against concurrent edits to the
// same file via an flock-based lock file.
func (t *EditFileTool) executeDirectEdit(a EditFileArgs) (llm.ToolOutput, error) {
	absPath, toolErr := ResolveInWorkspace(a.FilePath)
	if toolErr != nil {
		return llm.TextOutput(formatToolError(toolErr)), nil
	}

	// A lock file, not the file itself: rename() replaces the inode, so a
	// lock held on the old fd would be invisible to a concurrent writer.
	lockPath := absPath + ".lock"
	lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return llm.TextOutput(formatToolError(NewToolErrorf(ErrExecutionFailed, "failed to create lock file: %v", err))), nil
	}
	defer func() {
		lockFile.Close()
		os.Remove(lockPath)
	}()

	if err := syscall.Flock(int(lockFile.Fd()), syscall.LOCK_EX); err != nil {
		return llm.TextOutput(formatToolError(NewToolErrorf(ErrExecutionFailed, "failed to lock: %v", err))), nil
	}
	defer syscall.Flock(int(lockFile.Fd()), syscall.LOCK_UN)

	data, err := os.ReadFile(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return llm.TextOutput(formatToolError(NewToolError(ErrFileNotFound, a.FilePath))), nil
		}
		return llm.TextOutput(formatToolError(NewToolErrorf(ErrExecutionFailed, "read error: %v", err))), nil
	}

	content := string(data)
	search := strings.ReplaceAll(a.OldText, "<<<elided>>>", "...")

	result, err := match.FindMatch(content, search)
	if err != nil {
		return llm.TextOutput(formatToolError(NewToolErrorf(ErrExecutionFailed, "could not find old_text: %v", err))), nil
	}

	newContent := match.ApplyMatch(content, result, a.NewText)

	if err := atomicWrite(absPath, newContent); err != nil {
		return llm.TextOutput(formatToolError(NewToolErrorf(ErrExecutionFailed, "%v", err))), nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Edited %s (match level: %s)\n", a.FilePath, result.Level.String()))
	sb.WriteString(fmt.Sprintf("Replaced %d bytes with %d bytes", len(result.Original), len(a.NewText)))

	oldLines := countLines(result.Original)
	newLines := countLines(a.NewText)
	if oldLines != newLines {
		sb.WriteString(fmt.Sprintf("\nLines: %d -> %d", oldLines, newLines))
	}

	var diffs []string
	if len(result.Original) < maxDiffSize && len(a.NewText) < maxDiffSize {
		startLine := strings.Count(content[:result.Start], "\n") + 1
		diffData := struct {
			File string `json:"f"`
			Old  string `json:"o"`
			New  string `json:"n"`
			Line int    `json:"l"`
		}{a.FilePath, result.Original, a.NewText, startLine}
		if encoded, err := json.Marshal(diffData); err == nil {
			marker := base64.StdEncoding.EncodeToString(encoded)
			sb.WriteString("\n__DIFF__:" + marker)
			diffs = append(diffs, marker)
		}
	}

	return llm.ToolOutput{Text: sb.String(), Diffs: diffs}, nil
}

// atomicWrite writes content to path via a temp file plus rename, so
// readers never observe a partial write.
func atomicWrite(path, content string) error {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	tempFile, err := os.CreateTemp(dir, "."+base+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tempPath := tempFile.Name()

	if _, err := tempFile.WriteString(content); err != nil {
		tempFile.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// ApplyPatchTool implements the apply_patch tool: unified-diff based edits
// across one or more files in a single call.
type ApplyPatchTool struct {
	approval *ApprovalManager
}

// NewApplyPatchTool creates a new ApplyPatchTool.
func NewApplyPatchTool(approval *ApprovalManager) *ApplyPatchTool {
	return &ApplyPatchTool{approval: approval}
}

// ApplyPatchArgs are the arguments for apply_patch.
type ApplyPatchArgs struct {
	Diff string `json:"diff"`
}

func (t *ApplyPatchTool) Spec() llm.ToolSpec {
	return llm.ApplyPatchToolSpec()
}

func (t *ApplyPatchTool) Preview(args json.RawMessage) string {
	var a ApplyPatchArgs
	if err := json.Unmarshal(args, &a); err != nil || a.Diff == "" {
		return ""
	}
	for _, line := range strings.Split(a.Diff, "\n") {
		if strings.HasPrefix(line, "--- ") {
			return strings.TrimPrefix(strings.TrimPrefix(line, "--- "), "a/")
		}
	}
	return "multiple files"
}

func (t *ApplyPatchTool) Execute(ctx context.Context, args json.RawMessage) (llm.ToolOutput, error) {
	var a ApplyPatchArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return llm.TextOutput(formatToolError(NewToolError(ErrInvalidParams, err.Error()))), nil
	}
	if a.Diff == "" {
		return llm.TextOutput(formatToolError(NewToolError(ErrInvalidParams, "diff is required"))), nil
	}

	fileDiffs, err := udiff.Parse(a.Diff)
	if err != nil {
		return llm.TextOutput(formatToolError(NewToolErrorf(ErrInvalidParams, "failed to parse diff: %v", err))), nil
	}
	if len(fileDiffs) == 0 {
		return llm.TextOutput("No changes to apply"), nil
	}

	resolved := make([]string, len(fileDiffs))
	for i, fd := range fileDiffs {
		if t.approval != nil {
			outcome, err := t.approval.CheckPathApproval(ApplyPatchToolName, fd.Path, fd.Path, true)
			if err != nil {
				if toolErr, ok := err.(*ToolError); ok {
					return llm.TextOutput(formatToolError(toolErr)), nil
				}
				return llm.TextOutput(formatToolError(NewToolError(ErrPermissionDenied, err.Error()))), nil
			}
			if outcome == Cancel {
				return llm.TextOutput(formatToolError(NewToolErrorf(ErrPermissionDenied, "access denied: %s", fd.Path))), nil
			}
		}
		absPath, toolErr := ResolveInWorkspace(fd.Path)
		if toolErr != nil {
			return llm.TextOutput(formatToolError(toolErr)), nil
		}
		resolved[i] = absPath
	}

	var sb strings.Builder
	var allWarnings []string
	var diffs []string

	for i, fd := range fileDiffs {
		absPath := resolved[i]
		data, err := os.ReadFile(absPath)
		if err != nil {
			allWarnings = append(allWarnings, fmt.Sprintf("%s: %v", fd.Path, err))
			continue
		}
		content := string(data)

		result := udiff.ApplyWithWarnings(content, fd.Hunks)
		if len(result.Warnings) > 0 {
			allWarnings = append(allWarnings, result.Warnings...)
		}

		if result.Content == content {
			sb.WriteString(fmt.Sprintf("No changes for %s\n", fd.Path))
			continue
		}

		if err := atomicWrite(absPath, result.Content); err != nil {
			allWarnings = append(allWarnings, fmt.Sprintf("%s: %v", fd.Path, err))
			continue
		}

		sb.WriteString(fmt.Sprintf("Applied changes to %s\n", fd.Path))

		if len(content) < maxDiffSize && len(result.Content) < maxDiffSize {
			diffData := struct {
				File string `json:"f"`
				Old  string `json:"o"`
				New  string `json:"n"`
				Line int    `json:"l"`
			}{fd.Path, content, result.Content, 1}
			if encoded, err := json.Marshal(diffData); err == nil {
				marker := base64.StdEncoding.EncodeToString(encoded)
				sb.WriteString("\n__DIFF__:" + marker + "\n")
				diffs = append(diffs, marker)
			}
		}
	}

	if len(allWarnings) > 0 {
		sb.WriteString("\nWarnings:\n")
		for _, w := range allWarnings {
			sb.WriteString("- " + w + "\n")
		}
	}

	return llm.ToolOutput{Text: sb.String(), Diffs: diffs}, nil
}
