package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gobwas/glob"
	"github.com/reeze/piecode/internal/llm"
)

// maxFindResults caps find_files output, mirroring glob_files' cap.
const maxFindResults = 200

// FindFilesTool implements the find_files tool: recursive filename search by
// substring or simple glob (non-** single-segment patterns), using
// github.com/gobwas/glob for pattern compilation. Distinguished from
// glob_files, which matches full relative paths with doublestar ** support;
// find_files matches basenames only, closer to `find . -name`.
type FindFilesTool struct {
	approval *ApprovalManager
}

// NewFindFilesTool creates a new FindFilesTool.
func NewFindFilesTool(approval *ApprovalManager) *FindFilesTool {
	return &FindFilesTool{approval: approval}
}

// FindFilesArgs are the arguments for find_files.
type FindFilesArgs struct {
	Name string `json:"name"`
	Path string `json:"path,omitempty"`
}

func (t *FindFilesTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        FindFilesToolName,
		Description: "Find files by name (substring or glob against the basename, e.g. '*.go' or 'config').",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"name": map[string]interface{}{
					"type":        "string",
					"description": "Filename substring or glob pattern, matched against basenames",
				},
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Directory to search under (defaults to the workspace root)",
				},
			},
			"required":             []string{"name"},
			"additionalProperties": false,
		},
	}
}

func (t *FindFilesTool) Preview(args json.RawMessage) string {
	var a FindFilesArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return ""
	}
	return a.Name
}

func (t *FindFilesTool) Execute(ctx context.Context, args json.RawMessage) (llm.ToolOutput, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	warning := WarnUnknownParams(args, []string{"name", "path"})
	textOutput := func(message string) llm.ToolOutput {
		return llm.TextOutput(warning + message)
	}

	var a FindFilesArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return textOutput(formatToolError(NewToolError(ErrInvalidParams, err.Error()))), nil
	}
	if a.Name == "" {
		return textOutput(formatToolError(NewToolError(ErrInvalidParams, "name is required"))), nil
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
		outcome, err := t.approval.CheckPathApproval(FindFilesToolName, basePath, a.Name, false)
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

	var matcher glob.Glob
	pattern := a.Name
	if strings.ContainsAny(pattern, "*?[") {
		g, err := glob.Compile(pattern)
		if err != nil {
			return textOutput(formatToolError(NewToolErrorf(ErrInvalidParams, "invalid name pattern: %v", err))), nil
		}
		matcher = g
	}

	var matches []string
	err := filepath.WalkDir(absBasePath, func(path string, d os.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			return nil
		}
		if d.IsDir() && strings.HasPrefix(d.Name(), ".") && path != absBasePath {
			return filepath.SkipDir
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		matched := false
		if matcher != nil {
			matched = matcher.Match(name)
		} else {
			matched = strings.Contains(strings.ToLower(name), strings.ToLower(pattern))
		}
		if matched {
			matches = append(matches, path)
			if len(matches) >= maxFindResults {
				return filepath.SkipAll
			}
		}
		return nil
	})
	if err != nil && err != filepath.SkipAll {
		return textOutput(formatToolError(NewToolErrorf(ErrExecutionFailed, "walk error: %v", err))), nil
	}

	if len(matches) == 0 {
		return textOutput("No files matched."), nil
	}

	sort.Strings(matches)
	out := strings.Join(matches, "\n")
	if len(matches) >= maxFindResults {
		out += "\n[Results truncated]"
	}
	return textOutput(out), nil
}
