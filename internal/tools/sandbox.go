package tools

import (
	"os"
	"path/filepath"
)

// ResolveInWorkspace resolves path to an absolute form and rejects it if it
// escapes the process's working directory, following symlinks so a link
// planted inside the workspace cannot be used to reach outside it. Every
// tool that touches the filesystem by path must call this before acting.
//
// Mirrors the containment check git.go uses for IsPathInRepo, generalized
// from "inside the repo" to "inside the workspace" since not every tool
// invocation happens inside a git repository.
func ResolveInWorkspace(path string) (string, *ToolError) {
	root, err := os.Getwd()
	if err != nil {
		return "", NewToolErrorf(ErrExecutionFailed, "cannot determine workspace root: %v", err)
	}
	return resolveWithin(root, path)
}

// ResolveInDir is like ResolveInWorkspace but checks containment against an
// explicit root instead of the current working directory.
func ResolveInDir(root, path string) (string, *ToolError) {
	return resolveWithin(root, path)
}

func resolveWithin(root, path string) (string, *ToolError) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", NewToolErrorf(ErrExecutionFailed, "cannot resolve workspace root: %v", err)
	}

	absPath := path
	if !filepath.IsAbs(absPath) {
		absPath = filepath.Join(absRoot, path)
	}
	absPath, err = filepath.Abs(absPath)
	if err != nil {
		return "", NewToolErrorf(ErrInvalidParams, "cannot resolve path: %v", err)
	}

	if !isWithin(absRoot, absPath) {
		return "", NewToolErrorf(ErrPathNotInWorkspace, "path %s is outside the workspace (%s)", path, absRoot)
	}

	// Resolve symlinks and re-check: a symlink inside the workspace can point
	// outside it. Only enforce this once the target exists — tools writing a
	// brand-new file have nothing to resolve yet.
	if resolved, err := filepath.EvalSymlinks(absPath); err == nil {
		if !isWithin(absRoot, resolved) {
			return "", NewToolErrorf(ErrSymlinkEscape, "path %s resolves outside the workspace via a symlink", path)
		}
		return resolved, nil
	}

	return absPath, nil
}

func isWithin(root, path string) bool {
	return path == root || len(path) > len(root) && path[:len(root)] == root && path[len(root)] == filepath.Separator
}
