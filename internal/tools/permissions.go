package tools

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
)

// ToolPermissions is the sandbox gatekeeper: it holds the allow-listed read
// and write directories and shell command patterns a tool run is confined
// to, independent of the interactive ApprovalManager's session/project
// caches (which layer on top of this for paths the allowlist doesn't cover).
type ToolPermissions struct {
	readDirs       []string
	writeDirs      []string
	shellPatterns  []glob.Glob
	scriptCommands map[string]bool
}

// NewToolPermissions returns an empty permission set; nothing is allowed
// until directories/patterns are added.
func NewToolPermissions() *ToolPermissions {
	return &ToolPermissions{
		scriptCommands: make(map[string]bool),
	}
}

// AddReadDir allow-lists dir (and everything under it) for read access.
func (p *ToolPermissions) AddReadDir(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolve read dir %q: %w", dir, err)
	}
	p.readDirs = append(p.readDirs, abs)
	return nil
}

// AddWriteDir allow-lists dir (and everything under it) for write access.
// Writable directories are implicitly readable.
func (p *ToolPermissions) AddWriteDir(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolve write dir %q: %w", dir, err)
	}
	p.writeDirs = append(p.writeDirs, abs)
	return nil
}

// AddShellPattern compiles and allow-lists a shell command glob pattern
// (e.g. "git *", "npm test").
func (p *ToolPermissions) AddShellPattern(pattern string) error {
	g, err := glob.Compile(pattern)
	if err != nil {
		return fmt.Errorf("compile shell pattern %q: %w", pattern, err)
	}
	p.shellPatterns = append(p.shellPatterns, g)
	return nil
}

// AddScriptCommand allow-lists an exact command string, auto-approved
// without pattern matching.
func (p *ToolPermissions) AddScriptCommand(script string) {
	p.scriptCommands[script] = true
}

func isUnderAny(path string, dirs []string) (bool, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false, fmt.Errorf("resolve path %q: %w", path, err)
	}
	for _, dir := range dirs {
		rel, err := filepath.Rel(dir, abs)
		if err != nil {
			continue
		}
		if rel == "." || (!strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel)) {
			return true, nil
		}
	}
	return false, nil
}

// IsPathAllowedForRead reports whether path falls under an allow-listed read
// or write directory.
func (p *ToolPermissions) IsPathAllowedForRead(path string) (bool, error) {
	if ok, err := isUnderAny(path, p.readDirs); ok || err != nil {
		return ok, err
	}
	return isUnderAny(path, p.writeDirs)
}

// IsPathAllowedForWrite reports whether path falls under an allow-listed
// write directory.
func (p *ToolPermissions) IsPathAllowedForWrite(path string) (bool, error) {
	return isUnderAny(path, p.writeDirs)
}

// IsShellCommandAllowed reports whether command matches an allow-listed
// shell glob pattern or exact script command.
func (p *ToolPermissions) IsShellCommandAllowed(command string) bool {
	if p.scriptCommands[command] {
		return true
	}
	for _, g := range p.shellPatterns {
		if g.Match(command) {
			return true
		}
	}
	return false
}
