package tools

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// defaultResultCapChars is the default char cap beyond which a tool result
// is spilled to disk instead of being returned inline.
const defaultResultCapChars = 12000

// CapToolResult writes content to .piecode/shell/result-<ts>-<rand>.txt under
// the workspace root when it exceeds capChars, returning a preview plus the
// saved path instead of the full content. capChars <= 0 uses the default
// cap of defaultResultCapChars (12000).
func CapToolResult(content string, capChars int) string {
	if capChars <= 0 {
		capChars = defaultResultCapChars
	}
	if len(content) <= capChars {
		return content
	}

	root, err := os.Getwd()
	if err != nil {
		return TruncateToolResultForDisplay(content, capChars)
	}

	dir := filepath.Join(root, ".piecode", "shell")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return TruncateToolResultForDisplay(content, capChars)
	}

	name := fmt.Sprintf("result-%d-%s.txt", time.Now().UnixNano(), randomSuffix())
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return TruncateToolResultForDisplay(content, capChars)
	}

	preview := content
	if len(preview) > capChars {
		preview = preview[:capChars]
	}
	return fmt.Sprintf("%s\n\n[Output exceeded %d characters, full result saved to %s]", preview, capChars, path)
}

// TruncateToolResultForDisplay truncates without spilling to disk, used when
// the workspace is unwritable for some reason.
func TruncateToolResultForDisplay(content string, capChars int) string {
	if len(content) <= capChars {
		return content
	}
	return content[:capChars] + "\n\n[Output truncated]"
}

func randomSuffix() string {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "0"
	}
	return hex.EncodeToString(buf)
}
