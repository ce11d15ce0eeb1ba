// Package match implements progressively looser text matching for the
// edit_file tool's deterministic old_text/new_text replacement mode.
package match

import (
	"fmt"
	"strings"
)

// Level identifies which matching strategy located the replacement target.
type Level int

const (
	LevelExact Level = iota
	LevelTrimmedLines
	LevelWhitespaceInsensitive
	LevelElided
	LevelFuzzyLines
)

func (l Level) String() string {
	switch l {
	case LevelExact:
		return "exact"
	case LevelTrimmedLines:
		return "trimmed-lines"
	case LevelWhitespaceInsensitive:
		return "whitespace-insensitive"
	case LevelElided:
		return "elided"
	case LevelFuzzyLines:
		return "fuzzy-lines"
	default:
		return "unknown"
	}
}

// Result describes where and how a search string was located in content.
type Result struct {
	Original string // the exact substring of content that matched
	Start    int    // byte offset of the match start
	End      int    // byte offset of the match end
	Level    Level
}

// ErrNoMatch is returned when no matching strategy could locate the search text.
var ErrNoMatch = fmt.Errorf("no match found for old_text")

// ErrAmbiguous is returned when a strategy finds more than one candidate.
var ErrAmbiguous = fmt.Errorf("old_text matches multiple locations; include more context")

// FindMatch locates search within content, trying increasingly permissive
// strategies. A "..." token inside search matches any run of characters
// (including newlines), letting callers elide large unchanged middle
// sections of a block.
func FindMatch(content, search string) (Result, error) {
	if search == "" {
		return Result{}, fmt.Errorf("old_text is empty")
	}

	if strings.Contains(search, "...") {
		return findElided(content, search)
	}

	if start, end, ok := uniqueIndex(content, search); ok {
		return Result{Original: content[start:end], Start: start, End: end, Level: LevelExact}, nil
	}

	if r, ok, err := findTrimmedLines(content, search); err != nil {
		return Result{}, err
	} else if ok {
		return r, nil
	}

	if r, ok, err := findWhitespaceInsensitive(content, search); err != nil {
		return Result{}, err
	} else if ok {
		return r, nil
	}

	return Result{}, ErrNoMatch
}

// ApplyMatch replaces the matched region with newText.
func ApplyMatch(content string, result Result, newText string) string {
	return content[:result.Start] + newText + content[result.End:]
}

// uniqueIndex returns the start/end of the single occurrence of sub in s, or
// ok=false if it appears zero or more than once.
func uniqueIndex(s, sub string) (start, end int, ok bool) {
	first := strings.Index(s, sub)
	if first < 0 {
		return 0, 0, false
	}
	if strings.Index(s[first+1:], sub) >= 0 {
		return 0, 0, false
	}
	return first, first + len(sub), true
}

// findTrimmedLines matches line-by-line, ignoring leading/trailing whitespace
// per line (handles re-indentation by the model).
func findTrimmedLines(content, search string) (Result, bool, error) {
	searchLines := strings.Split(search, "\n")
	contentLines := strings.Split(content, "\n")

	trim := func(s string) string { return strings.TrimRight(strings.TrimLeft(s, " \t"), " \t") }

	var matches []struct{ startLine, endLine int }
	for i := 0; i+len(searchLines) <= len(contentLines); i++ {
		match := true
		for j, sl := range searchLines {
			if trim(contentLines[i+j]) != trim(sl) {
				match = false
				break
			}
		}
		if match {
			matches = append(matches, struct{ startLine, endLine int }{i, i + len(searchLines)})
		}
	}

	if len(matches) == 0 {
		return Result{}, false, nil
	}
	if len(matches) > 1 {
		return Result{}, false, ErrAmbiguous
	}

	m := matches[0]
	start := lineOffset(contentLines, m.startLine)
	end := lineOffset(contentLines, m.endLine)
	if end > 0 {
		end-- // drop the trailing separator counted by lineOffset
	}
	return Result{Original: content[start:end], Start: start, End: end, Level: LevelTrimmedLines}, true, nil
}

// findWhitespaceInsensitive collapses all runs of whitespace to a single
// space before comparing, the loosest non-elided strategy.
func findWhitespaceInsensitive(content, search string) (Result, bool, error) {
	normalize := func(s string) string {
		fields := strings.Fields(s)
		return strings.Join(fields, " ")
	}
	normSearch := normalize(search)
	if normSearch == "" {
		return Result{}, false, nil
	}

	// Slide a window of the same line-count as search over content lines,
	// comparing normalized forms; collect all matches to detect ambiguity.
	searchLines := strings.Split(search, "\n")
	contentLines := strings.Split(content, "\n")

	var matches []struct{ startLine, endLine int }
	for i := 0; i+len(searchLines) <= len(contentLines); i++ {
		window := strings.Join(contentLines[i:i+len(searchLines)], "\n")
		if normalize(window) == normSearch {
			matches = append(matches, struct{ startLine, endLine int }{i, i + len(searchLines)})
		}
	}

	if len(matches) == 0 {
		return Result{}, false, nil
	}
	if len(matches) > 1 {
		return Result{}, false, ErrAmbiguous
	}

	m := matches[0]
	start := lineOffset(contentLines, m.startLine)
	end := lineOffset(contentLines, m.endLine)
	if end > 0 {
		end--
	}
	return Result{Original: content[start:end], Start: start, End: end, Level: LevelWhitespaceInsensitive}, true, nil
}

// findElided matches a search string containing "..." by anchoring on the
// text before and after the ellipsis, requiring the end anchor to appear
// after the start anchor.
func findElided(content, search string) (Result, error) {
	parts := strings.SplitN(search, "...", 2)
	if len(parts) != 2 {
		return Result{}, fmt.Errorf("malformed elided search text")
	}
	head, tail := parts[0], parts[1]
	if head == "" || tail == "" {
		return Result{}, fmt.Errorf("elided search text needs content before and after ...")
	}

	headIdx := strings.Index(content, head)
	if headIdx < 0 {
		return Result{}, ErrNoMatch
	}
	if strings.Index(content[headIdx+1:], head) >= 0 {
		return Result{}, ErrAmbiguous
	}

	searchFrom := headIdx + len(head)
	tailIdx := strings.Index(content[searchFrom:], tail)
	if tailIdx < 0 {
		return Result{}, fmt.Errorf("could not find end anchor after elided section")
	}
	end := searchFrom + tailIdx + len(tail)

	return Result{Original: content[headIdx:end], Start: headIdx, End: end, Level: LevelElided}, nil
}

// lineOffset returns the byte offset of the start of line n (0-indexed) in
// the joined-by-\n reconstruction of lines.
func lineOffset(lines []string, n int) int {
	offset := 0
	for i := 0; i < n && i < len(lines); i++ {
		offset += len(lines[i]) + 1
	}
	return offset
}
