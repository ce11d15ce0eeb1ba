package llm

import (
	"context"
	"fmt"
	"strings"
)

// WarningPhasePrefix marks an EventPhase text as a user-facing warning rather
// than routine progress, so renderers can style it differently.
const WarningPhasePrefix = "warning: "

const defaultThresholdRatio = 0.80

// CompactionConfig controls when and how the context manager summarizes
// history to keep requests under a provider's input token limit.
type CompactionConfig struct {
	// ThresholdRatio triggers compaction once estimated tokens reach this
	// fraction of the configured input limit.
	ThresholdRatio float64
	// KeepRecentTurns preserves this many of the most recent messages
	// uncompacted, so the model always sees verbatim recent context.
	KeepRecentTurns int
	// MaxToolResultChars additionally truncates individual tool results
	// during compaction, independent of any global truncation limit.
	MaxToolResultChars int
	// SummaryModel overrides the model used for the summarization call.
	// Empty means reuse the request's model.
	SummaryModel string
}

// DefaultCompactionConfig returns sane defaults for automatic compaction.
func DefaultCompactionConfig() CompactionConfig {
	return CompactionConfig{
		ThresholdRatio:     defaultThresholdRatio,
		KeepRecentTurns:    6,
		MaxToolResultChars: 4000,
	}
}

// CompactionResult describes the outcome of a single compaction pass, mirroring
// the compactHistory(opts) CLI surface's {compacted, beforeMessages,
// afterMessages, removedMessages} return shape.
type CompactionResult struct {
	// Compacted is false when the history was already at or under the
	// preserveRecent watermark, in which case NewMessages is untouched.
	Compacted bool
	// NewMessages replaces the non-system message history passed in.
	NewMessages []Message
	// Summary is the generated summary text, for display/logging.
	Summary string
	// MessagesBefore/MessagesAfter record the size change for observability.
	MessagesBefore int
	MessagesAfter  int
	// RemovedMessages is MessagesBefore minus the count folded into history
	// (i.e. how many original messages the summary replaced).
	RemovedMessages int
}

// nonSystemMessages filters out system-role messages, defined in engine.go.

// Compact summarizes older messages into a single synthetic summary message,
// keeping the most recent KeepRecentTurns messages verbatim. It issues one
// extra non-streaming-style request to the same provider asking it to
// summarize the conversation so far.
//
// Per §4.3: if len(messages) <= preserveRecent the call is a no-op
// (Compacted:false); otherwise history is replaced by a single synthetic
// assistant message tagged "[CONTEXT SUMMARY]" followed by the preserved tail.
func Compact(ctx context.Context, provider Provider, model, systemPrompt string, messages []Message, cfg CompactionConfig) (*CompactionResult, error) {
	keep := cfg.KeepRecentTurns
	if keep <= 0 {
		keep = 6
	}
	if len(messages) <= keep {
		return &CompactionResult{
			Compacted:      false,
			NewMessages:    messages,
			MessagesBefore: len(messages),
			MessagesAfter:  len(messages),
		}, nil
	}

	toSummarize := messages[:len(messages)-keep]
	recent := messages[len(messages)-keep:]

	summaryModel := cfg.SummaryModel
	if summaryModel == "" {
		summaryModel = model
	}

	req := Request{
		Model: summaryModel,
		Messages: append([]Message{
			SystemText("You are summarizing a coding-assistant conversation so it can continue with less context. " +
				"Write a dense bullet-point summary covering: user goals, decisions made, files touched, and unresolved next steps. " +
				"Omit pleasantries. Do not include tool-call syntax verbatim."),
		}, toSummarize...),
		MaxOutputTokens: 1024,
	}

	stream, err := provider.Stream(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("compaction request: %w", err)
	}
	defer stream.Close()

	var sb strings.Builder
	for {
		ev, err := stream.Recv()
		if err != nil {
			break
		}
		if ev.Type == EventTextDelta {
			sb.WriteString(ev.Text)
		}
		if ev.Type == EventDone || ev.Type == EventError {
			break
		}
	}

	summary := strings.TrimSpace(sb.String())
	if summary == "" {
		summary = "(no summary produced; prior turns truncated)"
	}

	summaryMsg := AssistantText("[CONTEXT SUMMARY]\n" + summary)

	newMessages := append([]Message{summaryMsg}, recent...)

	return &CompactionResult{
		Compacted:       true,
		NewMessages:     newMessages,
		Summary:         summary,
		MessagesBefore:  len(messages),
		MessagesAfter:   len(newMessages),
		RemovedMessages: len(toSummarize),
	}, nil
}

// ClearHistory is the clearHistory() CLI-surface operation (§4.3, §6): it
// empties a message log, keeping only a leading system message if present so
// the caller doesn't have to re-supply it on the next turn.
func ClearHistory(history []Message) []Message {
	for _, m := range history {
		if m.Role == RoleSystem {
			return []Message{m}
		}
	}
	return nil
}

// CompactHistory is the compactHistory(opts) CLI-surface operation (§6):
// an on-demand compaction of a full message history, independent of the
// engine's automatic ratio-triggered compaction. preserveRecent <= 0 uses
// the package default (6).
func CompactHistory(ctx context.Context, provider Provider, model, systemPrompt string, history []Message, preserveRecent int) (*CompactionResult, error) {
	cfg := CompactionConfig{KeepRecentTurns: preserveRecent}
	return Compact(ctx, provider, model, systemPrompt, history, cfg)
}

// TruncateToolResult truncates tool output content to maxChars, preserving
// the head and tail so both the request context and final lines survive.
func TruncateToolResult(content string, maxChars int) string {
	if maxChars <= 0 || len(content) <= maxChars {
		return content
	}
	headLen := maxChars * 2 / 3
	tailLen := maxChars - headLen
	if headLen+tailLen >= len(content) {
		return content
	}
	omitted := len(content) - headLen - tailLen
	return content[:headLen] + fmt.Sprintf("\n...[%d chars omitted]...\n", omitted) + content[len(content)-tailLen:]
}

// isContextOverflowError detects provider errors that indicate the request
// exceeded the model's input token limit, so the caller can attempt a
// reactive compaction and retry.
func isContextOverflowError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"context length", "context_length", "maximum context", "too many tokens",
		"input is too long", "prompt is too long", "exceeds the model's maximum",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// knownInputLimits maps provider/model pairs to their documented input
// context window, used to size compaction thresholds.
var knownInputLimits = map[string]int{
	"anthropic:claude-opus-4":   200000,
	"anthropic:claude-sonnet-4": 200000,
	"anthropic:claude-haiku-4":  200000,
	"openai:gpt-4o":             128000,
	"openai:gpt-4.1":            1000000,
	"openai:o3":                 200000,
	"gemini:gemini-2.0-flash":   1000000,
	"gemini:gemini-2.5-pro":     1000000,
	"bedrock:anthropic.claude":  200000,
}

// InputLimitForProviderModel looks up a known input token limit for a
// provider/model pair, matching on prefix since model IDs carry date
// suffixes (e.g. "claude-opus-4-20250514"). Returns 0 if unknown.
func InputLimitForProviderModel(providerName, modelName string) int {
	for key, limit := range knownInputLimits {
		parts := strings.SplitN(key, ":", 2)
		if len(parts) != 2 {
			continue
		}
		if parts[0] == providerName && strings.HasPrefix(modelName, parts[1]) {
			return limit
		}
	}
	return 0
}
