package llm

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

// fakeSummaryStream yields a single text delta then EventDone, the minimal
// shape Compact's summarization call needs from a Provider.Stream result.
type fakeSummaryStream struct {
	text string
	sent bool
}

func (s *fakeSummaryStream) Recv() (Event, error) {
	if !s.sent {
		s.sent = true
		return Event{Type: EventTextDelta, Text: s.text}, nil
	}
	return Event{Type: EventDone}, nil
}

func (s *fakeSummaryStream) Close() error { return nil }

type fakeSummaryProvider struct {
	summary string
	err     error
}

func (p *fakeSummaryProvider) Name() string              { return "fake" }
func (p *fakeSummaryProvider) Credential() string        { return "api_key" }
func (p *fakeSummaryProvider) Capabilities() Capabilities { return Capabilities{} }
func (p *fakeSummaryProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	if p.err != nil {
		return nil, p.err
	}
	return &fakeSummaryStream{text: p.summary}, nil
}

func manyMessages(n int) []Message {
	msgs := make([]Message, 0, n)
	for i := 0; i < n; i++ {
		if i%2 == 0 {
			msgs = append(msgs, UserText("message"))
		} else {
			msgs = append(msgs, AssistantText("reply"))
		}
	}
	return msgs
}

func TestCompactNoOpUnderWatermark(t *testing.T) {
	provider := &fakeSummaryProvider{summary: "should not be called"}
	messages := manyMessages(4)
	result, err := Compact(context.Background(), provider, "model", "", messages, CompactionConfig{KeepRecentTurns: 6})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Compacted {
		t.Fatalf("expected Compacted=false when history is at or under the watermark")
	}
	if result.MessagesBefore != 4 || result.MessagesAfter != 4 {
		t.Fatalf("no-op compaction should report unchanged counts, got %+v", result)
	}
}

func TestCompactReplacesOldMessagesWithSummary(t *testing.T) {
	provider := &fakeSummaryProvider{summary: "- did X\n- unresolved Y"}
	messages := manyMessages(8)
	result, err := Compact(context.Background(), provider, "model", "", messages, CompactionConfig{KeepRecentTurns: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Compacted {
		t.Fatalf("expected Compacted=true")
	}
	if result.MessagesBefore != 8 {
		t.Fatalf("MessagesBefore = %d, want 8", result.MessagesBefore)
	}
	if result.MessagesAfter != 4 {
		t.Fatalf("MessagesAfter = %d, want 4 (1 summary + 3 preserved)", result.MessagesAfter)
	}
	if result.RemovedMessages != 5 {
		t.Fatalf("RemovedMessages = %d, want 5", result.RemovedMessages)
	}

	first := result.NewMessages[0]
	if first.Role != RoleAssistant {
		t.Fatalf("first post-compaction message must be role=assistant, got %q", first.Role)
	}
	text := collectTextParts(first.Parts)
	if !strings.HasPrefix(text, "[CONTEXT SUMMARY]") {
		t.Fatalf("first message content must start with [CONTEXT SUMMARY], got %q", text)
	}
	if len(result.NewMessages) != 4 {
		t.Fatalf("len(NewMessages) = %d, want 4", len(result.NewMessages))
	}
}

func TestCompactHistoryMatchesScenario6(t *testing.T) {
	// §8 scenario 6: 8 alternating messages, preserveRecent=3 ⇒
	// beforeMessages=8, afterMessages=4.
	provider := &fakeSummaryProvider{summary: "constraints and unresolved items"}
	messages := manyMessages(8)
	result, err := CompactHistory(context.Background(), provider, "model", "", messages, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.MessagesBefore != 8 || result.MessagesAfter != 4 {
		t.Fatalf("got before=%d after=%d, want before=8 after=4", result.MessagesBefore, result.MessagesAfter)
	}
}

func TestCompactHistoryDefaultsPreserveRecent(t *testing.T) {
	provider := &fakeSummaryProvider{summary: "summary"}
	messages := manyMessages(10)
	result, err := CompactHistory(context.Background(), provider, "model", "", messages, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// default KeepRecentTurns is 6, so 10 messages -> 1 summary + 6 preserved = 7
	if result.MessagesAfter != 7 {
		t.Fatalf("MessagesAfter = %d, want 7 with default preserveRecent", result.MessagesAfter)
	}
}

func TestCompactEmptySummaryFallsBackToPlaceholder(t *testing.T) {
	provider := &fakeSummaryProvider{summary: "   "}
	messages := manyMessages(8)
	result, err := Compact(context.Background(), provider, "model", "", messages, CompactionConfig{KeepRecentTurns: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	text := collectTextParts(result.NewMessages[0].Parts)
	if !strings.Contains(text, "no summary produced") {
		t.Fatalf("expected placeholder text for empty summary, got %q", text)
	}
}

func TestCompactProviderErrorPropagates(t *testing.T) {
	provider := &fakeSummaryProvider{err: errors.New("boom")}
	messages := manyMessages(8)
	_, err := Compact(context.Background(), provider, "model", "", messages, CompactionConfig{KeepRecentTurns: 2})
	if err == nil {
		t.Fatalf("expected error to propagate from provider.Stream")
	}
}

func TestClearHistoryEmptiesButKeepsSystemMessage(t *testing.T) {
	history := []Message{
		SystemText("you are a coding assistant"),
		UserText("hello"),
		AssistantText("hi"),
	}
	cleared := ClearHistory(history)
	if len(cleared) != 1 || cleared[0].Role != RoleSystem {
		t.Fatalf("ClearHistory should keep only the leading system message, got %+v", cleared)
	}
}

func TestClearHistoryWithoutSystemMessageIsEmpty(t *testing.T) {
	history := []Message{UserText("hello"), AssistantText("hi")}
	cleared := ClearHistory(history)
	if len(cleared) != 0 {
		t.Fatalf("ClearHistory without a system message should return empty, got %+v", cleared)
	}
}

func TestTruncateToolResultPreservesHeadAndTail(t *testing.T) {
	content := strings.Repeat("a", 100) + strings.Repeat("b", 100)
	out := TruncateToolResult(content, 60)
	if !strings.HasPrefix(out, strings.Repeat("a", 10)) {
		t.Fatalf("truncated output should preserve head")
	}
	if !strings.HasSuffix(out, strings.Repeat("b", 10)) {
		t.Fatalf("truncated output should preserve tail")
	}
	if !strings.Contains(out, "chars omitted") {
		t.Fatalf("truncated output should note omitted char count: %q", out)
	}
}

func TestTruncateToolResultNoOpUnderLimit(t *testing.T) {
	content := "short"
	if got := TruncateToolResult(content, 100); got != content {
		t.Fatalf("content under the cap should be unchanged, got %q", got)
	}
}

func TestIsContextOverflowError(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{errors.New("maximum context length exceeded"), true},
		{errors.New("prompt is too long for this model"), true},
		{errors.New("rate limited, try again"), false},
		{nil, false},
		{io.EOF, false},
	}
	for _, tc := range cases {
		if got := isContextOverflowError(tc.err); got != tc.want {
			t.Fatalf("isContextOverflowError(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestInputLimitForProviderModelPrefixMatch(t *testing.T) {
	got := InputLimitForProviderModel("anthropic", "claude-opus-4-20250514")
	if got != 200000 {
		t.Fatalf("InputLimitForProviderModel = %d, want 200000", got)
	}
	if got := InputLimitForProviderModel("unknown", "model-x"); got != 0 {
		t.Fatalf("unknown provider/model should return 0, got %d", got)
	}
}
