package llm

import "strings"

func collectTextParts(parts []Part) string {
	var b strings.Builder
	for _, part := range parts {
		if part.Type == PartText {
			b.WriteString(part.Text)
		}
	}
	return b.String()
}

// charsPerToken approximates English/code text at ~4 characters per token,
// the same rough ratio tokenizer-less estimators across the ecosystem use.
const charsPerToken = 4

// EstimateMessageTokens gives a rough token count for messages that haven't
// been through a real tokenizer yet, used to decide when to trigger
// compaction ahead of a provider's actual usage accounting.
func EstimateMessageTokens(messages []Message) int {
	var chars int
	for _, m := range messages {
		for _, part := range m.Parts {
			switch part.Type {
			case PartText, PartReasoning:
				chars += len(part.Text)
			case PartToolResult:
				if part.ToolResult != nil {
					chars += len(part.ToolResult.Content)
				}
			case PartToolCall:
				if part.ToolCall != nil {
					chars += len(part.ToolCall.Name) + len(part.ToolCall.Arguments)
				}
			}
		}
	}
	return chars / charsPerToken
}
