package llm

import (
	"context"
	"io"
	"strings"
	"sync"
)

// eventStream adapts a function that pushes Events onto a channel into the
// Stream interface. Every provider's Stream method is built on top of this:
// the provider runs its HTTP/SDK call in a goroutine and forwards decoded
// events, while Recv/Close give the caller a pull-based, cancellable view.
type eventStream struct {
	ch     chan Event
	errCh  chan error
	cancel context.CancelFunc

	mu   sync.Mutex
	done bool
}

// newEventStream starts fn in a goroutine and returns a Stream that yields
// whatever Events fn sends, in order, until fn returns (or ctx is canceled).
func newEventStream(ctx context.Context, fn func(ctx context.Context, events chan<- Event) error) (Stream, error) {
	runCtx, cancel := context.WithCancel(ctx)
	s := &eventStream{
		ch:     make(chan Event, 32),
		errCh:  make(chan error, 1),
		cancel: cancel,
	}

	go func() {
		defer close(s.ch)
		s.errCh <- fn(runCtx, s.ch)
	}()

	return s, nil
}

func (s *eventStream) Recv() (Event, error) {
	event, ok := <-s.ch
	if ok {
		return event, nil
	}
	select {
	case err := <-s.errCh:
		if err != nil {
			return Event{}, err
		}
	default:
	}
	return Event{}, io.EOF
}

func (s *eventStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return nil
	}
	s.done = true
	s.cancel()
	return nil
}

// chooseModel prefers a request-level model override over the provider's
// configured default.
func chooseModel(requested, fallback string) string {
	if strings.TrimSpace(requested) != "" {
		return requested
	}
	return fallback
}

// truncate shortens s to maxLen bytes for debug-log previews.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "...[truncated]"
}

// schemaRequired extracts the "required" array from a JSON schema map in
// whichever shape it was decoded as ([]string or []interface{}).
func schemaRequired(schema map[string]interface{}) []string {
	if schema == nil {
		return nil
	}
	switch req := schema["required"].(type) {
	case []string:
		return req
	case []interface{}:
		out := make([]string, 0, len(req))
		for _, v := range req {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// anthropicInputLimits maps a model-id prefix to its documented context
// window. Matched by prefix since model ids carry date/version suffixes.
var anthropicInputLimits = []struct {
	prefix string
	limit  int
}{
	{"claude-opus", 200000},
	{"claude-sonnet", 200000},
	{"claude-haiku", 200000},
}

// InputLimitForModel looks up a known Anthropic context window by model id
// prefix. Returns 0 when the model isn't recognized.
func InputLimitForModel(modelID string) int {
	for _, entry := range anthropicInputLimits {
		if strings.HasPrefix(modelID, entry.prefix) {
			return entry.limit
		}
	}
	return 0
}

// imageDataMarker delimits an inline image payload appended to a tool
// result's text content, e.g. by a screenshot or image-rendering tool:
//
//	<visible text>\n__IMAGE_DATA__:image/png:base64...
const imageDataMarker = "__IMAGE_DATA__:"

// parseToolResultImageData splits a tool result's raw Content into its
// visible text and, if present, a trailing inline image payload.
func parseToolResultImageData(content string) (mimeType, base64Data, textContent string) {
	idx := strings.Index(content, imageDataMarker)
	if idx < 0 {
		return "", "", content
	}
	textContent = strings.TrimRight(content[:idx], "\n")
	rest := content[idx+len(imageDataMarker):]
	parts := strings.SplitN(rest, ":", 2)
	if len(parts) != 2 {
		return "", "", content
	}
	mime := strings.TrimSpace(parts[0])
	data := strings.TrimSpace(parts[1])
	if !isSupportedToolResultImageMediaType(mime) || data == "" {
		return "", "", content
	}
	return mime, data, textContent
}

// NewDebugProvider returns a scripted provider used by the hidden "debug"
// CLI provider name and by tests that need a Provider without network
// access. It echoes the last user message back as plain text.
func NewDebugProvider(model string) Provider {
	if model == "" {
		model = "debug-echo"
	}
	return &debugProvider{model: model}
}

type debugProvider struct {
	model string
}

func (p *debugProvider) Name() string           { return "Debug (" + p.model + ")" }
func (p *debugProvider) Credential() string     { return "none" }
func (p *debugProvider) Capabilities() Capabilities {
	return Capabilities{ToolCalls: true, SupportsToolChoice: true}
}

func (p *debugProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		var lastUser string
		for _, msg := range req.Messages {
			if msg.Role == RoleUser {
				if text := collectTextParts(msg.Parts); text != "" {
					lastUser = text
				}
			}
		}
		events <- Event{Type: EventTextDelta, Text: "echo: " + lastUser}
		events <- Event{Type: EventUsage, Use: &Usage{InputTokens: len(lastUser), OutputTokens: len(lastUser)}}
		events <- Event{Type: EventDone}
		return nil
	})
}
