package llm

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"
)

type fakeStream struct {
	events []Event
	idx    int
}

func (s *fakeStream) Recv() (Event, error) {
	if s.idx >= len(s.events) {
		return Event{}, io.EOF
	}
	e := s.events[s.idx]
	s.idx++
	return e, nil
}

func (s *fakeStream) Close() error { return nil }

type fakeProvider struct {
	name   string
	calls  int
	events []Event
}

func (p *fakeProvider) Name() string             { return p.name }
func (p *fakeProvider) Credential() string        { return "test" }
func (p *fakeProvider) Capabilities() Capabilities { return Capabilities{} }
func (p *fakeProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	p.calls++
	return &fakeStream{events: p.events}, nil
}

func TestWrapWithRateLimitThrottlesBurst(t *testing.T) {
	inner := &fakeProvider{name: "inner", events: []Event{{Type: EventDone}}}
	limited := WrapWithRateLimit(inner, 1000, 2)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := limited.Stream(ctx, Request{}); err != nil {
			t.Fatalf("unexpected error within burst: %v", err)
		}
	}
	if inner.calls != 2 {
		t.Fatalf("expected 2 calls through to inner provider, got %d", inner.calls)
	}
}

func TestWrapWithRateLimitRespectsContextCancellation(t *testing.T) {
	inner := &fakeProvider{name: "inner"}
	limited := WrapWithRateLimit(inner, 0.001, 1)

	ctx := context.Background()
	if _, err := limited.Stream(ctx, Request{}); err != nil {
		t.Fatalf("first call should consume the burst token: %v", err)
	}

	cancelCtx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := limited.Stream(cancelCtx, Request{}); err == nil {
		t.Fatalf("expected an error when the limiter must wait on an already-cancelled context")
	}
}

func TestWrapWithRateLimitForwardsMetadata(t *testing.T) {
	inner := &fakeProvider{name: "claude"}
	limited := WrapWithRateLimit(inner, 1000, 1)
	if limited.Name() != "claude" {
		t.Fatalf("expected Name() to forward to inner provider, got %q", limited.Name())
	}
}

func TestIsRetryableRateLimitMessages(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{errors.New("429 too many requests"), true},
		{errors.New("503 service unavailable"), true},
		{errors.New("connection reset by peer"), true},
		{errors.New("invalid api key"), false},
		{nil, false},
	}
	for _, c := range cases {
		if got := isRetryable(c.err); got != c.want {
			t.Fatalf("isRetryable(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}

func TestCalculateBackoffRespectsRetryAfter(t *testing.T) {
	r := &RetryProvider{config: RetryConfig{MaxAttempts: 5, BaseBackoff: time.Second, MaxBackoff: 30 * time.Second}}
	rle := &RateLimitError{RetryAfter: 5 * time.Second}
	wait := r.calculateBackoff(1, rle)
	if wait != 5*time.Second {
		t.Fatalf("expected explicit RetryAfter to be honored, got %v", wait)
	}
}

func TestCalculateBackoffCapsAtMax(t *testing.T) {
	r := &RetryProvider{config: RetryConfig{MaxAttempts: 10, BaseBackoff: time.Second, MaxBackoff: 5 * time.Second}}
	wait := r.calculateBackoff(10, nil)
	if wait > 5*time.Second {
		t.Fatalf("expected backoff to be capped at MaxBackoff, got %v", wait)
	}
}

func TestWrapProviderComposesRateLimitAndRetry(t *testing.T) {
	inner := &fakeProvider{name: "inner", events: []Event{{Type: EventDone}}}
	wrapped := wrapProvider(inner)
	if _, ok := wrapped.(*RetryProvider); !ok {
		t.Fatalf("expected the outermost wrap to be a RetryProvider, got %T", wrapped)
	}
	if _, err := wrapped.Stream(context.Background(), Request{}); err != nil {
		t.Fatalf("unexpected error from wrapped provider: %v", err)
	}
	if wrapped.Name() != "inner" {
		t.Fatalf("expected Name() to pass through both wraps, got %q", wrapped.Name())
	}
}
