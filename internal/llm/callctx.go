package llm

import "context"

type callIDContextKey struct{}

// ContextWithCallID attaches a tool call's ID to ctx so deeply nested work
// (e.g. a sub-agent tool emitting its own events) can tag what it produces
// back to the call that spawned it.
func ContextWithCallID(ctx context.Context, callID string) context.Context {
	return context.WithValue(ctx, callIDContextKey{}, callID)
}

// CallIDFromContext returns the call ID attached by ContextWithCallID, if any.
func CallIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(callIDContextKey{}).(string)
	return id, ok
}
