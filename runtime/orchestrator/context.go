package orchestrator

import "context"

type contextKey string

// ContextKey is the key used to inject the orchestrator into a request context
const ContextKey = contextKey("hitloop.orchestrator")

// WithContext returns ctx carrying o
func WithContext(ctx context.Context, o *Orchestrator) context.Context {
	return context.WithValue(ctx, ContextKey, o)
}

// FromContext extracts an orchestrator previously injected with WithContext.
// Callers should check the boolean return value.
func FromContext(ctx context.Context) (*Orchestrator, bool) {
	if ctx == nil {
		return nil, false
	}
	if v := ctx.Value(ContextKey); v != nil {
		if o, ok := v.(*Orchestrator); ok {
			return o, true
		}
	}
	return nil, false
}
