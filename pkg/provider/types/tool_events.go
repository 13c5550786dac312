package types

import "context"

type toolEventHandlerKey struct{}

// ToolEventHandler receives tool events emitted during prompt execution.
type ToolEventHandler func(event ToolEvent)

// WithToolEventHandler returns a context carrying a tool event handler for
// providers that surface tool activity mid-prompt.
func WithToolEventHandler(ctx context.Context, handler ToolEventHandler) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if handler == nil {
		return ctx
	}
	return context.WithValue(ctx, toolEventHandlerKey{}, handler)
}

// ToolEventHandlerFromContext returns the context-carried handler, if any.
func ToolEventHandlerFromContext(ctx context.Context) (ToolEventHandler, bool) {
	if ctx == nil {
		return nil, false
	}

	handler, ok := ctx.Value(toolEventHandlerKey{}).(ToolEventHandler)
	if !ok || handler == nil {
		return nil, false
	}
	return handler, true
}
