package core

import "context"

type ctxKey int

const (
	requestIDKey ctxKey = iota
	iterationKey
)

// WithRequestID attaches the gateway request ID to ctx.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// GetRequestID returns the request ID carried by ctx, or "".
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithIteration marks ctx as belonging to the given tool-loop iteration.
// Iterations count from 1.
func WithIteration(ctx context.Context, n int) context.Context {
	return context.WithValue(ctx, iterationKey, n)
}

// Iteration returns the tool-loop iteration carried by ctx, or 0 outside a loop.
func Iteration(ctx context.Context) int {
	n, _ := ctx.Value(iterationKey).(int)
	return n
}

// LogAttrs returns slog key/value pairs for the request metadata in ctx.
// Keys with no value are omitted.
func LogAttrs(ctx context.Context) []any {
	var attrs []any
	if id := GetRequestID(ctx); id != "" {
		attrs = append(attrs, "request_id", id)
	}
	if n := Iteration(ctx); n > 0 {
		attrs = append(attrs, "iteration", n)
	}
	return attrs
}
