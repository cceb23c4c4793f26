// Package contextx carries cross-cutting values through a request's
// context.Context: the active logger, the inbound request id, a trace id,
// and — specific to this module — the active saga's correlation id.
package contextx

import (
	"context"

	"go.uber.org/zap"
)

type (
	loggerKeyType        struct{}
	requestIDKeyType     struct{}
	traceIDKeyType       struct{}
	correlationIDKeyType struct{}
)

var (
	loggerKey        = loggerKeyType{}
	requestIDKey     = requestIDKeyType{}
	traceIDKey       = traceIDKeyType{}
	correlationIDKey = correlationIDKeyType{}
)

// WithLogger attaches a logger to ctx.
func WithLogger(ctx context.Context, l *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// Logger returns the logger attached to ctx, or nil if none was attached.
func Logger(ctx context.Context) *zap.Logger {
	l, _ := ctx.Value(loggerKey).(*zap.Logger)
	return l
}

// WithRequestID attaches an inbound request id to ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID returns the request id attached to ctx, or "" if none was attached.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithTraceID attaches a trace id to ctx.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceIDKey, id)
}

// TraceID returns the trace id attached to ctx, or "" if none was attached.
func TraceID(ctx context.Context) string {
	id, _ := ctx.Value(traceIDKey).(string)
	return id
}

// WithCorrelationID attaches the active saga's correlation id to ctx, so any
// log line or error emitted downstream can be tied back to its saga without
// threading the id through every function signature.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// CorrelationID returns the correlation id attached to ctx, or "" if none was attached.
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDKey).(string)
	return id
}
