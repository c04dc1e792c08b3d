package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for the voiceloop tracer.
const tracerName = "github.com/MrWong99/voiceloop"

// Tracer returns the package-level [trace.Tracer]. It uses the globally
// registered [trace.TracerProvider].
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a new span and returns the updated context and span. The
// caller must call span.End() when done.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// CorrelationID extracts the trace ID from the OTel span context in ctx.
// Returns the empty string when no active span with a valid trace ID exists.
// The trace ID doubles as the request correlation identifier.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

type sessionKey struct{}

// WithSession returns a copy of ctx carrying the conversation session ID. The
// ID is also attached to the active span, if any.
func WithSession(ctx context.Context, sessionID string) context.Context {
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("session.id", sessionID))
	return context.WithValue(ctx, sessionKey{}, sessionID)
}

// SessionID returns the session ID stored by [WithSession], or "".
func SessionID(ctx context.Context) string {
	id, _ := ctx.Value(sessionKey{}).(string)
	return id
}

// Logger returns an [slog.Logger] enriched with correlation_id and span_id
// from the OTel span context in ctx, and session_id when one was attached via
// [WithSession]. Without either, the default slog logger is returned as-is.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		l = l.With(
			slog.String("correlation_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	if id := SessionID(ctx); id != "" {
		l = l.With(slog.String("session_id", id))
	}
	return l
}
