package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for the KITT tracer.
const tracerName = "github.com/MrWong99/kitt"

type turnKey struct{}

// Tracer returns the KITT tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span on [Tracer]. The caller must End it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// WithTurn returns a context tagged with the ID of the voice turn it serves.
// Everything logged through [Logger] below it carries turn_id.
func WithTurn(ctx context.Context, turnID string) context.Context {
	return context.WithValue(ctx, turnKey{}, turnID)
}

// TurnID returns the turn ID set by [WithTurn], or "".
func TurnID(ctx context.Context) string {
	id, _ := ctx.Value(turnKey{}).(string)
	return id
}

// CorrelationID extracts the trace ID from the span context in ctx, or ""
// without a valid span.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger enriched with what ctx knows: turn_id
// from [WithTurn] and trace_id/span_id from an active span.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	var attrs []any
	if id := TurnID(ctx); id != "" {
		attrs = append(attrs, slog.String("turn_id", id))
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		attrs = append(attrs,
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	if len(attrs) > 0 {
		l = l.With(attrs...)
	}
	return l
}
