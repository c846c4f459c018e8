package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/telvoxa"

// CallIDKey is the span attribute carrying the telephony call identifier.
const CallIDKey = attribute.Key("telvoxa.call.id")

type callIDKey struct{}

// WithCallID returns a copy of ctx tagged with the telephony call id. Spans
// started with [StartSpan] and loggers from [Logger] pick it up.
func WithCallID(ctx context.Context, callID string) context.Context {
	if callID == "" {
		return ctx
	}
	return context.WithValue(ctx, callIDKey{}, callID)
}

// CallID returns the call id stored by [WithCallID], or "".
func CallID(ctx context.Context) string {
	id, _ := ctx.Value(callIDKey{}).(string)
	return id
}

// Tracer returns the telvoxa tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span named name. When ctx carries a call id the span
// is tagged with [CallIDKey]. The caller must End the span.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if id := CallID(ctx); id != "" {
		opts = append(opts, trace.WithAttributes(CallIDKey.String(id)))
	}
	return Tracer().Start(ctx, name, opts...)
}

// TraceID returns the hex trace id of the span in ctx, or "" without one.
func TraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

// Logger returns the default logger annotated with whatever ctx knows: the
// call id and the active trace and span ids.
func Logger(ctx context.Context) *slog.Logger {
	var attrs []any
	if id := CallID(ctx); id != "" {
		attrs = append(attrs, slog.String("call_id", id))
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		attrs = append(attrs,
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	if len(attrs) == 0 {
		return slog.Default()
	}
	return slog.Default().With(attrs...)
}
