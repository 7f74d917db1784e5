package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for the radio tracer.
const tracerName = "github.com/MrWong99/tacradio"

// Span attribute keys for radio operations.
const (
	KeyTarget        = attribute.Key("radio.target")
	KeyCommandStatus = attribute.Key("radio.command.status")
)

// Tracer returns the radio tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span on the radio tracer. The caller must end it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// StartRadioSpan starts the span "radio.<op>" for an operation on target.
// Started from a request context, it joins the request's trace.
func StartRadioSpan(ctx context.Context, op, target string) (context.Context, trace.Span) {
	return StartSpan(ctx, "radio."+op,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(KeyTarget.String(target)),
	)
}

// EndSpan marks span failed when err is non-nil, then ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// CorrelationID returns the trace ID of the span in ctx, or "" without one.
// The API reports it with failed requests so operators can find the trace.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// WithTrace returns l with the trace_id and span_id of the span in ctx. l is
// returned unchanged when ctx carries no span.
func WithTrace(ctx context.Context, l *slog.Logger) *slog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return l
	}
	return l.With(
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}
