package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/elocute"

// Span attribute keys set on assessment and reference spans.
const (
	AttrUserID      = attribute.Key("elocute.user_id")
	AttrLanguage    = attribute.Key("elocute.language")
	AttrReferenceID = attribute.Key("elocute.reference_id")
	AttrOutcome     = attribute.Key("elocute.outcome")
)

// StartSpan starts a span with the globally registered tracer provider. The
// caller must end it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, opts...)
}

// FinishSpan labels span with outcome. A non-nil err is recorded on the span
// and marks it failed with outcome as description. The span is not ended.
func FinishSpan(span trace.Span, outcome string, err error) {
	span.SetAttributes(AttrOutcome.String(outcome))
	if err == nil {
		span.SetStatus(codes.Ok, "")
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, outcome)
}

// CorrelationID returns the trace ID of the span in ctx, or "". It is echoed
// in the X-Correlation-ID response header.
func CorrelationID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

type logAttrsKey struct{}

// WithLogAttrs returns a context whose [Logger] adds args (slog key/value
// pairs) to every record. Attributes accumulate across calls.
func WithLogAttrs(ctx context.Context, args ...any) context.Context {
	if len(args) == 0 {
		return ctx
	}
	prev, _ := ctx.Value(logAttrsKey{}).([]any)
	merged := make([]any, 0, len(prev)+len(args))
	merged = append(append(merged, prev...), args...)
	return context.WithValue(ctx, logAttrsKey{}, merged)
}

// Logger returns the default logger enriched with the attributes attached by
// [WithLogAttrs] and with trace_id and span_id when ctx carries a span.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	if attrs, _ := ctx.Value(logAttrsKey{}).([]any); len(attrs) > 0 {
		l = l.With(attrs...)
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}
