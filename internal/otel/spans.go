package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
)

// Attribute keys shared by spans and metrics.
var (
	AttrUserID     = attribute.Key("taskchat.user.id")
	AttrTaskID     = attribute.Key("taskchat.task.id")
	AttrIntent     = attribute.Key("taskchat.chat.intent")
	AttrDemoMode   = attribute.Key("taskchat.chat.demo_mode")
	AttrProvider   = attribute.Key("taskchat.llm.provider")
	AttrModel      = attribute.Key("taskchat.llm.model")
	AttrRoute      = attribute.Key("http.route")
	AttrStatus     = attribute.Key("http.status_code")
	AttrLimitClass = attribute.Key("taskchat.ratelimit.class")
	AttrReason     = attribute.Key("taskchat.reason")
	AttrOperation  = attribute.Key("taskchat.operation")
)

// StartSpan is a convenience wrapper that starts an internal span with common attributes.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartServerSpan starts a span for an inbound request.
func StartServerSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindServer),
	)
}

// StartClientSpan starts a span for an outbound call to the chat model.
func StartClientSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

var noopTracer = nooptrace.NewTracerProvider().Tracer(TracerName)

// Tracer returns t, or a no-op tracer when t is nil.
func Tracer(t trace.Tracer) trace.Tracer {
	if t != nil {
		return t
	}
	return noopTracer
}

// GlobalTracer returns the tracer registered by Init, or the otel default
// no-op tracer when Init was never called with tracing enabled.
func GlobalTracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

// TraceIDFromContext returns the hex trace id of the span in ctx, or "" when
// ctx carries no valid span.
func TraceIDFromContext(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}
