package otel

import (
	"context"
	"testing"
)

func TestInit_AllOff(t *testing.T) {
	ctx := context.Background()
	p, err := Init(ctx, Config{})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if p.TracerProvider != nil {
		t.Fatal("tracer provider should be nil when tracing is off")
	}
	if p.Tracer == nil || p.Meter == nil {
		t.Fatal("expected noop tracer and meter")
	}
	rm, err := p.Collect(ctx)
	if err != nil || rm != nil {
		t.Fatalf("Collect with metrics off = %v, %v; want nil, nil", rm, err)
	}
	if err := p.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestInit_MetricsWithoutTracing(t *testing.T) {
	ctx := context.Background()
	p, err := Init(ctx, Config{MetricsEnabled: true})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer p.Shutdown(ctx)

	if p.TracerProvider != nil {
		t.Fatal("tracing should stay off")
	}
	rm, err := p.Collect(ctx)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if rm == nil {
		t.Fatal("expected a metrics snapshot")
	}
}

func TestInit_TracingWithoutExporter(t *testing.T) {
	ctx := context.Background()
	p, err := Init(ctx, Config{Enabled: true, Exporter: "none", SampleRate: 1})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer p.Shutdown(ctx)

	if p.TracerProvider == nil {
		t.Fatal("expected an sdk tracer provider")
	}
	spanCtx, span := StartServerSpan(ctx, p.Tracer, "POST /chat", AttrUserID.String("u1"))
	span.End()
	if id := TraceIDFromContext(spanCtx); id == "" {
		t.Fatal("expected a sampled span to carry a trace id")
	}
}

func TestInit_UnknownExporter(t *testing.T) {
	if _, err := Init(context.Background(), Config{Enabled: true, Exporter: "carrier-pigeon"}); err == nil {
		t.Fatal("expected error for unknown exporter")
	}
}

func TestShutdown_Idempotent(t *testing.T) {
	ctx := context.Background()
	p, err := Init(ctx, Config{Enabled: true, Exporter: "none", MetricsEnabled: true})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := p.Shutdown(ctx); err != nil {
		t.Fatalf("first Shutdown: %v", err)
	}
	if err := p.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
}

func TestTracer_NilFallsBackToNoop(t *testing.T) {
	_, span := StartSpan(context.Background(), Tracer(nil), "noop")
	span.End()
}
