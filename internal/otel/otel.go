// Package otel wires taskchat's tracing and in-process metrics. Tracing and
// metrics are switched on separately: /metrics works without an exporter,
// and a disabled half hands out noop instruments.
package otel

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
)

const (
	TracerName = "taskchat"
	MeterName  = "taskchat"
	Version    = "v0.1.0"

	defaultServiceName  = "taskchat"
	defaultOTLPEndpoint = "localhost:4318"
)

// Config selects what Init turns on. Enabled controls tracing only.
type Config struct {
	Enabled        bool
	Exporter       string // otlp-http (default), stdout, none
	Endpoint       string
	ServiceName    string
	SampleRate     float64
	MetricsEnabled bool
}

// Provider holds the tracer and meter handed to the rest of the service.
// TracerProvider is nil when tracing is off.
type Provider struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  metric.MeterProvider
	Tracer         trace.Tracer
	Meter          metric.Meter

	reader  *sdkmetric.ManualReader
	closers []func(context.Context) error
}

// Init builds a Provider for cfg. The returned Provider must be Shutdown.
func Init(ctx context.Context, cfg Config) (*Provider, error) {
	p := &Provider{
		Tracer:        nooptrace.NewTracerProvider().Tracer(TracerName),
		MeterProvider: noop.NewMeterProvider(),
	}
	p.Meter = p.MeterProvider.Meter(MeterName)
	if !cfg.Enabled && !cfg.MetricsEnabled {
		return p, nil
	}

	res, err := serviceResource(ctx, cfg.ServiceName)
	if err != nil {
		return nil, err
	}

	if cfg.Enabled {
		tp, err := newTracerProvider(ctx, cfg, res)
		if err != nil {
			return nil, err
		}
		otel.SetTracerProvider(tp)
		p.TracerProvider = tp
		p.Tracer = tp.Tracer(TracerName)
		p.closers = append(p.closers, tp.Shutdown)
	}

	if cfg.MetricsEnabled {
		p.reader = sdkmetric.NewManualReader()
		mp := sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(p.reader),
		)
		p.MeterProvider = mp
		p.Meter = mp.Meter(MeterName, metric.WithInstrumentationVersion(Version))
		p.closers = append(p.closers, mp.Shutdown)
	}
	return p, nil
}

func serviceResource(ctx context.Context, name string) (*resource.Resource, error) {
	if name == "" {
		name = defaultServiceName
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(name),
			semconv.ServiceVersion(Version),
			attribute.String("taskchat.component", "server"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("otel: resource: %w", err)
	}
	return res, nil
}

func newTracerProvider(ctx context.Context, cfg Config, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	rate := cfg.SampleRate
	if rate <= 0 || rate > 1 {
		rate = 1
	}
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))),
	}

	switch cfg.Exporter {
	case "", "otlp-http":
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = defaultOTLPEndpoint
		}
		exp, err := otlptracehttp.New(ctx,
			otlptracehttp.WithEndpoint(endpoint),
			otlptracehttp.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("otel: otlp exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exp))
	case "stdout":
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("otel: stdout exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithSyncer(exp))
	case "none":
		// Spans are still created so trace ids reach logs and audit rows.
	default:
		return nil, fmt.Errorf("otel: unknown exporter %q (want otlp-http, stdout or none)", cfg.Exporter)
	}
	return sdktrace.NewTracerProvider(opts...), nil
}

// Collect snapshots the in-process metrics. It returns nil, nil when
// metrics are off.
func (p *Provider) Collect(ctx context.Context) (*metricdata.ResourceMetrics, error) {
	if p == nil || p.reader == nil {
		return nil, nil
	}
	rm := new(metricdata.ResourceMetrics)
	if err := p.reader.Collect(ctx, rm); err != nil {
		return nil, fmt.Errorf("otel: collect: %w", err)
	}
	return rm, nil
}

// Shutdown flushes pending spans and stops both providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	var errs []error
	for _, closeFn := range p.closers {
		errs = append(errs, closeFn(ctx))
	}
	p.closers = nil
	return errors.Join(errs...)
}
