// Package telemetry exports request traces and metrics over OTLP. A disabled
// or nil Provider is a no-op, so callers never need to check.
package telemetry

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/straja-ai/medner/internal/redact"
)

const instrumentationName = "github.com/straja-ai/medner"

// Config controls telemetry setup.
type Config struct {
	Enabled  bool
	Endpoint string
	Protocol string // grpc | http
	Service  string
	Version  string
}

// Provider wires tracer/meter providers and the medner instruments.
type Provider struct {
	Enabled bool
	tracer  trace.Tracer
	meter   metric.Meter

	requests      metric.Int64Counter
	duration      metric.Float64Histogram
	stageDuration metric.Float64Histogram
	redactions    metric.Int64Counter
	entities      metric.Int64Counter

	shutdown []func(context.Context) error
}

// RequestMetrics is what one extraction request reports.
type RequestMetrics struct {
	Outcome    string
	Status     int
	DurationMs float64
	StagesMs   map[string]float64 // sniff, extract, clean, disease, drug
	Redacted   map[string]int     // by entity category
	Entities   map[string]int     // by model id
}

// NewProvider configures OTLP exporters. When disabled it returns a no-op provider.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if !cfg.Enabled {
		p := &Provider{
			tracer: tracenoop.NewTracerProvider().Tracer(""),
			meter:  noop.NewMeterProvider().Meter(""),
		}
		p.initInstruments()
		return p, nil
	}

	protocol := strings.ToLower(strings.TrimSpace(cfg.Protocol))
	redact.Logf("telemetry enabled (OpenTelemetry OTLP %s) endpoint=%s", protocol, cfg.Endpoint)

	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithAttributes(
			attribute.String("service.name", cfg.Service),
			attribute.String("service.version", cfg.Version),
		),
	)
	if err != nil {
		return nil, err
	}

	var (
		spanExp   sdktrace.SpanExporter
		metricExp sdkmetric.Exporter
	)
	switch protocol {
	case "", "grpc":
		if spanExp, err = otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(cfg.Endpoint), otlptracegrpc.WithInsecure()); err != nil {
			return nil, err
		}
		if metricExp, err = otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithEndpoint(cfg.Endpoint), otlpmetricgrpc.WithInsecure()); err != nil {
			return nil, err
		}
	case "http":
		if spanExp, err = otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(cfg.Endpoint), otlptracehttp.WithInsecure()); err != nil {
			return nil, err
		}
		if metricExp, err = otlpmetrichttp.New(ctx, otlpmetrichttp.WithEndpoint(cfg.Endpoint), otlpmetrichttp.WithInsecure()); err != nil {
			return nil, err
		}
	default:
		return nil, errors.New("telemetry: protocol must be grpc or http")
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithBatcher(spanExp),
		sdktrace.WithResource(res),
	)
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)),
	)
	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)

	p := &Provider{
		Enabled:  true,
		tracer:   tp.Tracer(instrumentationName),
		meter:    mp.Meter(instrumentationName),
		shutdown: []func(context.Context) error{tp.Shutdown, mp.Shutdown},
	}
	p.initInstruments()
	return p, nil
}

// NewProviderWith builds an enabled provider on caller-supplied providers.
func NewProviderWith(tp trace.TracerProvider, mp metric.MeterProvider) *Provider {
	p := &Provider{
		Enabled: true,
		tracer:  tp.Tracer(instrumentationName),
		meter:   mp.Meter(instrumentationName),
	}
	p.initInstruments()
	return p
}

func (p *Provider) initInstruments() {
	// Instruments are best-effort; a failed one falls back to the no-op meter.
	fallback := noop.NewMeterProvider().Meter("")
	var err error
	if p.requests, err = p.meter.Int64Counter("medner_requests_total"); err != nil {
		p.requests, _ = fallback.Int64Counter("")
	}
	if p.duration, err = p.meter.Float64Histogram("medner_request_duration_ms", metric.WithUnit("ms")); err != nil {
		p.duration, _ = fallback.Float64Histogram("")
	}
	if p.stageDuration, err = p.meter.Float64Histogram("medner_stage_duration_ms", metric.WithUnit("ms")); err != nil {
		p.stageDuration, _ = fallback.Float64Histogram("")
	}
	if p.redactions, err = p.meter.Int64Counter("medner_redactions_total"); err != nil {
		p.redactions, _ = fallback.Int64Counter("")
	}
	if p.entities, err = p.meter.Int64Counter("medner_entities_total"); err != nil {
		p.entities, _ = fallback.Int64Counter("")
	}
}

// Tracer returns the tracer.
func (p *Provider) Tracer() trace.Tracer {
	if p == nil {
		return tracenoop.NewTracerProvider().Tracer("")
	}
	return p.tracer
}

// StartSpan starts a span carrying only SafeAttributes of attrs.
func (p *Provider) StartSpan(ctx context.Context, name string, kind trace.SpanKind, attrs map[string]interface{}) (context.Context, trace.Span) {
	return p.Tracer().Start(ctx, name, trace.WithSpanKind(kind), trace.WithAttributes(SafeAttributes(attrs)...))
}

// Shutdown flushes providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	var errs []error
	for _, fn := range p.shutdown {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RecordRequest emits counters and histograms for one request.
func (p *Provider) RecordRequest(ctx context.Context, m RequestMetrics) {
	if p == nil {
		return
	}
	base := metric.WithAttributes(
		attribute.String("medner.outcome", m.Outcome),
		attribute.Int("http.status_code", m.Status),
	)
	p.requests.Add(ctx, 1, base)
	p.duration.Record(ctx, m.DurationMs, base)
	for stage, ms := range m.StagesMs {
		if ms > 0 {
			p.stageDuration.Record(ctx, ms, metric.WithAttributes(attribute.String("medner.stage", stage)))
		}
	}
	for category, n := range m.Redacted {
		if n > 0 {
			p.redactions.Add(ctx, int64(n), metric.WithAttributes(attribute.String("medner.category", category)))
		}
	}
	for model, n := range m.Entities {
		if n > 0 {
			p.entities.Add(ctx, int64(n), metric.WithAttributes(attribute.String("medner.model", model)))
		}
	}
}
