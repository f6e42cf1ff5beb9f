package telemetry

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func TestSafeAttributesDropsDocumentContent(t *testing.T) {
	kvs := map[string]interface{}{
		"text":         "patient john smith",
		"filename":     "smith.pdf",
		"upload_path":  "/tmp/x.pdf",
		"entity":       "aspirin",
		"api_key":      "sk-123",
		"long_string":  string(make([]byte, 600)),
		"request_id":   "8f14e45f-ceea-467f-a0b4-9c3f1ecf1fd1",
		"upload_bytes": int64(2048),
		"status":       200,
	}

	attrs := SafeAttributes(kvs)
	got := map[string]bool{}
	for _, a := range attrs {
		got[string(a.Key)] = true
	}
	for _, k := range []string{"text", "filename", "upload_path", "entity", "api_key", "long_string"} {
		if got[k] {
			t.Fatalf("unexpected unsafe attribute %s", k)
		}
	}
	for _, k := range []string{"request_id", "upload_bytes", "status"} {
		if !got[k] {
			t.Fatalf("expected attribute %s to be kept", k)
		}
	}
}

func TestDisabledProviderIsNoop(t *testing.T) {
	p, err := NewProvider(context.Background(), Config{})
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	if p.Enabled {
		t.Fatalf("expected disabled provider")
	}
	ctx, span := p.StartSpan(context.Background(), "medner.extract", trace.SpanKindServer, nil)
	span.End()
	p.RecordRequest(ctx, RequestMetrics{Outcome: "ok", Status: 200, DurationMs: 12})
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	var nilProvider *Provider
	nilProvider.RecordRequest(context.Background(), RequestMetrics{})
	if err := nilProvider.Shutdown(context.Background()); err != nil {
		t.Fatalf("nil Shutdown: %v", err)
	}
}

func TestRecordRequestAndSpans(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	p := NewProviderWith(tp, mp)
	ctx, span := p.StartSpan(context.Background(), "medner.extract", trace.SpanKindServer, map[string]interface{}{
		"request_id": "abc",
		"filename":   "secret.pdf",
	})
	p.RecordRequest(ctx, RequestMetrics{
		Outcome:    "ok",
		Status:     200,
		DurationMs: 40,
		StagesMs:   map[string]float64{"extract": 10, "disease": 20},
		Redacted:   map[string]int{"PERSON": 2},
		Entities:   map[string]int{"en_ner_bc5cdr_md": 3},
	})
	span.End()

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	for _, a := range spans[0].Attributes() {
		if a.Key == "filename" {
			t.Fatalf("filename leaked into span attributes")
		}
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	names := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			names[m.Name] = true
		}
	}
	for _, want := range []string{"medner_requests_total", "medner_request_duration_ms", "medner_stage_duration_ms", "medner_redactions_total", "medner_entities_total"} {
		if !names[want] {
			t.Fatalf("missing metric %s (got %v)", want, names)
		}
	}
}
