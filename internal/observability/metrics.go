package observability

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

// Instruments are created lazily against whatever MeterProvider is globally
// registered when first used, mirroring the teacher's
// internal/llm/observability.go ensureTokenInstruments pattern — InitOTel
// should run before the first request, but a missing/no-op provider still
// yields usable (no-op) instruments rather than a nil panic.
var (
	metricsOnce      sync.Once
	requestCounter   otelmetric.Int64Counter
	latencyHistogram otelmetric.Float64Histogram
	extractionCounter otelmetric.Int64Counter
)

func ensureMetricInstruments() {
	metricsOnce.Do(func() {
		m := otel.Meter(tracerName)
		requestCounter, _ = m.Int64Counter("memoria.requests", otelmetric.WithDescription("Requests handled, by route and outcome"))
		latencyHistogram, _ = m.Float64Histogram("memoria.request.duration_ms", otelmetric.WithDescription("Request latency in milliseconds, by route"))
		extractionCounter, _ = m.Int64Counter("memoria.extraction.outcomes", otelmetric.WithDescription("Extraction pipeline outcomes by status"))
	})
}

// RecordRequest records a counter + latency histogram sample for an ingest
// or search request, per SPEC_FULL.md's ambient-stack promise of request
// latency metrics.
func RecordRequest(ctx context.Context, route, outcome string, dur time.Duration) {
	ensureMetricInstruments()
	attrs := otelmetric.WithAttributes(attribute.String("route", route), attribute.String("outcome", outcome))
	if requestCounter != nil {
		requestCounter.Add(ctx, 1, attrs)
	}
	if latencyHistogram != nil {
		latencyHistogram.Record(ctx, float64(dur.Microseconds())/1000.0, attrs)
	}
}

// RecordExtraction records the per-episode extraction outcome
// (complete/partial/failed), per SPEC_FULL.md's named extraction metric.
func RecordExtraction(ctx context.Context, status string) {
	ensureMetricInstruments()
	if extractionCounter != nil {
		extractionCounter.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("status", status)))
	}
}
