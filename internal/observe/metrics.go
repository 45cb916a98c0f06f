// Package observe provides application-wide observability primitives for
// Hearken: OpenTelemetry metrics, tracing helpers, and the /metrics HTTP
// server used in watch mode.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution. Without [InitProvider], the global provider is a
// no-op and every Record call is safe and free.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Hearken metrics.
const meterName = "github.com/hearkenlabs/hearken"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// TranscribeDuration tracks end-to-end arbitration latency. Use with
	// attribute:
	//   attribute.String("source", ...)
	TranscribeDuration metric.Float64Histogram

	// TrainingDuration tracks fallback-model training latency.
	TrainingDuration metric.Float64Histogram

	// BackendRequests counts backend transcription calls. Use with
	// attributes:
	//   attribute.String("backend", ...), attribute.String("status", ...)
	BackendRequests metric.Int64Counter

	// BackendErrors counts backend failures by backend name.
	BackendErrors metric.Int64Counter

	// OverrideHits counts arbitrations short-circuited by the vocabulary
	// override map.
	OverrideHits metric.Int64Counter

	// FallbackHits counts fallback predictions by method (hash, features,
	// offline).
	FallbackHits metric.Int64Counter

	// Corrections counts submitted corrections by item kind (clip, word).
	Corrections metric.Int64Counter

	// Skips counts review skips by item kind.
	Skips metric.Int64Counter

	// ReviewQueueDepth tracks pending review items by kind. Enqueues add,
	// transitions subtract.
	ReviewQueueDepth metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// batch transcription and training runs.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.TranscribeDuration, err = m.Float64Histogram("hearken.transcribe.duration",
		metric.WithDescription("End-to-end arbitration latency by result source."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TrainingDuration, err = m.Float64Histogram("hearken.training.duration",
		metric.WithDescription("Fallback-model training latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.BackendRequests, err = m.Int64Counter("hearken.backend.requests",
		metric.WithDescription("Total backend transcription calls by backend and status."),
	); err != nil {
		return nil, err
	}
	if met.BackendErrors, err = m.Int64Counter("hearken.backend.errors",
		metric.WithDescription("Total backend failures by backend."),
	); err != nil {
		return nil, err
	}
	if met.OverrideHits, err = m.Int64Counter("hearken.override.hits",
		metric.WithDescription("Arbitrations answered from the vocabulary override map."),
	); err != nil {
		return nil, err
	}
	if met.FallbackHits, err = m.Int64Counter("hearken.fallback.hits",
		metric.WithDescription("Fallback predictions by method."),
	); err != nil {
		return nil, err
	}
	if met.Corrections, err = m.Int64Counter("hearken.review.corrections",
		metric.WithDescription("Submitted corrections by item kind."),
	); err != nil {
		return nil, err
	}
	if met.Skips, err = m.Int64Counter("hearken.review.skips",
		metric.WithDescription("Review skips by item kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ReviewQueueDepth, err = m.Int64UpDownCounter("hearken.review.queue_depth",
		metric.WithDescription("Pending review items by kind."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it
// on first call using [otel.GetMeterProvider]. Subsequent calls return the
// same pointer. Panics if instrument creation fails (should not happen with
// the global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordTranscribe records one arbitration with its duration in seconds and
// the source that produced the result.
func (m *Metrics) RecordTranscribe(ctx context.Context, seconds float64, source string) {
	m.TranscribeDuration.Record(ctx, seconds,
		metric.WithAttributes(attribute.String("source", source)),
	)
}

// RecordBackendRequest records a backend call with the standard attribute
// set.
func (m *Metrics) RecordBackendRequest(ctx context.Context, backend, status string) {
	m.BackendRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("backend", backend),
			attribute.String("status", status),
		),
	)
}

// RecordBackendError records a backend failure.
func (m *Metrics) RecordBackendError(ctx context.Context, backend string) {
	m.BackendErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("backend", backend)),
	)
}

// RecordOverrideHit records an arbitration answered from the override map.
func (m *Metrics) RecordOverrideHit(ctx context.Context) {
	m.OverrideHits.Add(ctx, 1)
}

// RecordFallbackHit records a fallback prediction by method.
func (m *Metrics) RecordFallbackHit(ctx context.Context, method string) {
	m.FallbackHits.Add(ctx, 1,
		metric.WithAttributes(attribute.String("method", method)),
	)
}

// RecordCorrection records a submitted correction by item kind.
func (m *Metrics) RecordCorrection(ctx context.Context, kind string) {
	m.Corrections.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// RecordSkip records a review skip by item kind.
func (m *Metrics) RecordSkip(ctx context.Context, kind string) {
	m.Skips.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// ReviewEnqueued bumps the pending-queue depth for kind.
func (m *Metrics) ReviewEnqueued(ctx context.Context, kind string) {
	m.ReviewQueueDepth.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// ReviewResolved drops the pending-queue depth for kind.
func (m *Metrics) ReviewResolved(ctx context.Context, kind string) {
	m.ReviewQueueDepth.Add(ctx, -1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// RecordTraining records one training run with its duration in seconds.
func (m *Metrics) RecordTraining(ctx context.Context, seconds float64) {
	m.TrainingDuration.Record(ctx, seconds)
}
