// Package observe provides application-wide observability primitives for
// Elocute: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/elocute/pkg/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Elocute metrics.
const meterName = "github.com/MrWong99/elocute"

// Assessment outcome labels used with [Metrics.RecordAssessment].
const (
	StatusOK           = "ok"
	StatusNoSpeech     = "no_speech"
	StatusInsufficient = "insufficient_data"
	StatusCanceled     = "canceled"
	StatusMalformed    = "malformed"
	StatusTimeout      = "timeout"
	StatusInvalid      = "invalid"
	StatusError        = "error"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// AssessmentDuration tracks wall-clock time of a full assessment. Use with
	// attributes: attribute.String("language", ...), attribute.String("status", ...)
	AssessmentDuration metric.Float64Histogram

	// AudioDuration tracks the length of the assessed recordings.
	AudioDuration metric.Float64Histogram

	// LLMDuration tracks reference-passage generation latency.
	LLMDuration metric.Float64Histogram

	// --- Score distribution ---

	// Scores records every final score. Use with attribute:
	//   attribute.String("metric", ...)
	Scores metric.Float64Histogram

	// --- Counters ---

	// Assessments counts finished assessments by language and status.
	Assessments metric.Int64Counter

	// Utterances counts recognized utterances by language.
	Utterances metric.Int64Counter

	// WordErrors counts reconciled words by error type, including derived
	// prosody conditions.
	WordErrors metric.Int64Counter

	// RecognizerCancellations counts sessions the recognizer canceled, by code.
	RecognizerCancellations metric.Int64Counter

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of open recognizer sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("route", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// sessionBuckets defines histogram bucket boundaries (in seconds) for
// assessments and recordings, which run for seconds to minutes.
var sessionBuckets = []float64{
	0.5, 1, 2.5, 5, 10, 20, 30, 60, 120, 300,
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// single provider calls.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// scoreBuckets splits the 0-100 score range into bands.
var scoreBuckets = []float64{
	10, 20, 30, 40, 50, 60, 70, 80, 90, 100,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.AssessmentDuration, err = m.Float64Histogram("elocute.assessment.duration",
		metric.WithDescription("Wall-clock duration of a pronunciation assessment."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(sessionBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AudioDuration, err = m.Float64Histogram("elocute.audio.duration",
		metric.WithDescription("Length of assessed recordings."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(sessionBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("elocute.llm.duration",
		metric.WithDescription("Latency of reference passage generation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Scores, err = m.Float64Histogram("elocute.assessment.score",
		metric.WithDescription("Distribution of final assessment scores by metric."),
		metric.WithExplicitBucketBoundaries(scoreBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Assessments, err = m.Int64Counter("elocute.assessments",
		metric.WithDescription("Total assessments by language and status."),
	); err != nil {
		return nil, err
	}
	if met.Utterances, err = m.Int64Counter("elocute.utterances",
		metric.WithDescription("Total recognized utterances by language."),
	); err != nil {
		return nil, err
	}
	if met.WordErrors, err = m.Int64Counter("elocute.word_errors",
		metric.WithDescription("Total reconciled words by error type."),
	); err != nil {
		return nil, err
	}
	if met.RecognizerCancellations, err = m.Int64Counter("elocute.recognizer.cancellations",
		metric.WithDescription("Total recognizer sessions canceled by the service, by code."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("elocute.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("elocute.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("elocute.active_sessions",
		metric.WithDescription("Number of open recognizer sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("elocute.http.request.duration",
		metric.WithDescription("HTTP request latency by method and route."),
		metric.WithUnit("s"),
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

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
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

// RecordAssessment records one finished assessment: its outcome counter, its
// wall-clock duration and the length of the recording.
func (m *Metrics) RecordAssessment(ctx context.Context, language, status string, elapsed, audio time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("language", language),
		attribute.String("status", status),
	)
	m.Assessments.Add(ctx, 1, attrs)
	m.AssessmentDuration.Record(ctx, elapsed.Seconds(), attrs)
	if audio > 0 {
		m.AudioDuration.Record(ctx, audio.Seconds(), metric.WithAttributes(attribute.String("language", language)))
	}
}

// RecordUtterances adds n recognized utterances for language.
func (m *Metrics) RecordUtterances(ctx context.Context, language string, n int) {
	m.Utterances.Add(ctx, int64(n), metric.WithAttributes(attribute.String("language", language)))
}

// RecordScores records each final score under its metric name. Prosody is
// skipped when it was not assessed.
func (m *Metrics) RecordScores(ctx context.Context, s types.Scores) {
	record := func(name string, v float64) {
		m.Scores.Record(ctx, v, metric.WithAttributes(attribute.String("metric", name)))
	}
	record("pronunciation", s.Pronunciation)
	record("accuracy", s.Accuracy)
	record("fluency", s.Fluency)
	record("completeness", s.Completeness)
	if s.ProsodyAssessed {
		record("prosody", s.Prosody)
	}
}

// RecordErrorCounts adds every non-zero histogram entry to WordErrors.
func (m *Metrics) RecordErrorCounts(ctx context.Context, counts map[string]int) {
	for typ, n := range counts {
		if n == 0 {
			continue
		}
		m.WordErrors.Add(ctx, int64(n), metric.WithAttributes(attribute.String("error_type", typ)))
	}
}

// RecordCancellation records a recognizer cancellation.
func (m *Metrics) RecordCancellation(ctx context.Context, code string) {
	m.RecognizerCancellations.Add(ctx, 1, metric.WithAttributes(attribute.String("code", code)))
}

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
