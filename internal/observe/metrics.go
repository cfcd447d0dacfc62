// Package observe provides application-wide observability primitives for
// juicio: OpenTelemetry metrics, distributed tracing, structured logging,
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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all juicio metrics.
const meterName = "github.com/MrWong99/juicio"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// LLMDuration tracks the time from request to the last streamed chunk.
	LLMDuration metric.Float64Histogram

	// TTSDuration tracks narration synthesis latency per attempt.
	TTSDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// NarrationItems counts narration items that left the queue. Use with
	// attribute: attribute.String("status", "completed"|"failed"|"cancelled")
	NarrationItems metric.Int64Counter

	// NarrationRetries counts synthesis retries on a fallback voice.
	NarrationRetries metric.Int64Counter

	// ParserImpersonations counts model blocks discarded because they spoke
	// for the human's role. Use with attribute: attribute.String("speaker", ...)
	ParserImpersonations metric.Int64Counter

	// ParserNearMisses counts malformed speaker tags seen in model output.
	ParserNearMisses metric.Int64Counter

	// TrialExchanges counts completed model exchanges. Use with attribute:
	//   attribute.String("outcome", ...)
	TrialExchanges metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// model and synthesis round trips.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 45,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.LLMDuration, err = m.Float64Histogram("juicio.llm.duration",
		metric.WithDescription("Latency of a streamed model response."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("juicio.tts.duration",
		metric.WithDescription("Latency of narration synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.ProviderRequests, err = m.Int64Counter("juicio.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("juicio.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.NarrationItems, err = m.Int64Counter("juicio.narration.items",
		metric.WithDescription("Narration items that left the queue, by status."),
	); err != nil {
		return nil, err
	}
	if met.NarrationRetries, err = m.Int64Counter("juicio.narration.retries",
		metric.WithDescription("Synthesis retries on a fallback voice."),
	); err != nil {
		return nil, err
	}
	if met.ParserImpersonations, err = m.Int64Counter("juicio.parser.impersonations",
		metric.WithDescription("Model blocks discarded for speaking as the human's role."),
	); err != nil {
		return nil, err
	}
	if met.ParserNearMisses, err = m.Int64Counter("juicio.parser.near_misses",
		metric.WithDescription("Malformed speaker tags seen in model output."),
	); err != nil {
		return nil, err
	}
	if met.TrialExchanges, err = m.Int64Counter("juicio.trial.exchanges",
		metric.WithDescription("Completed model exchanges by outcome."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("juicio.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

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

// RecordProviderRequest records a provider request counter increment with the
// standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordNarrationItem records one item leaving the narration queue.
func (m *Metrics) RecordNarrationItem(ctx context.Context, status string) {
	m.NarrationItems.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordImpersonation records one discarded impersonating block.
func (m *Metrics) RecordImpersonation(ctx context.Context, speaker string) {
	m.ParserImpersonations.Add(ctx, 1, metric.WithAttributes(attribute.String("speaker", speaker)))
}

// RecordExchange records one completed model exchange.
func (m *Metrics) RecordExchange(ctx context.Context, outcome string) {
	m.TrialExchanges.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
