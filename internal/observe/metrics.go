// Package observe provides application-wide observability primitives for
// voxrelay: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported
// through a Prometheus bridge set up by [InitProvider]. A package-level
// default [Metrics] instance ([DefaultMetrics]) is provided for convenience;
// tests should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voxrelay metrics.
const meterName = "github.com/MrWong99/voxrelay"

// Session outcomes recorded by [Metrics.RecordSessionEnd].
const (
	OutcomeClientClosed = "client_closed"
	OutcomeProtocol     = "protocol_error"
	OutcomeModelError   = "model_error"
	OutcomeShutdown     = "shutdown"
	OutcomeRejected     = "rejected"
	OutcomeInternal     = "internal_error"
)

// Metrics holds all OpenTelemetry metric instruments for the relay.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// FrameDuration tracks the wall time of one encode, step, decode cycle.
	FrameDuration metric.Float64Histogram

	// LockWait tracks how long a connection waited for the model lock.
	LockWait metric.Float64Histogram

	// WarmupDuration tracks the startup warm-up pass.
	WarmupDuration metric.Float64Histogram

	// SessionDuration tracks the lifetime of a session from handshake to close.
	SessionDuration metric.Float64Histogram

	// --- Gauges ---

	// ActiveSessions is 1 while a session holds the model, 0 otherwise.
	ActiveSessions metric.Int64UpDownCounter

	// WaitingSessions counts connections queued on the model lock.
	WaitingSessions metric.Int64UpDownCounter

	// --- Counters ---

	// SessionOutcomes counts finished sessions. Use with attribute:
	//   attribute.String("outcome", ...)
	SessionOutcomes metric.Int64Counter

	// Frames counts model frames processed.
	Frames metric.Int64Counter

	// TextFragments counts text messages sent to clients.
	TextFragments metric.Int64Counter

	// MessagesDropped counts inbound messages ignored by the relay. Use with
	// attribute:
	//   attribute.String("reason", ...)
	MessagesDropped metric.Int64Counter

	// ModelErrors counts failed model calls. Use with attribute:
	//   attribute.String("op", ...)
	ModelErrors metric.Int64Counter

	// BreakerTransitions counts model circuit breaker state changes. Use with
	// attribute:
	//   attribute.String("to", ...)
	BreakerTransitions metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// 80 ms model frames and multi-second lock waits.
var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.08, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.FrameDuration, err = m.Float64Histogram("voxrelay.frame.duration",
		metric.WithDescription("Latency of one model frame (encode, step, decode)."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LockWait, err = m.Float64Histogram("voxrelay.lock.wait",
		metric.WithDescription("Time a connection waited for exclusive model access."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.WarmupDuration, err = m.Float64Histogram("voxrelay.warmup.duration",
		metric.WithDescription("Duration of the startup warm-up pass."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SessionDuration, err = m.Float64Histogram("voxrelay.session.duration",
		metric.WithDescription("Lifetime of a relay session."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("voxrelay.active_sessions",
		metric.WithDescription("Number of sessions currently holding the model."),
	); err != nil {
		return nil, err
	}
	if met.WaitingSessions, err = m.Int64UpDownCounter("voxrelay.waiting_sessions",
		metric.WithDescription("Number of connections waiting for the model."),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.SessionOutcomes, err = m.Int64Counter("voxrelay.session.outcomes",
		metric.WithDescription("Finished sessions by outcome."),
	); err != nil {
		return nil, err
	}
	if met.Frames, err = m.Int64Counter("voxrelay.frames",
		metric.WithDescription("Model frames processed."),
	); err != nil {
		return nil, err
	}
	if met.TextFragments, err = m.Int64Counter("voxrelay.text.fragments",
		metric.WithDescription("Text fragments sent to clients."),
	); err != nil {
		return nil, err
	}
	if met.MessagesDropped, err = m.Int64Counter("voxrelay.messages.dropped",
		metric.WithDescription("Inbound messages ignored by reason."),
	); err != nil {
		return nil, err
	}
	if met.ModelErrors, err = m.Int64Counter("voxrelay.model.errors",
		metric.WithDescription("Failed model calls by operation."),
	); err != nil {
		return nil, err
	}

	if met.BreakerTransitions, err = m.Int64Counter("voxrelay.breaker.transitions",
		metric.WithDescription("Model circuit breaker state changes by target state."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxrelay.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
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

// RecordSessionEnd records the outcome and lifetime of a finished session.
func (m *Metrics) RecordSessionEnd(ctx context.Context, outcome string, seconds float64) {
	m.SessionOutcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	if outcome != OutcomeRejected {
		m.SessionDuration.Record(ctx, seconds)
	}
}

// RecordDropped records an ignored inbound message.
func (m *Metrics) RecordDropped(ctx context.Context, reason string) {
	m.MessagesDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordModelError records a failed model call.
func (m *Metrics) RecordModelError(ctx context.Context, op string) {
	m.ModelErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}

// RecordBreakerTransition records a circuit breaker moving to state to.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, to string) {
	m.BreakerTransitions.Add(ctx, 1, metric.WithAttributes(attribute.String("to", to)))
}
