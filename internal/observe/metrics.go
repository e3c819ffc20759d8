// Package observe provides application-wide observability primitives for
// Voxhall: OpenTelemetry metrics, distributed tracing, structured logging,
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

// meterName is the instrumentation scope name used for all Voxhall metrics.
const meterName = "github.com/voxhall/voxhall"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Playback scheduling ---

	// ScheduledChunks counts inbound audio chunks scheduled for playback.
	ScheduledChunks metric.Int64Counter

	// SchedulingGap tracks how far behind "now" the cursor had fallen when a
	// chunk was scheduled. Zero means the chunk extended a gapless run;
	// anything above zero is a network stall the schedule healed from.
	SchedulingGap metric.Float64Histogram

	// PlaybackBacklog tracks how far ahead of "now" the cursor sits after
	// each scheduled chunk, i.e. the amount of queued audio.
	PlaybackBacklog metric.Float64Histogram

	// --- Error counters ---

	// DecodeDrops counts inbound chunks dropped because they failed to decode.
	DecodeDrops metric.Int64Counter

	// SessionErrors counts session failures. Use with attributes:
	//   attribute.String("backend", ...), attribute.String("stage", ...)
	SessionErrors metric.Int64Counter

	// --- Session lifecycle ---

	// ActiveSessions tracks the number of live voice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// SessionDuration tracks how long each session lasted from connect to
	// teardown.
	SessionDuration metric.Float64Histogram

	// Turns counts completed conversational turns.
	Turns metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// gapBuckets defines histogram bucket boundaries (in seconds) for the
// scheduling gap and backlog histograms, sized for sub-second audio timing.
var gapBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5,
}

// sessionBuckets defines histogram bucket boundaries (in seconds) for whole
// session durations.
var sessionBuckets = []float64{
	1, 5, 15, 30, 60, 120, 300, 600, 1800,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Scheduling.
	if met.ScheduledChunks, err = m.Int64Counter("voxhall.playback.scheduled_chunks",
		metric.WithDescription("Total inbound audio chunks scheduled for playback."),
	); err != nil {
		return nil, err
	}
	if met.SchedulingGap, err = m.Float64Histogram("voxhall.playback.scheduling_gap",
		metric.WithDescription("How far behind the clock the cursor had fallen at scheduling time."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(gapBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PlaybackBacklog, err = m.Float64Histogram("voxhall.playback.backlog",
		metric.WithDescription("Queued audio ahead of the clock after each scheduled chunk."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(gapBuckets...),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.DecodeDrops, err = m.Int64Counter("voxhall.playback.decode_drops",
		metric.WithDescription("Total inbound chunks dropped because they failed to decode."),
	); err != nil {
		return nil, err
	}
	if met.SessionErrors, err = m.Int64Counter("voxhall.session.errors",
		metric.WithDescription("Total session failures by backend and stage."),
	); err != nil {
		return nil, err
	}

	// Session lifecycle.
	if met.ActiveSessions, err = m.Int64UpDownCounter("voxhall.active_sessions",
		metric.WithDescription("Number of live voice sessions."),
	); err != nil {
		return nil, err
	}
	if met.SessionDuration, err = m.Float64Histogram("voxhall.session.duration",
		metric.WithDescription("Session lifetime from connect to teardown."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(sessionBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Turns, err = m.Int64Counter("voxhall.session.turns",
		metric.WithDescription("Total completed conversational turns."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxhall.http.request.duration",
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

// RecordSessionError is a convenience method that records a session error
// counter increment with the standard attribute set.
func (m *Metrics) RecordSessionError(ctx context.Context, backend, stage string) {
	m.SessionErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("backend", backend),
			attribute.String("stage", stage),
		),
	)
}
