// Package observe provides application-wide observability primitives for the
// tactical radio: OpenTelemetry metrics, tracing, trace-aware logging, and
// HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported to
// Prometheus by [InitProvider]. [DefaultMetrics] returns a package-level
// instance bound to the global meter provider; tests should use [NewMetrics]
// with their own [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all radio metrics.
const meterName = "github.com/MrWong99/tacradio"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Counters ---

	// CapturedBlocks counts microphone blocks handed to the session.
	CapturedBlocks metric.Int64Counter

	// SampledFrames counts video frames handed to the session.
	SampledFrames metric.Int64Counter

	// Commands counts operator commands. Use with attribute:
	//   attribute.String("status", "sent"|"queued"|"failed")
	Commands metric.Int64Counter

	// Turns counts finalized conversation turns. Use with attribute:
	//   attribute.String("role", ...)
	Turns metric.Int64Counter

	// Interruptions counts interruption signals from the endpoint.
	Interruptions metric.Int64Counter

	// --- Error counters ---

	// RecoveredFailures counts errors absorbed locally. Use with attribute:
	//   attribute.String("kind", ...)
	RecoveredFailures metric.Int64Counter

	// LinkErrors counts sessions lost to link failures. Use with attribute:
	//   attribute.String("kind", ...)
	LinkErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks open streaming sessions (0 or 1 per controller).
	ActiveSessions metric.Int64UpDownCounter

	// ActivePlaybacks tracks scheduled playback buffers that have not ended.
	ActivePlaybacks metric.Int64UpDownCounter

	// --- Histograms ---

	// ChunkDuration tracks the playback length of inbound audio chunks.
	ChunkDuration metric.Float64Histogram

	// SessionStartDuration tracks the time from start request to open.
	SessionStartDuration metric.Float64Histogram

	// HTTPRequestDuration tracks operator API latency. Use with attributes:
	//   attribute.String("method", ...), attribute.String("route", ...),
	//   attribute.String("status", "2xx"|"4xx"|...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// network and audio latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Counters.
	if met.CapturedBlocks, err = m.Int64Counter("tacradio.capture.blocks",
		metric.WithDescription("Microphone blocks sent to the session."),
	); err != nil {
		return nil, err
	}
	if met.SampledFrames, err = m.Int64Counter("tacradio.frames.sampled",
		metric.WithDescription("Video frames sent to the session."),
	); err != nil {
		return nil, err
	}
	if met.Commands, err = m.Int64Counter("tacradio.commands",
		metric.WithDescription("Operator commands by status."),
	); err != nil {
		return nil, err
	}
	if met.Turns, err = m.Int64Counter("tacradio.turns",
		metric.WithDescription("Finalized conversation turns by role."),
	); err != nil {
		return nil, err
	}
	if met.Interruptions, err = m.Int64Counter("tacradio.interruptions",
		metric.WithDescription("Interruption signals received from the endpoint."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.RecoveredFailures, err = m.Int64Counter("tacradio.recovered_failures",
		metric.WithDescription("Errors absorbed without surfacing to the operator, by kind."),
	); err != nil {
		return nil, err
	}
	if met.LinkErrors, err = m.Int64Counter("tacradio.link.errors",
		metric.WithDescription("Sessions lost to link failures, by kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("tacradio.active_sessions",
		metric.WithDescription("Number of open streaming sessions."),
	); err != nil {
		return nil, err
	}
	if met.ActivePlaybacks, err = m.Int64UpDownCounter("tacradio.active_playbacks",
		metric.WithDescription("Number of scheduled playback buffers that have not ended."),
	); err != nil {
		return nil, err
	}

	// Histograms.
	if met.ChunkDuration, err = m.Float64Histogram("tacradio.playback.chunk.duration",
		metric.WithDescription("Playback length of inbound audio chunks."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SessionStartDuration, err = m.Float64Histogram("tacradio.session.start.duration",
		metric.WithDescription("Time from start request to an open session."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("tacradio.http.request.duration",
		metric.WithDescription("Operator API latency by method, route and status class."),
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

// RecordRecovered counts one locally absorbed failure of the given kind.
func (m *Metrics) RecordRecovered(ctx context.Context, kind string) {
	m.RecoveredFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordLinkError counts one session lost to a link failure.
func (m *Metrics) RecordLinkError(ctx context.Context, kind string) {
	m.LinkErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordTurn counts one finalized turn for role.
func (m *Metrics) RecordTurn(ctx context.Context, role string) {
	m.Turns.Add(ctx, 1, metric.WithAttributes(attribute.String("role", role)))
}

// RecordCommand counts one operator command with the given status.
func (m *Metrics) RecordCommand(ctx context.Context, status string) {
	m.Commands.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}
