// Package observe provides application-wide observability primitives for
// simi: OpenTelemetry metrics, distributed tracing, structured logging, and
// HTTP middleware that ties them together.
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

// meterName is the instrumentation scope name used for all simi metrics.
const meterName = "github.com/MrWong99/simi"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// ConnectDuration tracks how long opening a realtime session takes.
	ConnectDuration metric.Float64Histogram

	// ContentDuration tracks generative content request latency.
	ContentDuration metric.Float64Histogram

	// --- Voice pipeline counters ---

	// FramesSent counts microphone frames delivered to the realtime service.
	FramesSent metric.Int64Counter

	// FramesDropped counts microphone frames discarded. Use with attribute:
	//   attribute.String("reason", ...)
	FramesDropped metric.Int64Counter

	// PlaybackBuffers counts synthesised speech buffers scheduled.
	PlaybackBuffers metric.Int64Counter

	// Interruptions counts barge-in flushes of the playback scheduler.
	Interruptions metric.Int64Counter

	// DecodeErrors counts inbound audio payloads that failed to decode.
	DecodeErrors metric.Int64Counter

	// ToolCalls counts tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// ToolAckFailures counts tool-call acknowledgements that could not be sent.
	ToolAckFailures metric.Int64Counter

	// Commands counts dispatched commands. Use with attributes:
	//   attribute.String("kind", ...), attribute.String("source", ...), attribute.Bool("changed", ...)
	Commands metric.Int64Counter

	// SessionErrors counts sessions that ended in the errored state. Use with
	// attribute: attribute.String("kind", ...)
	SessionErrors metric.Int64Counter

	// --- Provider counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live voice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// StateSubscribers tracks the number of connected state stream clients.
	StateSubscribers metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for realtime session and content-generation latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ConnectDuration, err = m.Float64Histogram("simi.live.connect.duration",
		metric.WithDescription("Latency of opening a realtime voice session."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ContentDuration, err = m.Float64Histogram("simi.content.duration",
		metric.WithDescription("Latency of generative content requests."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Voice pipeline counters.
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.FramesSent, "simi.audio.frames_sent", "Microphone frames sent to the realtime service."},
		{&met.FramesDropped, "simi.audio.frames_dropped", "Microphone frames discarded by reason."},
		{&met.PlaybackBuffers, "simi.playback.buffers", "Speech buffers scheduled for playback."},
		{&met.Interruptions, "simi.playback.interruptions", "Barge-in flushes of the playback scheduler."},
		{&met.DecodeErrors, "simi.audio.decode_errors", "Inbound audio payloads that failed to decode."},
		{&met.ToolCalls, "simi.tool.calls", "Total tool invocations by tool name and status."},
		{&met.ToolAckFailures, "simi.tool.ack_failures", "Tool-call acknowledgements that could not be sent."},
		{&met.Commands, "simi.commands", "Dispatched commands by kind, source and outcome."},
		{&met.SessionErrors, "simi.session.errors", "Voice sessions that ended in the errored state."},
		{&met.ProviderRequests, "simi.provider.requests", "Total provider API requests by provider, kind, and status."},
		{&met.ProviderErrors, "simi.provider.errors", "Total provider errors by provider and kind."},
	}
	for _, c := range counters {
		if *c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, err
		}
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("simi.active_sessions",
		metric.WithDescription("Number of live voice sessions."),
	); err != nil {
		return nil, err
	}
	if met.StateSubscribers, err = m.Int64UpDownCounter("simi.state.subscribers",
		metric.WithDescription("Number of connected state stream clients."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("simi.http.request.duration",
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

// RecordToolCall records a tool call counter increment with the standard
// attribute set.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}

// RecordCommand records a dispatched command.
func (m *Metrics) RecordCommand(ctx context.Context, kind, source string, changed bool) {
	m.Commands.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("source", source),
			attribute.Bool("changed", changed),
		),
	)
}

// RecordFrameDropped records a discarded microphone frame.
func (m *Metrics) RecordFrameDropped(ctx context.Context, reason string) {
	m.FramesDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordSessionError records a session that entered the errored state.
func (m *Metrics) RecordSessionError(ctx context.Context, kind string) {
	m.SessionErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}
