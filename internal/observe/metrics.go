// Package observe provides application-wide observability primitives for
// Voicelink: OpenTelemetry metrics, distributed tracing, structured logging,
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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Voicelink metrics.
const meterName = "github.com/voicelink/voicelink"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// ConnectDuration tracks the time from dial start to a completed
	// stream handshake.
	ConnectDuration metric.Float64Histogram

	// DialDuration tracks telephony REST call latency.
	DialDuration metric.Float64Histogram

	// --- Counters ---

	// FramesSent counts outbound media frames accepted by the transport.
	FramesSent metric.Int64Counter

	// FramesDropped counts outbound frames dropped instead of buffered.
	// Use with attribute: attribute.String("reason", ...)
	FramesDropped metric.Int64Counter

	// MalformedFrames counts inbound messages or media payloads that could
	// not be decoded.
	MalformedFrames metric.Int64Counter

	// ReconnectAttempts counts connection failures fed to the reconnection
	// controller.
	ReconnectAttempts metric.Int64Counter

	// PlaybackDrops counts inbound chunks evicted from a full playback
	// queue.
	PlaybackDrops metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live voice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for connection and REST latencies.
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
	if met.ConnectDuration, err = m.Float64Histogram("voicelink.stream.connect.duration",
		metric.WithDescription("Time from dial start to a completed stream handshake."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.DialDuration, err = m.Float64Histogram("voicelink.dial.duration",
		metric.WithDescription("Latency of telephony REST API calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.FramesSent, err = m.Int64Counter("voicelink.frames.sent",
		metric.WithDescription("Outbound media frames accepted by the transport."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("voicelink.frames.dropped",
		metric.WithDescription("Outbound media frames dropped by reason."),
	); err != nil {
		return nil, err
	}
	if met.MalformedFrames, err = m.Int64Counter("voicelink.frames.malformed",
		metric.WithDescription("Inbound messages or payloads that failed to decode."),
	); err != nil {
		return nil, err
	}
	if met.ReconnectAttempts, err = m.Int64Counter("voicelink.reconnect.attempts",
		metric.WithDescription("Connection failures fed to the reconnection controller."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackDrops, err = m.Int64Counter("voicelink.playback.drops",
		metric.WithDescription("Inbound chunks evicted from a full playback queue."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("voicelink.active_sessions",
		metric.WithDescription("Number of live voice sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voicelink.http.request.duration",
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

// RecordConnect records one completed stream handshake.
func (m *Metrics) RecordConnect(d time.Duration) {
	m.ConnectDuration.Record(context.Background(), d.Seconds())
}

// RecordDial records one telephony REST call with its outcome.
func (m *Metrics) RecordDial(ctx context.Context, d time.Duration, status string) {
	m.DialDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// FrameSent records one outbound frame accepted by the transport.
func (m *Metrics) FrameSent() {
	m.FramesSent.Add(context.Background(), 1)
}

// FrameDropped records one outbound frame dropped for the given reason.
func (m *Metrics) FrameDropped(reason string) {
	m.FramesDropped.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// MalformedFrame records one undecodable inbound message or payload.
func (m *Metrics) MalformedFrame() {
	m.MalformedFrames.Add(context.Background(), 1)
}

// ReconnectAttempt records one connection failure.
func (m *Metrics) ReconnectAttempt() {
	m.ReconnectAttempts.Add(context.Background(), 1)
}

// PlaybackDrop records one chunk evicted from a full playback queue.
func (m *Metrics) PlaybackDrop() {
	m.PlaybackDrops.Add(context.Background(), 1)
}
