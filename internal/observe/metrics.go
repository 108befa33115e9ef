// Package observe provides the relay's OpenTelemetry metrics and the
// Prometheus endpoint that exposes them.
//
// Tests should build a [Metrics] with [NewMetrics] over their own
// [metric.MeterProvider] (a ManualReader or the noop provider) to avoid
// sharing global state.
package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// meterName is the instrumentation scope for all relay metrics.
const meterName = "github.com/wagaya/voicerelay"

// Drop reasons used with FramesDropped.
const (
	DropNoSession    = "no_session"
	DropMalformed    = "malformed"
	DropSlowConsumer = "slow_consumer"
	DropEngineError  = "engine_error"
)

// Metrics holds all metric instruments. The OTel types are safe for
// concurrent use.
type Metrics struct {
	// FramesRouted counts frames that went through a session's denoiser.
	FramesRouted metric.Int64Counter

	// FramesDropped counts discarded frames. Use with attribute "reason".
	FramesDropped metric.Int64Counter

	// Deliveries counts per-recipient fan-out deliveries.
	Deliveries metric.Int64Counter

	// EngineInitFailures counts voice joins that failed to build a denoiser.
	EngineInitFailures metric.Int64Counter

	// DenoiseDuration tracks per-frame suppression latency.
	DenoiseDuration metric.Float64Histogram

	// ActiveSessions tracks live voice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// ActiveConnections tracks open relay connections.
	ActiveConnections metric.Int64UpDownCounter
}

// denoiseBuckets are histogram boundaries in seconds sized for one frame of
// DSP work.
var denoiseBuckets = []float64{
	0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025,
}

// NewMetrics creates every instrument on the given provider.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.FramesRouted, err = m.Int64Counter("voicerelay.frames.routed",
		metric.WithDescription("Frames processed by a session denoiser."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("voicerelay.frames.dropped",
		metric.WithDescription("Frames discarded, by reason."),
	); err != nil {
		return nil, err
	}
	if met.Deliveries, err = m.Int64Counter("voicerelay.deliveries",
		metric.WithDescription("Fan-out deliveries to group members."),
	); err != nil {
		return nil, err
	}
	if met.EngineInitFailures, err = m.Int64Counter("voicerelay.engine.init_failures",
		metric.WithDescription("Voice joins rejected because the denoiser could not be built."),
	); err != nil {
		return nil, err
	}
	if met.DenoiseDuration, err = m.Float64Histogram("voicerelay.denoise.duration",
		metric.WithDescription("Latency of noise suppression per frame."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(denoiseBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("voicerelay.sessions.active",
		metric.WithDescription("Live voice sessions."),
	); err != nil {
		return nil, err
	}
	if met.ActiveConnections, err = m.Int64UpDownCounter("voicerelay.connections.active",
		metric.WithDescription("Open relay connections."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// Nop returns metrics backed by the noop provider.
func Nop() *Metrics {
	m, err := NewMetrics(noop.NewMeterProvider())
	if err != nil {
		panic("observe: noop metrics: " + err.Error())
	}
	return m
}

// RecordDrop increments FramesDropped for reason.
func (m *Metrics) RecordDrop(ctx context.Context, reason string) {
	m.FramesDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
