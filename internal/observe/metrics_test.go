package observe

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"

	"github.com/wagaya/voicerelay/internal/config"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	require.NoError(t, err)
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestRecordDrop(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordDrop(ctx, DropNoSession)
	m.RecordDrop(ctx, DropNoSession)
	m.RecordDrop(ctx, DropMalformed)

	found := findMetric(collect(t, reader), "voicerelay.frames.dropped")
	require.NotNil(t, found)

	sum, ok := found.Data.(metricdata.Sum[int64])
	require.True(t, ok)

	byReason := map[string]int64{}
	for _, dp := range sum.DataPoints {
		reason, _ := dp.Attributes.Value(attribute.Key("reason"))
		byReason[reason.AsString()] = dp.Value
	}
	assert.Equal(t, map[string]int64{DropNoSession: 2, DropMalformed: 1}, byReason)
}

func TestActiveSessionsGauge(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, -1)

	found := findMetric(collect(t, reader), "voicerelay.sessions.active")
	require.NotNil(t, found)

	sum, ok := found.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, sum.DataPoints, 1)
	assert.Equal(t, int64(1), sum.DataPoints[0].Value)
}

func TestNop(t *testing.T) {
	m := Nop()
	require.NotNil(t, m)

	// Must not panic.
	m.RecordDrop(context.Background(), DropSlowConsumer)
	m.DenoiseDuration.Record(context.Background(), 0.001)
}

func TestModule_Disabled(t *testing.T) {
	cfg := config.Default()

	var metrics *Metrics
	app := fxtest.New(t,
		fx.Supply(cfg, zap.NewNop()),
		Module,
		fx.Populate(&metrics),
	)

	app.RequireStart()
	assert.NotNil(t, metrics)
	app.RequireStop()
}

func TestModule_Enabled(t *testing.T) {
	cfg := config.Default()
	cfg.Metrics.Enabled = true
	cfg.Metrics.ListenAddr = "127.0.0.1:0"

	var metrics *Metrics
	app := fxtest.New(t,
		fx.Supply(cfg, zap.NewNop()),
		Module,
		fx.Populate(&metrics),
	)

	app.RequireStart()
	metrics.FramesRouted.Add(context.Background(), 3)
	app.RequireStop()
}
