package observe

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/wagaya/voicerelay/internal/config"
)

// Module provides the meter provider, the metric instruments and the
// Prometheus endpoint.
var Module = fx.Module("observe",
	fx.Provide(
		NewMeterProvider,
		NewMetrics,
	),
	fx.Invoke(registerMetricsServer),
)

// MeterProviderResult carries the provider and the registry it exports to.
type MeterProviderResult struct {
	fx.Out
	Provider metric.MeterProvider
	Gatherer prometheus.Gatherer
}

// NewMeterProvider builds an SDK meter provider that exports to a dedicated
// Prometheus registry when metrics are enabled, and a noop provider otherwise.
func NewMeterProvider(cfg *config.Config, lc fx.Lifecycle) (MeterProviderResult, error) {
	registry := prometheus.NewRegistry()
	if !cfg.Metrics.Enabled {
		return MeterProviderResult{Provider: noop.NewMeterProvider(), Gatherer: registry}, nil
	}

	res := resource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceName("voicerelay"))

	exporter, err := promexporter.New(promexporter.WithRegisterer(registry))
	if err != nil {
		return MeterProviderResult{}, err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	lc.Append(fx.Hook{OnStop: mp.Shutdown})

	return MeterProviderResult{Provider: mp, Gatherer: registry}, nil
}

// registerMetricsServer serves the Prometheus registry while the app runs.
func registerMetricsServer(cfg *config.Config, gatherer prometheus.Gatherer, logger *zap.Logger, lc fx.Lifecycle) {
	if !cfg.Metrics.Enabled {
		return
	}

	mux := http.NewServeMux()
	mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              cfg.Metrics.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("Metrics server failed", zap.Error(err))
				}
			}()
			logger.Info("Metrics server listening",
				zap.String("addr", cfg.Metrics.ListenAddr),
				zap.String("path", cfg.Metrics.Path))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}
