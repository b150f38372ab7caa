package observability

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/kbukum/conduit/logger"
)

// InitMeter installs an OTLP/HTTP meter provider as the global provider.
// The returned provider must be shut down on exit.
func InitMeter(ctx context.Context, cfg Config) (*sdkmetric.MeterProvider, error) {
	opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating metric exporter: %w", err)
	}

	res, err := newResource(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	var readerOpts []sdkmetric.PeriodicReaderOption
	if cfg.MetricInterval > 0 {
		readerOpts = append(readerOpts, sdkmetric.WithInterval(cfg.MetricInterval))
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, readerOpts...)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	logger.Info("meter initialized", logger.Fields(
		"service", cfg.ServiceName,
		"endpoint", cfg.Endpoint,
		"interval", cfg.MetricInterval.String(),
	))
	return mp, nil
}

// EngineMetrics holds the instruments recorded by the execution engine.
type EngineMetrics struct {
	parallelStarted metric.Int64Counter
	parallelSkipped metric.Int64Counter
	cacheBuilds     metric.Int64Counter
	cacheFailures   metric.Int64Counter
	streamRows      metric.Int64Counter
}

// NewEngineMetrics creates the engine instruments on meter.
func NewEngineMetrics(meter metric.Meter) (*EngineMetrics, error) {
	m := &EngineMetrics{}
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.parallelStarted, "parallel.started", "Operations started by the bounded map"},
		{&m.parallelSkipped, "parallel.skipped", "Items skipped by the bounded map after cancellation"},
		{&m.cacheBuilds, "cache.builds", "Cache materializations started"},
		{&m.cacheFailures, "cache.failures", "Cache materializations that failed"},
		{&m.streamRows, "stream.rows", "Rows drained from streams"},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, fmt.Errorf("creating %s counter: %w", c.name, err)
		}
		*c.dst = counter
	}
	return m, nil
}

var (
	engineOnce    sync.Once
	engineMetrics *EngineMetrics
)

// Engine returns the process-wide engine metrics, bound to the global meter
// provider. Instruments created before InitMeter forward to the provider it
// installs.
func Engine() *EngineMetrics {
	engineOnce.Do(func() {
		m, err := NewEngineMetrics(otel.Meter(tracerName))
		if err != nil {
			logger.Warn("engine metrics unavailable", logger.Fields(logger.FieldError, err.Error()))
			m = nil
		}
		engineMetrics = m
	})
	return engineMetrics
}

// ParallelStarted counts operations started by the bounded map.
func (m *EngineMetrics) ParallelStarted(ctx context.Context, n int) {
	if m != nil && n > 0 {
		m.parallelStarted.Add(ctx, int64(n))
	}
}

// ParallelSkipped counts items skipped after cancellation.
func (m *EngineMetrics) ParallelSkipped(ctx context.Context, n int) {
	if m != nil && n > 0 {
		m.parallelSkipped.Add(ctx, int64(n))
	}
}

// CacheBuild counts a cache materialization for key.
func (m *EngineMetrics) CacheBuild(ctx context.Context, key string) {
	if m != nil {
		m.cacheBuilds.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrCacheKey, key)))
	}
}

// CacheFailure counts a failed cache materialization for key.
func (m *EngineMetrics) CacheFailure(ctx context.Context, key string) {
	if m != nil {
		m.cacheFailures.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrCacheKey, key)))
	}
}

// StreamRows counts rows drained from a stream.
func (m *EngineMetrics) StreamRows(ctx context.Context, n int) {
	if m != nil && n > 0 {
		m.streamRows.Add(ctx, int64(n))
	}
}
