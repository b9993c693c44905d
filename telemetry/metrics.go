// Package telemetry provides OpenTelemetry metric instruments for the
// cache, retry and API layers, with Prometheus and optional OTLP export.
package telemetry

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

const (
	meterName = "github.com/dan-elliott-appneta/sequel"
)

// MetricsConfig configures the metrics system.
type MetricsConfig struct {
	// ServiceName is the name of the service for resource attributes.
	ServiceName string

	// ServiceVersion is the version of the service.
	ServiceVersion string

	// OTLPEndpoint is the OTLP gRPC endpoint (e.g., "localhost:4317").
	// If empty, OTLP export is disabled.
	OTLPEndpoint string

	// EnablePrometheus enables the Prometheus /metrics endpoint.
	EnablePrometheus bool

	// FlushInterval is how often to export metrics (default: 10s).
	FlushInterval time.Duration
}

// Metrics holds the OpenTelemetry metric instruments.
type Metrics struct {
	cacheGetsTotal        metric.Int64Counter
	cacheSetsTotal        metric.Int64Counter
	cacheEvictionsTotal   metric.Int64Counter
	cacheSweepExpirations metric.Int64Counter
	cacheEntries          metric.Int64Gauge
	cacheBytes            metric.Int64Gauge
	sweepDuration         metric.Float64Histogram

	retryAttemptsTotal metric.Int64Counter
	retryWaitDuration  metric.Float64Histogram

	apiRequestsTotal   metric.Int64Counter
	apiRequestDuration metric.Float64Histogram

	meterProvider *sdkmetric.MeterProvider
	promHandler   http.Handler
}

var (
	globalMetrics *Metrics
	initOnce      sync.Once
	initErr       error
)

// InitMetrics initializes the OpenTelemetry metrics system.
// Returns a shutdown function that should be called on application exit.
// Uses sync.Once to ensure single initialisation.
func InitMetrics(ctx context.Context, cfg MetricsConfig) (shutdown func(context.Context) error, err error) {
	initOnce.Do(func() {
		initErr = doInitMetrics(ctx, cfg)
	})

	if initErr != nil {
		return nil, initErr
	}

	return shutdownMetrics, nil
}

func doInitMetrics(ctx context.Context, cfg MetricsConfig) error {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "sequel"
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = 10 * time.Second
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return err
	}

	var readers []sdkmetric.Reader
	var promHandler http.Handler

	if cfg.OTLPEndpoint != "" {
		otlpExporter, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlpmetricgrpc.WithInsecure(), // Use WithTLSCredentials for production
		)
		if err != nil {
			return err
		}
		readers = append(readers, sdkmetric.NewPeriodicReader(otlpExporter,
			sdkmetric.WithInterval(cfg.FlushInterval),
		))
	}

	if cfg.EnablePrometheus {
		promExp, err := promexporter.New()
		if err != nil {
			return err
		}
		readers = append(readers, promExp)
		promHandler = promhttp.Handler()
	}

	// If no exporters configured, use a no-op periodic reader to still collect metrics
	if len(readers) == 0 {
		readers = append(readers, sdkmetric.NewPeriodicReader(noopExporter{},
			sdkmetric.WithInterval(cfg.FlushInterval),
		))
	}

	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	for _, r := range readers {
		opts = append(opts, sdkmetric.WithReader(r))
	}

	mp := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(mp)

	meter := mp.Meter(meterName)

	cacheGetsTotal, err := meter.Int64Counter(
		"sequel_cache_gets_total",
		metric.WithDescription("Total cache lookups by result (hit, miss, expired)"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return err
	}

	cacheSetsTotal, err := meter.Int64Counter(
		"sequel_cache_sets_total",
		metric.WithDescription("Total cache inserts"),
		metric.WithUnit("{insert}"),
	)
	if err != nil {
		return err
	}

	cacheEvictionsTotal, err := meter.Int64Counter(
		"sequel_cache_evictions_total",
		metric.WithDescription("Total entries evicted to stay under the size bound"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return err
	}

	cacheSweepExpirations, err := meter.Int64Counter(
		"sequel_cache_expirations_total",
		metric.WithDescription("Total expired entries removed by the background sweeper"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return err
	}

	cacheEntries, err := meter.Int64Gauge(
		"sequel_cache_entries",
		metric.WithDescription("Current number of cache entries"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return err
	}

	cacheBytes, err := meter.Int64Gauge(
		"sequel_cache_size_bytes",
		metric.WithDescription("Current estimated size of cached values"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return err
	}

	sweepDuration, err := meter.Float64Histogram(
		"sequel_cache_sweep_duration_seconds",
		metric.WithDescription("Duration of background sweep cycles"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1),
	)
	if err != nil {
		return err
	}

	retryAttemptsTotal, err := meter.Int64Counter(
		"sequel_retry_attempts_total",
		metric.WithDescription("Total remote-call attempts by outcome and error category"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return err
	}

	retryWaitDuration, err := meter.Float64Histogram(
		"sequel_retry_wait_seconds",
		metric.WithDescription("Time spent waiting between attempts, by reason (backoff, quota)"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 2, 4, 8, 15, 30, 60, 120),
	)
	if err != nil {
		return err
	}

	apiRequestsTotal, err := meter.Int64Counter(
		"sequel_api_requests_total",
		metric.WithDescription("Total Google Cloud API requests by service and outcome"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return err
	}

	apiRequestDuration, err := meter.Float64Histogram(
		"sequel_api_request_duration_seconds",
		metric.WithDescription("Duration of Google Cloud API requests"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40),
	)
	if err != nil {
		return err
	}

	globalMetrics = &Metrics{
		cacheGetsTotal:        cacheGetsTotal,
		cacheSetsTotal:        cacheSetsTotal,
		cacheEvictionsTotal:   cacheEvictionsTotal,
		cacheSweepExpirations: cacheSweepExpirations,
		cacheEntries:          cacheEntries,
		cacheBytes:            cacheBytes,
		sweepDuration:         sweepDuration,
		retryAttemptsTotal:    retryAttemptsTotal,
		retryWaitDuration:     retryWaitDuration,
		apiRequestsTotal:      apiRequestsTotal,
		apiRequestDuration:    apiRequestDuration,
		meterProvider:         mp,
		promHandler:           promHandler,
	}

	return nil
}

// shutdownMetrics shuts down the metrics provider and clears the global state.
func shutdownMetrics(ctx context.Context) error {
	if globalMetrics == nil {
		return nil
	}
	err := globalMetrics.meterProvider.Shutdown(ctx)
	globalMetrics = nil
	return err
}

// RecordCacheGet records one cache lookup. result is "hit", "miss" or
// "expired".
func RecordCacheGet(result string) {
	if globalMetrics == nil {
		return
	}
	globalMetrics.cacheGetsTotal.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("result", result)))
}

// RecordCacheSet records one cache insert and any evictions it caused.
func RecordCacheSet(evicted int) {
	if globalMetrics == nil {
		return
	}
	ctx := context.Background()
	globalMetrics.cacheSetsTotal.Add(ctx, 1)
	if evicted > 0 {
		globalMetrics.cacheEvictionsTotal.Add(ctx, int64(evicted))
	}
}

// UpdateCacheState updates the entry and byte gauges.
func UpdateCacheState(entries int, bytes int64) {
	if globalMetrics == nil {
		return
	}
	ctx := context.Background()
	globalMetrics.cacheEntries.Record(ctx, int64(entries))
	globalMetrics.cacheBytes.Record(ctx, bytes)
}

// RecordSweep records one background sweep cycle.
func RecordSweep(duration time.Duration, expired int) {
	if globalMetrics == nil {
		return
	}
	ctx := context.Background()
	globalMetrics.sweepDuration.Record(ctx, duration.Seconds())
	if expired > 0 {
		globalMetrics.cacheSweepExpirations.Add(ctx, int64(expired))
	}
}

// RecordRetryAttempt records one remote-call attempt. outcome is "success",
// "retried" or "terminal"; category is the classified error category, or
// "none" on success.
func RecordRetryAttempt(ctx context.Context, category, outcome string) {
	if globalMetrics == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("category", category),
		attribute.String("outcome", outcome),
	}
	globalMetrics.retryAttemptsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRetryWait records a wait between attempts. reason is "backoff" or
// "quota".
func RecordRetryWait(ctx context.Context, reason string, duration time.Duration) {
	if globalMetrics == nil {
		return
	}
	globalMetrics.retryWaitDuration.Record(ctx, duration.Seconds(),
		metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordAPIRequest records one Google Cloud API request.
func RecordAPIRequest(ctx context.Context, service, outcome string, duration time.Duration) {
	if globalMetrics == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("service", service),
		attribute.String("outcome", outcome),
	}
	globalMetrics.apiRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	globalMetrics.apiRequestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// PrometheusHandler returns the Prometheus metrics HTTP handler.
// Returns a handler that returns 404 if Prometheus export is not enabled,
// allowing safe registration regardless of initialization order.
func PrometheusHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if globalMetrics == nil || globalMetrics.promHandler == nil {
			http.NotFound(w, r)
			return
		}
		globalMetrics.promHandler.ServeHTTP(w, r)
	})
}

// noopExporter is a no-op metrics exporter for when no exporters are configured.
type noopExporter struct{}

func (noopExporter) Temporality(_ sdkmetric.InstrumentKind) metricdata.Temporality {
	return metricdata.CumulativeTemporality
}

func (noopExporter) Aggregation(_ sdkmetric.InstrumentKind) sdkmetric.Aggregation {
	return nil
}

func (noopExporter) Export(_ context.Context, _ *metricdata.ResourceMetrics) error {
	return nil
}

func (noopExporter) ForceFlush(_ context.Context) error {
	return nil
}

func (noopExporter) Shutdown(_ context.Context) error {
	return nil
}
