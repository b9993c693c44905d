package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// setupTestMetrics backs the package instruments with a ManualReader so
// tests can collect what was recorded.
func setupTestMetrics(t *testing.T) *sdkmetric.ManualReader {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := mp.Meter(meterName)

	cacheGetsTotal, err := meter.Int64Counter("sequel_cache_gets_total")
	require.NoError(t, err)
	cacheSetsTotal, err := meter.Int64Counter("sequel_cache_sets_total")
	require.NoError(t, err)
	cacheEvictionsTotal, err := meter.Int64Counter("sequel_cache_evictions_total")
	require.NoError(t, err)
	cacheSweepExpirations, err := meter.Int64Counter("sequel_cache_expirations_total")
	require.NoError(t, err)
	cacheEntries, err := meter.Int64Gauge("sequel_cache_entries")
	require.NoError(t, err)
	cacheBytes, err := meter.Int64Gauge("sequel_cache_size_bytes")
	require.NoError(t, err)
	sweepDuration, err := meter.Float64Histogram("sequel_cache_sweep_duration_seconds")
	require.NoError(t, err)
	retryAttemptsTotal, err := meter.Int64Counter("sequel_retry_attempts_total")
	require.NoError(t, err)
	retryWaitDuration, err := meter.Float64Histogram("sequel_retry_wait_seconds")
	require.NoError(t, err)
	apiRequestsTotal, err := meter.Int64Counter("sequel_api_requests_total")
	require.NoError(t, err)
	apiRequestDuration, err := meter.Float64Histogram("sequel_api_request_duration_seconds")
	require.NoError(t, err)

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
	}

	t.Cleanup(func() {
		_ = mp.Shutdown(context.Background())
		globalMetrics = nil
	})

	return reader
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	return rm
}

func findCounter(rm metricdata.ResourceMetrics, name string) []metricdata.DataPoint[int64] {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
					return sum.DataPoints
				}
			}
		}
	}
	return nil
}

func findHistogram(rm metricdata.ResourceMetrics, name string) []metricdata.HistogramDataPoint[float64] {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				if hist, ok := m.Data.(metricdata.Histogram[float64]); ok {
					return hist.DataPoints
				}
			}
		}
	}
	return nil
}

func hasAttr(attrs attribute.Set, key, value string) bool {
	v, ok := attrs.Value(attribute.Key(key))
	return ok && v.AsString() == value
}

func TestRecordCacheGet(t *testing.T) {
	reader := setupTestMetrics(t)

	RecordCacheGet("hit")
	RecordCacheGet("hit")
	RecordCacheGet("miss")

	rm := collectMetrics(t, reader)
	dps := findCounter(rm, "sequel_cache_gets_total")
	require.Len(t, dps, 2)
	for _, dp := range dps {
		switch {
		case hasAttr(dp.Attributes, "result", "hit"):
			require.EqualValues(t, 2, dp.Value)
		case hasAttr(dp.Attributes, "result", "miss"):
			require.EqualValues(t, 1, dp.Value)
		default:
			t.Errorf("unexpected attributes %v", dp.Attributes)
		}
	}
}

func TestRecordCacheSetWithEvictions(t *testing.T) {
	reader := setupTestMetrics(t)

	RecordCacheSet(0)
	RecordCacheSet(3)

	rm := collectMetrics(t, reader)

	sets := findCounter(rm, "sequel_cache_sets_total")
	require.Len(t, sets, 1)
	require.EqualValues(t, 2, sets[0].Value)

	evictions := findCounter(rm, "sequel_cache_evictions_total")
	require.Len(t, evictions, 1)
	require.EqualValues(t, 3, evictions[0].Value)
}

func TestRecordRetryAttempt(t *testing.T) {
	reader := setupTestMetrics(t)

	RecordRetryAttempt(context.Background(), "transient", "retried")
	RecordRetryAttempt(context.Background(), "none", "success")

	rm := collectMetrics(t, reader)
	dps := findCounter(rm, "sequel_retry_attempts_total")
	require.Len(t, dps, 2)
}

func TestRecordRetryWait(t *testing.T) {
	reader := setupTestMetrics(t)

	RecordRetryWait(context.Background(), "quota", 30*time.Second)

	rm := collectMetrics(t, reader)
	dps := findHistogram(rm, "sequel_retry_wait_seconds")
	require.Len(t, dps, 1)
	require.Equal(t, uint64(1), dps[0].Count)
	require.True(t, hasAttr(dps[0].Attributes, "reason", "quota"))
}

func TestRecordAPIRequest(t *testing.T) {
	reader := setupTestMetrics(t)

	RecordAPIRequest(context.Background(), "compute", "ok", 120*time.Millisecond)

	rm := collectMetrics(t, reader)

	dps := findCounter(rm, "sequel_api_requests_total")
	require.Len(t, dps, 1)
	require.True(t, hasAttr(dps[0].Attributes, "service", "compute"))
	require.True(t, hasAttr(dps[0].Attributes, "outcome", "ok"))

	hist := findHistogram(rm, "sequel_api_request_duration_seconds")
	require.Len(t, hist, 1)
	require.Equal(t, uint64(1), hist[0].Count)
}

func TestRecordSweep(t *testing.T) {
	reader := setupTestMetrics(t)

	RecordSweep(2*time.Millisecond, 5)

	rm := collectMetrics(t, reader)
	require.Len(t, findHistogram(rm, "sequel_cache_sweep_duration_seconds"), 1)

	expirations := findCounter(rm, "sequel_cache_expirations_total")
	require.Len(t, expirations, 1)
	require.EqualValues(t, 5, expirations[0].Value)
}

func TestRecordWithNilGlobalMetrics(t *testing.T) {
	globalMetrics = nil

	// none of these may panic before InitMetrics has run
	RecordCacheGet("hit")
	RecordCacheSet(1)
	UpdateCacheState(1, 100)
	RecordSweep(time.Millisecond, 0)
	RecordRetryAttempt(context.Background(), "transient", "retried")
	RecordRetryWait(context.Background(), "backoff", time.Second)
	RecordAPIRequest(context.Background(), "compute", "ok", time.Millisecond)
}

func TestPrometheusHandlerWithoutInit(t *testing.T) {
	globalMetrics = nil

	rec := httptest.NewRecorder()
	PrometheusHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}
