package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hangawi/ai-schedule-api/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation and provides lightweight snapshots for API consumption.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	assignRuns      prometheus.Counter
	assignDuration  prometheus.Observer
	assignedCells   prometheus.Counter
	carryOvers      prometheus.Counter
	chainEscalation prometheus.Counter
	relocationMoves *prometheus.CounterVec
	dbQueryDuration *prometheus.HistogramVec
	cacheOps        *prometheus.CounterVec
	cacheLookupTime prometheus.Observer
	cacheWriteTime  prometheus.Observer

	requestCount         uint64
	requestDurationTotal uint64
	assignRunCount       uint64
	assignedCellCount    uint64
	carryOverCount       uint64
	chainCount           uint64
	dbQueryCount         uint64
	dbQueryDurationTotal uint64
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	assignRuns := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auto_assign_runs_total",
		Help: "Total auto-assignment runs",
	})

	assignDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "auto_assign_duration_seconds",
		Help:    "Duration of auto-assignment runs",
		Buckets: prometheus.DefBuckets,
	})

	assignedCells := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auto_assign_cells_total",
		Help: "Total cells assigned by auto-assignment runs",
	})

	carryOvers := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "carry_over_records_total",
		Help: "Total carry-over records emitted",
	})

	chainEscalation := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chain_escalations_total",
		Help: "Total negotiation requests escalated into chains",
	})

	relocationMoves := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relocations_total",
		Help: "Total relocation attempts by outcome",
	}, []string{"outcome"})

	dbQueryDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "db_query_duration_seconds",
		Help:    "Duration of database queries",
		Buckets: prometheus.DefBuckets,
	}, []string{"query"})

	cacheOps := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cache_operations_total",
		Help: "Total cache lookups by result",
	}, []string{"result"})

	cacheLookupTime := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_lookup_duration_seconds",
		Help:    "Duration of cache lookups",
		Buckets: prometheus.DefBuckets,
	})

	cacheWriteTime := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_duration_seconds",
		Help:    "Duration of cache writes",
		Buckets: prometheus.DefBuckets,
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, assignRuns, assignDuration, assignedCells, carryOvers, chainEscalation, relocationMoves, dbQueryDuration, cacheOps, cacheLookupTime, cacheWriteTime, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:        registry,
		handler:         handler,
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		assignRuns:      assignRuns,
		assignDuration:  assignDuration,
		assignedCells:   assignedCells,
		carryOvers:      carryOvers,
		chainEscalation: chainEscalation,
		relocationMoves: relocationMoves,
		dbQueryDuration: dbQueryDuration,
		cacheOps:        cacheOps,
		cacheLookupTime: cacheLookupTime,
		cacheWriteTime:  cacheWriteTime,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics and aggregates simple stats for snapshots.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
	atomic.AddUint64(&m.requestDurationTotal, uint64(duration.Nanoseconds()))
}

// ObserveAutoAssignRun records one completed auto-assignment run.
func (m *MetricsService) ObserveAutoAssignRun(assignedCells, carryOvers int, duration time.Duration) {
	if m == nil {
		return
	}
	m.assignRuns.Inc()
	m.assignDuration.Observe(duration.Seconds())
	m.assignedCells.Add(float64(assignedCells))
	m.carryOvers.Add(float64(carryOvers))
	atomic.AddUint64(&m.assignRunCount, 1)
	atomic.AddUint64(&m.assignedCellCount, uint64(assignedCells))
	atomic.AddUint64(&m.carryOverCount, uint64(carryOvers))
}

// RecordChainEscalation counts a negotiation that widened into a chain.
func (m *MetricsService) RecordChainEscalation() {
	if m == nil {
		return
	}
	m.chainEscalation.Inc()
	atomic.AddUint64(&m.chainCount, 1)
}

// RecordRelocation counts a relocation attempt by outcome.
func (m *MetricsService) RecordRelocation(outcome string) {
	if m == nil {
		return
	}
	m.relocationMoves.WithLabelValues(outcome).Inc()
}

// RecordCacheOperation counts a cache lookup as a hit or a miss.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheOps.WithLabelValues(result).Inc()
	m.cacheLookupTime.Observe(duration.Seconds())
}

// ObserveCacheWrite records cache write timing.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWriteTime.Observe(duration.Seconds())
}

// ObserveDBQuery records database query timing.
func (m *MetricsService) ObserveDBQuery(label string, duration time.Duration) {
	if m == nil {
		return
	}
	m.dbQueryDuration.WithLabelValues(label).Observe(duration.Seconds())
	atomic.AddUint64(&m.dbQueryCount, 1)
	atomic.AddUint64(&m.dbQueryDurationTotal, uint64(duration.Nanoseconds()))
}

// Snapshot returns aggregated metrics suitable for status endpoints.
func (m *MetricsService) Snapshot() models.SystemMetrics {
	if m == nil {
		return models.SystemMetrics{}
	}
	requests := atomic.LoadUint64(&m.requestCount)
	reqDuration := atomic.LoadUint64(&m.requestDurationTotal)
	dbCount := atomic.LoadUint64(&m.dbQueryCount)
	dbDuration := atomic.LoadUint64(&m.dbQueryDurationTotal)

	var avgRequestMs float64
	if requests > 0 {
		avgRequestMs = float64(reqDuration) / float64(requests) / float64(time.Millisecond)
	}

	var avgDBMs float64
	if dbCount > 0 {
		avgDBMs = float64(dbDuration) / float64(dbCount) / float64(time.Millisecond)
	}

	return models.SystemMetrics{
		RequestsTotal:            requests,
		AverageRequestDurationMs: avgRequestMs,
		AutoAssignRuns:           atomic.LoadUint64(&m.assignRunCount),
		AssignedCells:            atomic.LoadUint64(&m.assignedCellCount),
		CarryOverRecords:         atomic.LoadUint64(&m.carryOverCount),
		ChainEscalations:         atomic.LoadUint64(&m.chainCount),
		DBQueryCount:             dbCount,
		AverageDBQueryDurationMs: avgDBMs,
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
}
