package service

import (
	"net/http"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/invigilation-planner/internal/models"
)

// MetricsService wraps the Prometheus collectors of the planner and keeps a few counters for
// the JSON snapshot endpoint.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	solveDuration   *prometheus.HistogramVec
	planOutcomes    *prometheus.CounterVec
	planTasks       prometheus.Histogram
	solveTimeouts   prometheus.Counter
	queueDepth      prometheus.Gauge
	cacheLatency    prometheus.Observer
	cacheWrite      prometheus.Observer
	cacheHitRatio   prometheus.Gauge
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	dbQueryDuration *prometheus.HistogramVec

	cacheHitCount        uint64
	cacheMissCount       uint64
	requestCount         uint64
	requestDurationTotal uint64
	planCount            uint64
	solveCount           uint64
	solveDurationTotal   uint64
	timeoutCount         uint64
	depth                int64

	mu       sync.Mutex
	byStatus map[models.PlanStatus]int
}

// NewMetricsService registers the collectors on a private registry.
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

	solveDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "planner_solve_duration_seconds",
		Help:    "Wall time of planning solves",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"backend", "status"})

	planOutcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "planner_plans_total",
		Help: "Planning runs by outcome",
	}, []string{"status", "source"})

	planTasks := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "planner_tasks_per_plan",
		Help:    "Exam tasks per planning request",
		Buckets: prometheus.ExponentialBuckets(4, 2, 8),
	})

	solveTimeouts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "planner_solve_timeouts_total",
		Help: "Solves that hit the time budget without an assignment",
	})

	queueDepth := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "planner_queue_depth",
		Help: "Planning jobs waiting for a worker",
	})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache set operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheHitRatio := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cache_hit_ratio",
		Help: "Ratio of cache hits to total cache lookups",
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	dbQueryDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "db_query_duration_seconds",
		Help:    "Duration of database queries",
		Buckets: prometheus.DefBuckets,
	}, []string{"query"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, solveDuration, planOutcomes, planTasks, solveTimeouts, queueDepth,
		cacheLatency, cacheWrite, cacheHitRatio, cacheHits, cacheMisses, dbQueryDuration, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		solveDuration:   solveDuration,
		planOutcomes:    planOutcomes,
		planTasks:       planTasks,
		solveTimeouts:   solveTimeouts,
		queueDepth:      queueDepth,
		cacheLatency:    cacheLatency,
		cacheWrite:      cacheWrite,
		cacheHitRatio:   cacheHitRatio,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
		dbQueryDuration: dbQueryDuration,
		byStatus:        make(map[models.PlanStatus]int),
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

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := strconv.Itoa(status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
	atomic.AddUint64(&m.requestDurationTotal, uint64(duration.Nanoseconds()))
}

// ObservePlan records one finished planning run. Source is "sync", "upload", "job" or "cache".
func (m *MetricsService) ObservePlan(result *models.PlanningResult, taskCount int, source string) {
	if m == nil || result == nil {
		return
	}
	m.planOutcomes.WithLabelValues(string(result.Status), source).Inc()
	atomic.AddUint64(&m.planCount, 1)
	m.mu.Lock()
	m.byStatus[result.Status]++
	m.mu.Unlock()
	if source == "cache" {
		return
	}
	m.planTasks.Observe(float64(taskCount))
	m.solveDuration.WithLabelValues(result.Backend, string(result.Status)).Observe(result.SolveTime.Seconds())
	atomic.AddUint64(&m.solveCount, 1)
	atomic.AddUint64(&m.solveDurationTotal, uint64(result.SolveTime.Nanoseconds()))
	if result.TimedOut {
		m.solveTimeouts.Inc()
		atomic.AddUint64(&m.timeoutCount, 1)
	}
}

// SetQueueDepth publishes the number of waiting planning jobs.
func (m *MetricsService) SetQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
	atomic.StoreInt64(&m.depth, int64(depth))
}

// RecordCacheOperation records cache hit/miss metrics and updates hit ratio.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		m.cacheMisses.Inc()
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	total := hits + atomic.LoadUint64(&m.cacheMissCount)
	if total > 0 {
		m.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// ObserveDBQuery records database query timing.
func (m *MetricsService) ObserveDBQuery(label string, duration time.Duration) {
	if m == nil {
		return
	}
	m.dbQueryDuration.WithLabelValues(label).Observe(duration.Seconds())
}

// Snapshot returns aggregated counters for the JSON metrics endpoint.
func (m *MetricsService) Snapshot() models.SystemMetrics {
	if m == nil {
		return models.SystemMetrics{}
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	requests := atomic.LoadUint64(&m.requestCount)
	reqDuration := atomic.LoadUint64(&m.requestDurationTotal)
	plans := atomic.LoadUint64(&m.planCount)
	solveDuration := atomic.LoadUint64(&m.solveDurationTotal)

	var cacheRatio float64
	if hits+misses > 0 {
		cacheRatio = float64(hits) / float64(hits+misses)
	}
	var avgRequestMs float64
	if requests > 0 {
		avgRequestMs = float64(reqDuration) / float64(requests) / float64(time.Millisecond)
	}
	var avgSolveMs float64
	if solved := atomic.LoadUint64(&m.solveCount); solved > 0 {
		avgSolveMs = float64(solveDuration) / float64(solved) / float64(time.Millisecond)
	}

	m.mu.Lock()
	byStatus := make(map[models.PlanStatus]int, len(m.byStatus))
	for k, v := range m.byStatus {
		byStatus[k] = v
	}
	m.mu.Unlock()

	return models.SystemMetrics{
		PlansTotal:               plans,
		PlansByStatus:            byStatus,
		SolveTimeouts:            atomic.LoadUint64(&m.timeoutCount),
		AverageSolveDurationMs:   avgSolveMs,
		CacheHitRatio:            cacheRatio,
		CacheHits:                hits,
		CacheMisses:              misses,
		RequestsTotal:            requests,
		AverageRequestDurationMs: avgRequestMs,
		QueueDepth:               int(atomic.LoadInt64(&m.depth)),
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
}
