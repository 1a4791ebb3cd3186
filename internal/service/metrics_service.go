package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the API, the sink and the export pipeline.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	sinkDuration    *prometheus.HistogramVec
	sinkTotal       *prometheus.CounterVec
	exportPages     *prometheus.CounterVec
	exportRecords   prometheus.Counter
	jobsTotal       *prometheus.CounterVec
	cacheLatency    prometheus.Observer
	cacheWrite      prometheus.Observer
	cacheHitRatio   prometheus.Gauge
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter

	cacheHitCount  uint64
	cacheMissCount uint64
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

	sinkDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sink_request_duration_seconds",
		Help:    "Duration of outbound analytics service requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "host", "status_class"})

	sinkTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sink_requests_total",
		Help: "Total outbound analytics service requests",
	}, []string{"method", "host", "status_class"})

	exportPages := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "export_pages_total",
		Help: "Pages sent to the ingestion endpoint",
	}, []string{"outcome"})

	exportRecords := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "export_records_total",
		Help: "Records accepted by the ingestion endpoint",
	})

	jobsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "export_jobs_total",
		Help: "Export jobs by trigger and outcome",
	}, []string{"trigger", "outcome"})

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

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, sinkDuration, sinkTotal, exportPages, exportRecords, jobsTotal,
		cacheLatency, cacheWrite, cacheHitRatio, cacheHits, cacheMisses, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:        registry,
		handler:         handler,
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		sinkDuration:    sinkDuration,
		sinkTotal:       sinkTotal,
		exportPages:     exportPages,
		exportRecords:   exportRecords,
		jobsTotal:       jobsTotal,
		cacheLatency:    cacheLatency,
		cacheWrite:      cacheWrite,
		cacheHitRatio:   cacheHitRatio,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
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
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// ObserveSinkRequest records one outbound call. Status 0 denotes a transport failure.
func (m *MetricsService) ObserveSinkRequest(method, host string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	class := "error"
	if status > 0 {
		class = fmt.Sprintf("%dxx", status/100)
	}
	m.sinkDuration.WithLabelValues(method, host, class).Observe(duration.Seconds())
	m.sinkTotal.WithLabelValues(method, host, class).Inc()
}

// ObserveExportPage counts one page handed to the ingestion endpoint.
func (m *MetricsService) ObserveExportPage(records int, success bool) {
	if m == nil {
		return
	}
	if !success {
		m.exportPages.WithLabelValues("failed").Inc()
		return
	}
	m.exportPages.WithLabelValues("sent").Inc()
	m.exportRecords.Add(float64(records))
}

// ObserveJob counts export job outcomes such as enqueued, succeeded or failed.
func (m *MetricsService) ObserveJob(trigger, outcome string) {
	if m == nil {
		return
	}
	m.jobsTotal.WithLabelValues(trigger, outcome).Inc()
}

// WatchQueue exposes the number of waiting jobs of a named queue.
func (m *MetricsService) WatchQueue(name string, depth func() int) error {
	if m == nil {
		return nil
	}
	gauge := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name:        "job_queue_depth",
		Help:        "Jobs waiting for a worker",
		ConstLabels: prometheus.Labels{"queue": name},
	}, func() float64 {
		return float64(depth())
	})
	return m.registry.Register(gauge)
}

// RecordCacheOperation records cache hit/miss metrics and updates hit ratio.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	if m.cacheLatency != nil {
		m.cacheLatency.Observe(duration.Seconds())
	}
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		m.cacheMisses.Inc()
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	total := hits + misses
	if total > 0 {
		m.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil || m.cacheWrite == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}
