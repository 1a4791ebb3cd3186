package service

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsServiceCountsSinkAndExport(t *testing.T) {
	m := NewMetricsService()
	m.ObserveSinkRequest(http.MethodPost, "logstash:8080", http.StatusOK, 10*time.Millisecond)
	m.ObserveSinkRequest(http.MethodPost, "logstash:8080", 0, time.Millisecond)
	m.ObserveExportPage(100, true)
	m.ObserveExportPage(50, true)
	m.ObserveExportPage(50, false)
	m.ObserveJob("manual", "enqueued")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.sinkTotal.WithLabelValues(http.MethodPost, "logstash:8080", "2xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sinkTotal.WithLabelValues(http.MethodPost, "logstash:8080", "error")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.exportPages.WithLabelValues("sent")))
	assert.Equal(t, 150.0, testutil.ToFloat64(m.exportRecords))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobsTotal.WithLabelValues("manual", "enqueued")))
}

func TestMetricsServiceHandler(t *testing.T) {
	m := NewMetricsService()
	m.RecordCacheOperation(true, time.Millisecond)
	m.RecordCacheOperation(false, time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "cache_hit_ratio 0.5")

	var nilSvc *MetricsService
	rec = httptest.NewRecorder()
	nilSvc.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsServiceWatchQueue(t *testing.T) {
	m := NewMetricsService()
	depth := 3
	require.NoError(t, m.WatchQueue("grade-exports", func() int { return depth }))
	assert.Error(t, m.WatchQueue("grade-exports", func() int { return 0 }))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), `job_queue_depth{queue="grade-exports"} 3`)
}
