package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RequestSize     *prometheus.HistogramVec
	ResponseSize    *prometheus.HistogramVec
	RateLimited     prometheus.Counter

	// File operation metrics
	FileOps             *prometheus.CounterVec
	FileOpDuration      *prometheus.HistogramVec
	BytesRead           prometheus.Counter
	BytesWritten        prometheus.Counter
	TraversalRejections prometheus.Counter

	startTime time.Time

	// Snapshot for JSON API - track current values
	snapshot MetricsSnapshot

	mu sync.RWMutex
}

// MetricsSnapshot holds current metric values for JSON API
type MetricsSnapshot struct {
	TotalRequests   int64   `json:"total_requests"`
	TotalErrors     int64   `json:"total_errors"`
	FileOperations  int64   `json:"file_operations"`
	FileErrors      int64   `json:"file_errors"`
	Traversals      int64   `json:"traversal_rejections"`
	AverageLatency  float64 `json:"average_latency_seconds"`
	UptimeSeconds   float64 `json:"uptime_seconds"`
	totalDuration   float64
	requestDuration int64
}

// NewMetrics creates a metrics collector registered on reg. Tests pass a
// fresh prometheus.NewRegistry so collectors never clash.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	m := &Metrics{
		startTime: time.Now(),

		// HTTP metrics
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nusapanel_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nusapanel_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		RequestSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nusapanel_http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000, 10000000, 100000000},
			},
			[]string{"method", "path"},
		),
		ResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nusapanel_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000, 10000000, 100000000},
			},
			[]string{"method", "path"},
		),
		RateLimited: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "nusapanel_http_rate_limited_total",
				Help: "Total number of requests rejected by the rate limiter",
			},
		),

		// File operation metrics
		FileOps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nusapanel_file_operations_total",
				Help: "Total number of file operations by outcome code",
			},
			[]string{"op", "code"},
		),
		FileOpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nusapanel_file_operation_duration_seconds",
				Help:    "File operation duration in seconds",
				Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"op"},
		),
		BytesRead: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "nusapanel_file_bytes_read_total",
				Help: "Total bytes returned by read and download",
			},
		),
		BytesWritten: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "nusapanel_file_bytes_written_total",
				Help: "Total bytes stored by write, create and upload",
			},
		),
		TraversalRejections: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "nusapanel_path_traversal_rejections_total",
				Help: "Total number of requests rejected for escaping the tenant home",
			},
		),
	}

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "nusapanel_uptime_seconds",
			Help: "Backend uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	return m
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration, reqSize, respSize int64) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.RequestSize.WithLabelValues(method, path).Observe(float64(reqSize))
	m.ResponseSize.WithLabelValues(method, path).Observe(float64(respSize))

	m.mu.Lock()
	m.snapshot.TotalRequests++
	m.snapshot.totalDuration += duration.Seconds()
	m.snapshot.requestDuration++
	if status[0] == '4' || status[0] == '5' {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// RecordFileOp records one file operation with its outcome code ("ok" on success)
func (m *Metrics) RecordFileOp(op, code string, duration time.Duration) {
	m.FileOps.WithLabelValues(op, code).Inc()
	m.FileOpDuration.WithLabelValues(op).Observe(duration.Seconds())

	m.mu.Lock()
	m.snapshot.FileOperations++
	if code != CodeOK {
		m.snapshot.FileErrors++
	}
	if code == CodeTraversal {
		m.snapshot.Traversals++
	}
	m.mu.Unlock()

	if code == CodeTraversal {
		m.TraversalRejections.Inc()
	}
}

// AddBytesRead counts bytes served to clients
func (m *Metrics) AddBytesRead(n int64) {
	if n > 0 {
		m.BytesRead.Add(float64(n))
	}
}

// AddBytesWritten counts bytes stored for clients
func (m *Metrics) AddBytesWritten(n int64) {
	if n > 0 {
		m.BytesWritten.Add(float64(n))
	}
}

// IncRateLimited counts a throttled request
func (m *Metrics) IncRateLimited() {
	m.RateLimited.Inc()
}

// Snapshot returns current totals for the JSON endpoint
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := m.snapshot
	if s.requestDuration > 0 {
		s.AverageLatency = s.totalDuration / float64(s.requestDuration)
	}
	s.UptimeSeconds = time.Since(m.startTime).Seconds()
	return s
}
