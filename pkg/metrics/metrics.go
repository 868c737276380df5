// Package metrics exposes Prometheus instrumentation for the admission
// pipeline and the HTTP surface.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns the process registry and every collector registered on
// it. A nil *Metrics disables instrumentation at zero cost.
type Metrics struct {
	registry *prometheus.Registry

	pipelineRuns     *prometheus.CounterVec
	pipelineDuration *prometheus.HistogramVec
	queueDepth       prometheus.Gauge
	uploadsTotal     *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
}

// New creates a registry with the standard Go and process collectors
// plus the PhotoGate collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Metrics{
		registry: reg,
		pipelineRuns: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "photogate_pipeline_runs_total",
				Help: "Total pipeline runs by terminal outcome",
			},
			[]string{"outcome"},
		),
		pipelineDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "photogate_pipeline_run_duration_milliseconds",
				Help: "Duration of pipeline runs in milliseconds",
				Buckets: []float64{
					50,    // 50ms - small originals
					100,   // 100ms
					250,   // 250ms
					500,   // 500ms
					1000,  // 1s - typical full-stage run
					2500,  // 2.5s
					5000,  // 5s - large originals
					10000, // 10s
				},
			},
			[]string{"outcome"},
		),
		queueDepth: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "photogate_pipeline_queue_depth",
				Help: "Pending pipeline runs waiting for a worker",
			},
		),
		uploadsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "photogate_uploads_total",
				Help: "Total uploaded files by acceptance at the upload boundary",
			},
			[]string{"status"},
		),
		httpRequests: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "photogate_http_requests_total",
				Help: "Total HTTP requests by method and status class",
			},
			[]string{"method", "status"},
		),
		httpDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "photogate_http_request_duration_milliseconds",
				Help: "Duration of HTTP requests in milliseconds",
				Buckets: []float64{
					5,    // 5ms - reads
					10,   // 10ms
					50,   // 50ms
					100,  // 100ms
					500,  // 500ms - multipart uploads
					1000, // 1s
					5000, // 5s
				},
			},
			[]string{"method"},
		),
	}
}

// Handler returns the scrape endpoint handler for the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRun satisfies pipeline.Metrics.
func (m *Metrics) ObserveRun(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.pipelineRuns.WithLabelValues(outcome).Inc()
	m.pipelineDuration.WithLabelValues(outcome).
		Observe(float64(duration.Milliseconds()))
}

// SetQueueDepth satisfies admission.QueueMetrics.
func (m *Metrics) SetQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
}

// ObserveUpload counts one file of an upload batch.
func (m *Metrics) ObserveUpload(accepted bool) {
	if m == nil {
		return
	}
	status := "accepted"
	if !accepted {
		status = "rejected"
	}
	m.uploadsTotal.WithLabelValues(status).Inc()
}

// ObserveHTTP counts one served request.
func (m *Metrics) ObserveHTTP(method string, statusCode int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, statusClass(statusCode)).Inc()
	m.httpDuration.WithLabelValues(method).
		Observe(float64(duration.Milliseconds()))
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
