// Package monitoring defines the Prometheus collectors of the web app.
package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prediction outcomes used as the "result" label.
const (
	ResultOK              = "ok"
	ResultArtifactMissing = "artifact_missing"
	ResultInvalidInput    = "invalid_input"
	ResultError           = "error"
)

// Metrics Prometheus监控指标
type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	PredictionsTotal    *prometheus.CounterVec
	PredictionLatency   prometheus.Histogram
	ArtifactLookups     *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New creates the collectors and registers them with reg. Passing a fresh
// prometheus.NewRegistry keeps tests isolated.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"method", "path"},
		),
		PredictionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "medcost_predictions_total",
				Help: "Prediction requests by result (ok, artifact_missing, invalid_input, error).",
			},
			[]string{"result"},
		),
		PredictionLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "medcost_prediction_duration_seconds",
				Help:    "Time spent loading artifacts and applying the model.",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
			},
		),
		ArtifactLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "medcost_artifact_cache_lookups_total",
				Help: "Artifact cache lookups by artifact file and outcome (hit, miss).",
			},
			[]string{"artifact", "outcome"},
		),
		gatherer: reg,
	}
	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.PredictionsTotal,
		m.PredictionLatency,
		m.ArtifactLookups,
	)
	return m
}

// Handler 返回 /metrics 处理器
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// ObserveRequest 记录一次HTTP请求
func (m *Metrics) ObserveRequest(method, path string, status int, elapsed time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(elapsed.Seconds())
}

// ObservePrediction 按结果记录一次预测及其耗时
func (m *Metrics) ObservePrediction(result string, elapsed time.Duration) {
	m.PredictionsTotal.WithLabelValues(result).Inc()
	m.PredictionLatency.Observe(elapsed.Seconds())
}

// ObserveArtifactLookup has the signature of ml.ArtifactCache.OnLookup.
func (m *Metrics) ObserveArtifactLookup(artifact string, hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	m.ArtifactLookups.WithLabelValues(artifact, outcome).Inc()
}
