package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exports tracking server activity for Prometheus
type Metrics struct {
	registry *prometheus.Registry

	RunsCreated          prometheus.Counter
	RunsEnded            *prometheus.CounterVec
	RunsActive           prometheus.Gauge
	ModelVersionsCreated *prometheus.CounterVec
	ArtifactBytes        *prometheus.CounterVec
	RequestDuration      *prometheus.HistogramVec
}

// NewMetrics creates the collectors on a private registry
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		RunsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pdm_tracking_runs_created_total",
			Help: "Total number of runs created",
		}),
		RunsEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pdm_tracking_runs_ended_total",
			Help: "Total number of runs that reached a terminal status",
		}, []string{"status"}),
		RunsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pdm_tracking_runs_active",
			Help: "Runs created by this server that have not ended yet",
		}),
		ModelVersionsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pdm_registry_model_versions_created_total",
			Help: "Total number of registered model versions",
		}, []string{"model"}),
		ArtifactBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pdm_artifact_bytes_total",
			Help: "Artifact bytes transferred",
		}, []string{"direction"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pdm_http_request_duration_seconds",
			Help:    "Duration of tracking API requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method", "code"}),
	}

	m.registry.MustRegister(
		m.RunsCreated,
		m.RunsEnded,
		m.RunsActive,
		m.ModelVersionsCreated,
		m.ArtifactBytes,
		m.RequestDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry holding the collectors
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the metrics in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
