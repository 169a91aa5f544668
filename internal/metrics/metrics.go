// Package metrics exposes Prometheus metrics for the analysis pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the bot.
type Metrics struct {
	// ImagesSeen counts image attachments accepted for analysis.
	ImagesSeen prometheus.Counter
	// Verdicts counts completed analyses by verdict label.
	Verdicts *prometheus.CounterVec
	// StageFailures counts pipeline failures by stage (fetch, detect,
	// reply, upload, append).
	StageFailures *prometheus.CounterVec
	// ExternalCallDuration tracks external call latency by dependency.
	ExternalCallDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// New creates and registers all metrics on a private registry.
func New(namespace string) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		ImagesSeen: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "images_seen_total",
			Help:      "Image attachments accepted for analysis",
		}),
		Verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verdicts_total",
			Help:      "Completed analyses by verdict",
		}, []string{"verdict"}),
		StageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_failures_total",
			Help:      "Pipeline failures by stage",
		}, []string{"stage"}),
		ExternalCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "external_call_duration_seconds",
			Help:      "External call latency by dependency",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
		}, []string{"dependency"}),
	}

	registry.MustRegister(m.ImagesSeen, m.Verdicts, m.StageFailures, m.ExternalCallDuration)
	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
