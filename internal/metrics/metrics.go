// Package metrics provides Prometheus metrics for the assistant server.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "lumi"

var (
	// RequestsTotal counts total requests by method, path, and status.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	// RequestDuration measures request latency in seconds.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"method", "path"},
	)

	// UpstreamRequestsTotal counts model backend calls by provider.
	UpstreamRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Total number of model backend requests.",
		},
		[]string{"provider", "status"},
	)

	// UpstreamDuration measures model backend latency.
	UpstreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_request_duration_seconds",
			Help:      "Model backend request duration in seconds.",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"provider"},
	)

	// CommandsTotal counts runner executions by outcome.
	CommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Total number of executed (or rejected) commands.",
		},
		[]string{"outcome"}, // "ok", "failed", "rejected", "timeout"
	)

	// ArtifactsWrittenTotal counts files written from model replies.
	ArtifactsWrittenTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifacts_written_total",
			Help:      "Total number of reply artifacts written to disk.",
		},
	)

	// ErrorsTotal counts errors by type.
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Total errors by type.",
		},
		[]string{"type"},
	)
)

// ObserveUpstream records one backend call.
func ObserveUpstream(provider string, ok bool, d time.Duration) {
	status := "ok"
	if !ok {
		status = "error"
	}
	UpstreamRequestsTotal.WithLabelValues(provider, status).Inc()
	UpstreamDuration.WithLabelValues(provider).Observe(d.Seconds())
}
