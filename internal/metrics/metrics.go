// Package metrics provides Prometheus instrumentation for the realtime core.
// It exposes gauges for connection counts, counters for frame and push
// throughput, and counters for maintenance job runs.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsActive tracks the number of WebSocket connections owned by
	// this process.
	ConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "roamly_connections_active",
		Help: "Current number of WebSocket connections on this process",
	})

	// FramesTotal counts inbound frames by type ("send_message", "typing",
	// "mark_read", "heartbeat", "invalid").
	FramesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roamly_frames_total",
		Help: "Total inbound WebSocket frames processed",
	}, []string{"type"})

	// PushesTotal counts outbound pushes by channel ("message", "typing",
	// "presence", "notification").
	PushesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roamly_pushes_total",
		Help: "Total frames pushed to local connections from fabric events",
	}, []string{"channel"})

	// PublishFailures counts broadcast fabric publish errors by subject.
	// Publishes are best-effort, so failures surface only here and in logs.
	PublishFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roamly_publish_failures_total",
		Help: "Total failed publishes to the broadcast fabric",
	}, []string{"subject"})

	// PresenceQueries counts REST presence queries by endpoint.
	PresenceQueries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roamly_presence_queries_total",
		Help: "Total presence query endpoint requests",
	}, []string{"endpoint"})

	// JobRuns counts maintenance job executions by job name and outcome
	// ("ok", "error", "panic").
	JobRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roamly_job_runs_total",
		Help: "Total maintenance job runs",
	}, []string{"job", "outcome"})
)

func init() {
	prometheus.MustRegister(
		ConnectionsActive,
		FramesTotal,
		PushesTotal,
		PublishFailures,
		PresenceQueries,
		JobRuns,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
