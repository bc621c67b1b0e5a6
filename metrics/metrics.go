// Package metrics holds the Prometheus collectors shared by the job pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups every collector the server exports.
//
// Collectors are registered on the Registerer passed to New, so tests can use
// a private registry and the server can use prometheus.DefaultRegisterer.
type Metrics struct {
	ProgressRouted  prometheus.Counter
	ProgressDropped prometheus.Counter

	ChunksDispatched *prometheus.CounterVec // labels: backend, outcome
	ChunkDuration    *prometheus.HistogramVec
	Joins            *prometheus.CounterVec // labels: backend, outcome
	ChunksPerJob     prometheus.Histogram

	ActiveJobs        prometheus.Gauge
	ActiveConnections prometheus.Gauge
	ProcessesKilled   prometheus.Counter
}

// New creates the collectors and registers them on reg
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		ProgressRouted: f.NewCounter(prometheus.CounterOpts{
			Name: "hyperlapse_progress_events_routed_total",
			Help: "Progress events delivered to a registered sink",
		}),
		ProgressDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "hyperlapse_progress_events_dropped_total",
			Help: "Progress events dropped because no sink was registered for their key",
		}),
		ChunksDispatched: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hyperlapse_chunks_dispatched_total",
			Help: "Chunk invocations by backend and outcome",
		}, []string{"backend", "outcome"}),
		ChunkDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hyperlapse_chunk_duration_seconds",
			Help:    "Wall time of a single chunk invocation",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"backend"}),
		Joins: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hyperlapse_joins_total",
			Help: "Join calls by backend and outcome",
		}, []string{"backend", "outcome"}),
		ChunksPerJob: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "hyperlapse_chunks_per_job",
			Help:    "Number of chunks a build was split into",
			Buckets: prometheus.LinearBuckets(1, 1, 10),
		}),
		ActiveJobs: f.NewGauge(prometheus.GaugeOpts{
			Name: "hyperlapse_active_jobs",
			Help: "Top-level requests currently in flight",
		}),
		ActiveConnections: f.NewGauge(prometheus.GaugeOpts{
			Name: "hyperlapse_active_connections",
			Help: "Open RPC connections",
		}),
		ProcessesKilled: f.NewCounter(prometheus.CounterOpts{
			Name: "hyperlapse_processes_killed_total",
			Help: "Local backend processes killed on disconnect",
		}),
	}
}

// NewUnregistered creates collectors that are not exported anywhere
func NewUnregistered() *Metrics {
	return New(prometheus.NewRegistry())
}

// Outcome returns the outcome label for err
func Outcome(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}
