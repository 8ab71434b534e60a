// Package metrics exposes the engine's Prometheus instrumentation. A
// Metrics value owns its collectors and the registry they live in, so
// tests can build isolated instances instead of fighting over the
// default registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's collectors.
type Metrics struct {
	registry *prometheus.Registry

	// JobsProcessed counts finished jobs by queue and outcome
	// (ok, failed, retried).
	JobsProcessed *prometheus.CounterVec

	// NodeEvaluations counts node evaluations by outcome
	// (ok, eval_error, stale).
	NodeEvaluations *prometheus.CounterVec

	// MergeDrops counts emissions dropped by version resolution.
	MergeDrops prometheus.Counter

	// GateBusy counts jobs bounced off a held domain gate.
	GateBusy prometheus.Counter

	// JobDuration observes end-to-end job latency by queue.
	JobDuration *prometheus.HistogramVec
}

// New builds a Metrics instance on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		JobsProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reflex_jobs_processed_total",
				Help: "Finished jobs by queue and outcome",
			},
			[]string{"queue", "outcome"},
		),
		NodeEvaluations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reflex_node_evaluations_total",
				Help: "Node evaluations by outcome",
			},
			[]string{"outcome"},
		),
		MergeDrops: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "reflex_merge_drops_total",
				Help: "Node emissions dropped by version resolution",
			},
		),
		GateBusy: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "reflex_gate_busy_total",
				Help: "Jobs bounced off a held domain gate",
			},
		),
		JobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "reflex_job_duration_seconds",
				Help:    "End-to-end job latency by queue",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"queue"},
		),
	}

	m.registry.MustRegister(
		m.JobsProcessed,
		m.NodeEvaluations,
		m.MergeDrops,
		m.GateBusy,
		m.JobDuration,
	)
	return m
}

// Registry returns the backing registry for exposition handlers.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
