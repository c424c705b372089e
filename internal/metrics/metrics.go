// Package metrics exposes Prometheus instrumentation for the dispatcher,
// grounded in this codebase's promauto usage in
// libs/orchestration/coordination.go (lock/state counters and histograms)
// and mounted the way libs/api/server.go mounts promhttp.Handler().
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the counters/gauges/histograms the dispatcher updates.
type Metrics struct {
	Assignments      prometheus.Counter
	ClaimConflicts   prometheus.Counter
	Requeues         prometheus.Counter
	Abandoned        prometheus.Counter
	QueueDepth       prometheus.Gauge
	DispatchDuration prometheus.Histogram
}

// New registers and returns the metric set against the default registerer.
func New() *Metrics {
	return &Metrics{
		Assignments: promauto.NewCounter(prometheus.CounterOpts{
			Name: "acd_assignments_total",
			Help: "Total number of contacts successfully assigned to an agent.",
		}),
		ClaimConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "acd_claim_conflicts_total",
			Help: "Total number of candidate claim attempts that lost the race (LOCKED or ERR).",
		}),
		Requeues: promauto.NewCounter(prometheus.CounterOpts{
			Name: "acd_requeues_total",
			Help: "Total number of contacts requeued after no candidate could be claimed.",
		}),
		Abandoned: promauto.NewCounter(prometheus.CounterOpts{
			Name: "acd_abandoned_total",
			Help: "Total number of contacts found COMPLETE on dequeue and dropped without requeue.",
		}),
		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "acd_queue_depth",
			Help: "Best-effort depth of the contact queue observed by the dispatcher.",
		}),
		DispatchDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "acd_dispatch_iteration_seconds",
			Help:    "Time spent per dispatcher loop iteration, from dequeue to assignment or requeue.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
	}
}
