package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
)

const NAMESPACE = "labsched"
const SUBSYSTEM = "scheduler"

type Metrics struct {
	// Wall time of a full scheduling cycle.
	tickDuration prometheus.Histogram
	// Jobs dispatched to drones, cumulative.
	scheduledJobs prometheus.Counter
	// Queue entries waiting for a host at the start of the last cycle.
	pendingEntries prometheus.Gauge
	// Total processes believed active across all drones.
	activeProcesses prometheus.Gauge
}

func NewMetrics(registerer prometheus.Registerer) *Metrics {
	tickDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: NAMESPACE,
			Subsystem: SUBSYSTEM,
			Name:      "tick_duration_seconds",
			Help:      "Wall time of one scheduling cycle.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 15),
		},
	)

	scheduledJobs := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: NAMESPACE,
			Subsystem: SUBSYSTEM,
			Name:      "scheduled_jobs_total",
			Help:      "Jobs dispatched to drones.",
		},
	)

	pendingEntries := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: NAMESPACE,
			Subsystem: SUBSYSTEM,
			Name:      "pending_queue_entries",
			Help:      "Queue entries waiting for a host at the start of the last cycle.",
		},
	)

	activeProcesses := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: NAMESPACE,
			Subsystem: SUBSYSTEM,
			Name:      "active_processes",
			Help:      "Processes believed active across all drones.",
		},
	)

	registerer.MustRegister(tickDuration)
	registerer.MustRegister(scheduledJobs)
	registerer.MustRegister(pendingEntries)
	registerer.MustRegister(activeProcesses)

	return &Metrics{
		tickDuration:    tickDuration,
		scheduledJobs:   scheduledJobs,
		pendingEntries:  pendingEntries,
		activeProcesses: activeProcesses,
	}
}
