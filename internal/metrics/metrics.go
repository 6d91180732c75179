// Package metrics exposes the engine's Prometheus collectors. Everything is
// registered on the default registry; the API mounts promhttp at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pulseguard_checks_total",
		Help: "Completed checks by final status.",
	}, []string{"status"})

	ProbeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pulseguard_probe_duration_seconds",
		Help:    "Wall-clock probe duration by monitor type.",
		Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"type"})

	Master = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pulseguard_scheduler_master",
		Help: "1 when this process holds the master lock.",
	})

	QueueJobs = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pulseguard_queue_jobs",
		Help: "Jobs in the queue by state.",
	}, []string{"state"})

	IncidentsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pulseguard_incidents_open",
		Help: "Ongoing incidents across all monitors.",
	})

	ReschedulesFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pulseguard_reschedules_failed_total",
		Help: "Reschedule attempts that exhausted their retries.",
	})
)
