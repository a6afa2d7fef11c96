package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsStartedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docjobs_jobs_started_total",
		Help: "Total number of jobs started, by type",
	}, []string{"type"})

	JobsRecoveredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docjobs_jobs_recovered_total",
		Help: "Total number of jobs re-spawned by startup recovery, by type",
	}, []string{"type"})

	JobsFinishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docjobs_jobs_finished_total",
		Help: "Total number of jobs that reached a terminal status",
	}, []string{"type", "status"})

	JobProcessingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "docjobs_remote_call_duration_seconds",
		Help:    "Time taken by the remote call of a worker in seconds",
		Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	})

	ActiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "docjobs_active_workers",
		Help: "Current number of live workers",
	})

	ActiveJobs = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "docjobs_active_jobs",
		Help: "Current number of pending or running jobs, by type",
	}, []string{"type"})

	Notifications = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "docjobs_notifications",
		Help: "Current number of unexpired notifications",
	})
)
