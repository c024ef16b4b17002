package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PipelinesStarted counts started executions.
	PipelinesStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "launchpad",
			Subsystem: "pipeline",
			Name:      "started_total",
			Help:      "Total number of pipeline executions started",
		},
	)

	// PipelinesFinished counts executions reaching a terminal status.
	// Labels: status (completed, failed, cancelled)
	PipelinesFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "launchpad",
			Subsystem: "pipeline",
			Name:      "finished_total",
			Help:      "Total number of pipeline executions by terminal status",
		},
		[]string{"status"},
	)

	// StageDuration tracks time spent per stage.
	// Labels: stage
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "launchpad",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Time spent in each pipeline stage",
			Buckets:   []float64{0.1, 1, 10, 60, 600, 3600, 86400, 259200},
		},
		[]string{"stage"},
	)

	// ActiveTasks is the number of running background tasks.
	ActiveTasks = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "launchpad",
			Subsystem: "pipeline",
			Name:      "active_tasks",
			Help:      "Number of pipeline background tasks currently running",
		},
	)
)
