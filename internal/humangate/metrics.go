package humangate

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WorkflowsCreated counts opened workflows.
	// Labels: type, priority
	WorkflowsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "launchpad",
			Subsystem: "humangate",
			Name:      "workflows_created_total",
			Help:      "Total number of approval workflows created",
		},
		[]string{"type", "priority"},
	)

	// WorkflowsResponded counts founder responses.
	// Labels: decision (approve, reject, request_revision)
	WorkflowsResponded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "launchpad",
			Subsystem: "humangate",
			Name:      "workflows_responded_total",
			Help:      "Total number of founder responses by decision",
		},
		[]string{"decision"},
	)

	// WorkflowsExpired counts workflows that ran out of time.
	WorkflowsExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "launchpad",
			Subsystem: "humangate",
			Name:      "workflows_expired_total",
			Help:      "Total number of approval workflows that expired",
		},
	)

	// ResponseHours tracks time from creation to founder response.
	ResponseHours = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "launchpad",
			Subsystem: "humangate",
			Name:      "response_time_hours",
			Help:      "Hours between workflow creation and founder response",
			Buckets:   []float64{0.25, 1, 4, 12, 24, 72, 168},
		},
	)

	// RemindersSent counts reminders emitted.
	RemindersSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "launchpad",
			Subsystem: "humangate",
			Name:      "reminders_sent_total",
			Help:      "Total number of approval reminders sent",
		},
	)
)
