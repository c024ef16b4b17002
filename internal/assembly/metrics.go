package assembly

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StageAttempts counts agent invocations.
	// Labels: kind, outcome (passed, gate_failed, error)
	StageAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "launchpad",
			Subsystem: "assembly",
			Name:      "stage_attempts_total",
			Help:      "Total number of assembly stage attempts by outcome",
		},
		[]string{"kind", "outcome"},
	)

	// GateFailures counts failed quality gate checks.
	// Labels: kind, gate
	GateFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "launchpad",
			Subsystem: "assembly",
			Name:      "gate_failures_total",
			Help:      "Total number of failed quality gate checks",
		},
		[]string{"kind", "gate"},
	)
)
