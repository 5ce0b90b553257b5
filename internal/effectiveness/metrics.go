package effectiveness

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OutcomesTotal counts outcomes by result.
	// Labels: result (queued, dropped, applied, failed)
	OutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "learnd",
			Subsystem: "effectiveness",
			Name:      "outcomes_total",
			Help:      "Total number of learner outcomes by result",
		},
		[]string{"result"},
	)

	// AttemptsTotal counts learner attempts by result.
	// Labels: result (queued, dropped, applied, failed)
	AttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "learnd",
			Subsystem: "effectiveness",
			Name:      "attempts_total",
			Help:      "Total number of learner attempts by result",
		},
		[]string{"result"},
	)

	// BookkeepingFailures counts failed writes by step.
	// Labels: step (update, track_usage, track_attempt)
	BookkeepingFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "learnd",
			Subsystem: "effectiveness",
			Name:      "bookkeeping_failures_total",
			Help:      "Total number of failed effectiveness updates or usage log writes",
		},
		[]string{"step"},
	)

	// QueueDepth is the number of outcomes and attempts waiting for a worker.
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "learnd",
			Subsystem: "effectiveness",
			Name:      "queue_depth",
			Help:      "Number of outcomes and attempts waiting to be applied",
		},
	)

	// ApplyDuration tracks how long applying one outcome takes.
	ApplyDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "learnd",
			Subsystem: "effectiveness",
			Name:      "apply_duration_seconds",
			Help:      "Duration of applying one queued outcome or attempt in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)
)
