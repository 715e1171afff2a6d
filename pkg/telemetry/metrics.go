package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ─── Engine ──────────────────────────────────────────────────────────────────

	JobsRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "goldpin",
		Subsystem: "engine",
		Name:      "jobs_running",
		Help:      "Bulk purchase jobs currently executing.",
	})

	TasksResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "goldpin",
		Subsystem: "engine",
		Name:      "tasks_resolved_total",
		Help:      "Resolved purchase tasks, labelled by outcome kind.",
	}, []string{"outcome"})

	TasksRequeued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "goldpin",
		Subsystem: "engine",
		Name:      "tasks_requeued_total",
		Help:      "Tasks pushed back to the queue front for a safe retry.",
	})

	ManualReviewTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "goldpin",
		Subsystem: "engine",
		Name:      "manual_review_total",
		Help:      "Outcomes quarantined for human review (money possibly spent, result unknown).",
	})

	AttemptDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "goldpin",
		Subsystem: "engine",
		Name:      "attempt_duration_seconds",
		Help:      "End-to-end duration of one purchase attempt.",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
	})

	WorkersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "goldpin",
		Subsystem: "engine",
		Name:      "workers_active",
		Help:      "Worker sessions currently running.",
	})

	SessionRelaunches = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "goldpin",
		Subsystem: "engine",
		Name:      "session_relaunches_total",
		Help:      "Dead sessions relaunched while their backup code was still unused.",
	})

	CredentialsReserved = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "goldpin",
		Subsystem: "engine",
		Name:      "credentials_reserved_total",
		Help:      "Backup codes reserved (and burned) for worker sessions.",
	})

	// ─── Durable saves ───────────────────────────────────────────────────────────

	SavesPending = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "goldpin",
		Subsystem: "saves",
		Name:      "pending",
		Help:      "Durable persistence writes still in flight.",
	})

	SaveFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "goldpin",
		Subsystem: "saves",
		Name:      "failures_total",
		Help:      "Durable persistence writes that failed after their own retry budget.",
	})
)
