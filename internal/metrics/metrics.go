package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsCreated tracks jobs accepted by admission
	JobsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "noteably_jobs_created_total",
			Help: "Total number of jobs accepted by admission",
		},
	)

	// JobsRejected tracks admission rejections by error kind
	JobsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "noteably_jobs_rejected_total",
			Help: "Total number of uploads rejected before a job was created",
		},
		[]string{"kind"},
	)

	// JobTransitions tracks job state machine transitions
	JobTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "noteably_job_transitions_total",
			Help: "Total number of job status transitions",
		},
		[]string{"from", "to"},
	)

	// StepDuration tracks orchestrator step latency by the status the step started in
	StepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "noteably_step_duration_seconds",
			Help:    "Orchestrator step duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status"},
	)

	// ExternalCallsTotal tracks wrapped external calls by final outcome
	ExternalCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "noteably_external_calls_total",
			Help: "Total number of external calls by outcome (success, failed, exhausted)",
		},
		[]string{"op", "outcome"},
	)

	// RetriesTotal tracks retries scheduled by the retry wrapper
	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "noteably_retries_total",
			Help: "Total number of retries by operation and error kind",
		},
		[]string{"op", "kind"},
	)

	// GenerationFailures tracks material types skipped after generation failed
	GenerationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "noteably_generation_failures_total",
			Help: "Total number of material types that failed to generate",
		},
		[]string{"material_type"},
	)

	// QueueDepth tracks scheduled job wake-ups
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "noteably_queue_depth",
			Help: "Number of scheduled job wake-ups",
		},
	)

	// LockContention tracks claims that found the job already locked
	LockContention = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "noteably_lock_contention_total",
			Help: "Total number of job claims deferred because another worker held the lock",
		},
	)

	// DBConnectionPoolUsage tracks open connections as a percentage of the pool limit
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "noteably_db_connection_pool_usage_percent",
			Help: "Percentage of the database connection pool in use",
		},
	)
)
