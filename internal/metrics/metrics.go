package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsCreated tracks jobs created per kind
	JobsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "daemon_jobs_created_total",
			Help: "Total number of jobs created",
		},
		[]string{"kind"},
	)

	// JobsCompleted tracks jobs that reached DONE per kind
	JobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "daemon_jobs_completed_total",
			Help: "Total number of jobs completed",
		},
		[]string{"kind"},
	)

	// JobsErrored tracks jobs that reached ERROR per kind
	JobsErrored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "daemon_jobs_errored_total",
			Help: "Total number of jobs that failed permanently",
		},
		[]string{"kind"},
	)

	// StageTransitions tracks status transitions taken by the pipeline
	StageTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "daemon_stage_transitions_total",
			Help: "Total number of job status transitions",
		},
		[]string{"from", "to"},
	)

	// RetryAttempts tracks transient-failure retries per operation
	RetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "daemon_retry_attempts_total",
			Help: "Total number of retried operations",
		},
		[]string{"operation"},
	)

	// QueueDepth tracks the number of jobs waiting in the dispatch queue
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "daemon_queue_depth",
			Help: "Number of jobs waiting in the dispatch queue",
		},
	)

	// JobsInFlight tracks jobs currently held by a worker
	JobsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "daemon_jobs_in_flight",
			Help: "Number of jobs currently being processed",
		},
	)

	// HeadSlot tracks the latest observed beacon head slot
	HeadSlot = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "daemon_head_slot",
			Help: "Latest observed beacon chain head slot",
		},
	)

	// LatestVerifiedEpoch tracks the latest epoch verified on-chain
	LatestVerifiedEpoch = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "daemon_latest_verified_epoch",
			Help: "Latest epoch verified on the settlement chain",
		},
	)
)
