// Package obs provides Prometheus metrics for the task runtime,
// exported at /metrics by the HTTP server. These mirror the in-process
// metrics registry for scraping; the registry stays the source of
// truth for the library API.
package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Tasks ──────────────────────────────────────────────────────────────────

// TasksSubmitted counts submissions by backend (go, pool, priority, deps).
var TasksSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "makeparallel",
	Name:      "tasks_submitted_total",
	Help:      "Total tasks submitted.",
}, []string{"backend"})

// TasksCompleted counts successful terminal transitions.
var TasksCompleted = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "makeparallel",
	Name:      "tasks_completed_total",
	Help:      "Total tasks that completed successfully.",
})

// TasksFailed counts failure terminal transitions by kind.
var TasksFailed = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "makeparallel",
	Name:      "tasks_failed_total",
	Help:      "Total tasks that ended in a failure state.",
}, []string{"state"})

// TasksActive tracks tasks currently running.
var TasksActive = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "makeparallel",
	Name:      "tasks_active",
	Help:      "Number of currently running tasks.",
})

// TaskDuration tracks task execution duration in seconds.
var TaskDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "makeparallel",
	Name:      "task_duration_seconds",
	Help:      "Task execution duration in seconds.",
	Buckets:   prometheus.DefBuckets,
})

// ─── Pool ───────────────────────────────────────────────────────────────────

// PoolWorkers tracks the configured worker count.
var PoolWorkers = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "makeparallel",
	Name:      "pool_workers",
	Help:      "Configured worker count of the shared pool.",
})

// QueueDepth tracks queued-but-not-started work by backend.
var QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "makeparallel",
	Name:      "queue_depth",
	Help:      "Queued work items per backend.",
}, []string{"backend"})

// ─── Cache ──────────────────────────────────────────────────────────────────

// CacheHits counts memoization cache hits.
var CacheHits = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "makeparallel",
	Name:      "cache_hits_total",
	Help:      "Total memoization cache hits.",
})

// CacheMisses counts memoization cache misses (computations).
var CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "makeparallel",
	Name:      "cache_misses_total",
	Help:      "Total memoization cache misses.",
})
