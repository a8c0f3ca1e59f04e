// Package metrics exposes the onboarding pipeline's Prometheus
// instrumentation: per-activity counters and latency histograms, queue
// depth, and run outcome counts, all registered via promauto against the
// default registry and scraped at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActivityAttempts counts every activity attempt by name and outcome
	// (completed or failed).
	ActivityAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "onboarding_pipeline",
		Name:      "activity_attempts_total",
		Help:      "Total activity attempts by activity name and outcome.",
	}, []string{"activity", "outcome"})

	// ActivityDuration tracks activity execution time, excluding retry
	// backoff wait time.
	ActivityDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "onboarding_pipeline",
		Name:      "activity_duration_seconds",
		Help:      "Activity execution duration in seconds.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14),
	}, []string{"activity"})

	// RunsCompleted counts terminal run outcomes by final status.
	RunsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "onboarding_pipeline",
		Name:      "runs_completed_total",
		Help:      "Total workflow runs reaching a terminal state, by status.",
	}, []string{"status"})

	// QueueDepth reports the number of queue rows claimed in the most
	// recent claim cycle, which is capped by the pool's free capacity.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "onboarding_pipeline",
		Name:      "queue_depth",
		Help:      "Work queue rows claimed in the last claim cycle.",
	})

	// ActiveWorkers reports the number of currently-registered worker
	// pool members.
	ActiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "onboarding_pipeline",
		Name:      "active_workers",
		Help:      "Currently registered worker pool members.",
	})

	// HTTPRequests counts HTTP requests by route and numeric status code.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "onboarding_pipeline",
		Name:      "http_requests_total",
		Help:      "HTTP requests served by the pipeline control surface.",
	}, []string{"route", "status"})
)
