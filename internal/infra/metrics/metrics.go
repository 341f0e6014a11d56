// Package metrics provides Prometheus metrics for the inference core:
// counters, gauges, and histograms for the scheduler, caches, memory
// pools, and model lifecycle.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Requests ───────────────────────────────────────────────────────────────

// RequestLatency tracks end-to-end request duration in seconds, from Send
// to response delivery.
var RequestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "tutu",
	Name:      "request_latency_seconds",
	Help:      "End-to-end request duration in seconds.",
	Buckets:   prometheus.DefBuckets,
}, []string{"model"})

// RequestsCompleted tracks completed requests by model and final status.
var RequestsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "tutu",
	Name:      "requests_completed_total",
	Help:      "Total completed requests by model and status.",
}, []string{"model", "status"})

// RequestsDiscarded tracks requests withdrawn via DiscardTask.
var RequestsDiscarded = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "tutu",
	Name:      "requests_discarded_total",
	Help:      "Total requests withdrawn via DiscardTask.",
}, []string{"model"})

// ─── Batching ───────────────────────────────────────────────────────────────

// BatchSize tracks the item count of each package an Engine runs.
var BatchSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "tutu",
	Name:      "batch_size",
	Help:      "Item count of each batch dispatched to an engine.",
	Buckets:   []float64{1, 2, 4, 8, 16, 32, 64},
}, []string{"model"})

// BatchFlushReason tracks why a dynamic batch was cut: "full" or
// "timeout".
var BatchFlushReason = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "tutu",
	Name:      "batch_flush_total",
	Help:      "Total batches cut, by reason.",
}, []string{"model", "reason"})

// ─── Scheduler / thread pool ────────────────────────────────────────────────

// QueueDepth tracks the number of tasks waiting in the priority thread
// pool.
var QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "tutu",
	Name:      "pool_queue_depth",
	Help:      "Number of tasks waiting in the priority thread pool.",
}, []string{"pool"})

// WorkerCount tracks the current live worker goroutine count.
var WorkerCount = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "tutu",
	Name:      "pool_worker_count",
	Help:      "Current live worker count.",
}, []string{"pool"})

// InFlightPackages tracks packages currently running through an engine.
var InFlightPackages = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "tutu",
	Name:      "engine_in_flight_packages",
	Help:      "Packages currently in flight per model.",
}, []string{"model"})

// ─── Memory pools ───────────────────────────────────────────────────────────

// BufferPoolAcquireLatency tracks how long Acquire blocked waiting for a
// free buffer.
var BufferPoolAcquireLatency = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "tutu",
	Name:      "buffer_pool_acquire_latency_seconds",
	Help:      "Time Acquire spent blocked waiting for a free buffer.",
	Buckets:   []float64{0.0001, 0.001, 0.01, 0.1, 1},
})

// BufferPoolExhausted counts Acquire calls that hit ErrAcquireTimeout.
var BufferPoolExhausted = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "tutu",
	Name:      "buffer_pool_exhausted_total",
	Help:      "Total Acquire calls that timed out waiting for a free buffer.",
})

// ─── Model lifecycle ────────────────────────────────────────────────────────

// ModelsLoaded tracks the number of model pipelines currently resident in
// the model cache.
var ModelsLoaded = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "tutu",
	Name:      "models_loaded",
	Help:      "Number of model pipelines currently loaded.",
})

// ModelEvictions tracks LRU evictions from the model cache.
var ModelEvictions = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "tutu",
	Name:      "model_evictions_total",
	Help:      "Total model pipelines evicted from the model cache.",
})

// ─── Health ─────────────────────────────────────────────────────────────────

// HealthCheckStatus tracks health check results (1=healthy, 0=unhealthy).
var HealthCheckStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "tutu",
	Name:      "health_check_status",
	Help:      "Health check result per component (1=healthy, 0=unhealthy).",
}, []string{"check"})
