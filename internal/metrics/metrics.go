// Package metrics exposes Prometheus metrics for rule evaluation, the
// deletion queue and the external services.
//
// Usage:
//
//	metrics.RecordEvaluation(4, 30, 86, 0, 250*time.Millisecond)
//	metrics.RecordDeletion("full_removal", true, 4<<30, 2*time.Second)
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "reclaimarr"

var (
	// Evaluation

	EvaluationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "evaluations_total",
		Help:      "Total number of rule evaluation runs",
	})

	EvaluatedItemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "evaluated_items_total",
		Help:      "Items evaluated by outcome",
	}, []string{"outcome"})

	EvaluationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "evaluation_duration_seconds",
		Help:      "Duration of a full rule evaluation run",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	})

	// Queue

	QueueTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "queue_transitions_total",
		Help:      "Deletion queue transitions by kind and source",
	}, []string{"transition", "source"})

	QueueSize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_size",
		Help:      "Items currently pending deletion",
	})

	// Deletion

	DeletionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "deletions_total",
		Help:      "Deletions by action and outcome",
	}, []string{"action", "outcome"})

	BytesFreedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bytes_freed_total",
		Help:      "Bytes of media removed from disk",
	})

	DeletionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "deletion_duration_seconds",
		Help:      "Duration of a single item deletion",
		Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"action"})

	SweepsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "queue_sweeps_total",
		Help:      "Total number of deletion queue sweeps",
	})

	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "queue_sweep_duration_seconds",
		Help:      "Duration of a deletion queue sweep",
		Buckets:   []float64{0.1, 1, 5, 15, 60, 300, 900},
	})

	// External services

	ExternalRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "external_requests_total",
		Help:      "Requests to Sonarr, Radarr and Overseerr by outcome",
	}, []string{"service", "outcome"})

	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "circuit_breaker_state",
		Help:      "Circuit breaker state per service (0=closed, 1=half-open, 2=open)",
	}, []string{"service"})

	// Scheduler

	TaskRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "task_runs_total",
		Help:      "Scheduled task runs by outcome (success, error, skipped)",
	}, []string{"task", "outcome"})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordEvaluation records one rule evaluation run. Failed items are also
// counted in ignored by the engine and are split out here.
func RecordEvaluation(flagged, protected, ignored, failed int, duration time.Duration) {
	EvaluationsTotal.Inc()
	EvaluatedItemsTotal.WithLabelValues("flagged").Add(float64(flagged))
	EvaluatedItemsTotal.WithLabelValues("protected").Add(float64(protected))
	EvaluatedItemsTotal.WithLabelValues("ignored").Add(float64(ignored - failed))
	EvaluatedItemsTotal.WithLabelValues("failed").Add(float64(failed))
	EvaluationDuration.Observe(duration.Seconds())
}

// RecordQueueTransition records an item entering or leaving the queue, or a
// protection change. transition is one of marked, unmarked, protected,
// unprotected.
func RecordQueueTransition(transition, source string) {
	QueueTransitionsTotal.WithLabelValues(transition, source).Inc()
}

// SetQueueSize publishes the current queue length.
func SetQueueSize(n int64) {
	QueueSize.Set(float64(n))
}

// RecordDeletion records the outcome of one item deletion.
func RecordDeletion(action string, success bool, freed int64, duration time.Duration) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	DeletionsTotal.WithLabelValues(action, outcome).Inc()
	if freed > 0 {
		BytesFreedTotal.Add(float64(freed))
	}
	DeletionDuration.WithLabelValues(action).Observe(duration.Seconds())
}

// RecordSweep records one queue sweep.
func RecordSweep(duration time.Duration) {
	SweepsTotal.Inc()
	SweepDuration.Observe(duration.Seconds())
}

// RecordExternalRequest records a call to an external service.
func RecordExternalRequest(service string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	ExternalRequestsTotal.WithLabelValues(service, outcome).Inc()
}

// SetCircuitBreakerState publishes a breaker state using the numeric
// encoding of the breaker library (closed=0, half-open=1, open=2).
func SetCircuitBreakerState(service string, state int) {
	CircuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// RecordTaskRun records a scheduled task run.
func RecordTaskRun(task, outcome string) {
	TaskRunsTotal.WithLabelValues(task, outcome).Inc()
}
