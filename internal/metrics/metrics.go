// Package metrics holds the prometheus collectors for the import pipeline.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "eventingest"

type collectors struct {
	tasksTotal    *prometheus.CounterVec
	taskDuration  *prometheus.HistogramVec
	fetchBytes    prometheus.Counter
	fetchAttempts *prometheus.CounterVec
	rowsProcessed *prometheus.CounterVec
	eventsCreated prometheus.Counter
	locksCleared  prometheus.Counter
}

var singleton = sync.OnceValue(func() *collectors {
	return &collectors{
		tasksTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_total",
			Help:      "Total number of handled pipeline tasks.",
		}, []string{"task", "result"}),
		taskDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Latency distribution for pipeline task handlers.",
			Buckets: []float64{
				0.005, 0.01, 0.05,
				0.1, 0.5, 1,
				2, 5, 10, 30, 60,
			},
		}, []string{"task", "result"}),
		fetchBytes: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_bytes_total",
			Help:      "Bytes downloaded by URL imports.",
		}),
		fetchAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_attempts_total",
			Help:      "URL fetch attempts by outcome.",
		}, []string{"result"}),
		rowsProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_processed_total",
			Help:      "Rows folded into import jobs by batch processing.",
		}, []string{"kind"}),
		eventsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_created_total",
			Help:      "Events written from imported rows.",
		}),
		locksCleared: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_locks_cleared_total",
			Help:      "Stage transition locks released by the maintenance job.",
		}),
	}
})

// ObserveTask records one handler invocation.
func ObserveTask(task, result string, elapsed time.Duration) {
	m := singleton()
	m.tasksTotal.WithLabelValues(task, result).Inc()
	m.taskDuration.WithLabelValues(task, result).Observe(elapsed.Seconds())
}

// ObserveFetch records one fetch attempt and the bytes it returned.
func ObserveFetch(result string, bytes int64) {
	m := singleton()
	m.fetchAttempts.WithLabelValues(result).Inc()
	if bytes > 0 {
		m.fetchBytes.Add(float64(bytes))
	}
}

// AddRows counts processed rows by kind (unique, duplicate, error).
func AddRows(kind string, n int) {
	if n > 0 {
		singleton().rowsProcessed.WithLabelValues(kind).Add(float64(n))
	}
}

// AddEvents counts created events.
func AddEvents(n int) {
	if n > 0 {
		singleton().eventsCreated.Add(float64(n))
	}
}

// AddLocksCleared counts stage locks released by cleanup.
func AddLocksCleared(n int) {
	if n > 0 {
		singleton().locksCleared.Add(float64(n))
	}
}
