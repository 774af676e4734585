// Package metrics provides a worker middleware, which exports worker events as Prometheus metrics.
package metrics

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/gclaussn/go-external-task/worker"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "external_task_worker"

const (
	statusError   = "error"
	statusSuccess = "success"
)

// New returns a middleware, which registers the worker metrics with the registerer and updates them on each event.
// Metrics carry the worker ID as constant label, so that multiple workers can share a registerer.
//
// If registerer is nil, [prometheus.DefaultRegisterer] is used. A collector, which cannot be registered (e.g. due to a
// conflicting metric of another library), is logged as warning and skipped. The remaining metrics are still exported.
func New(registerer prometheus.Registerer) func(*worker.Worker) {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return func(w *worker.Worker) {
		m := newMetrics(prometheus.Labels{"worker_id": w.Id()})
		if err := m.register(registerer); err != nil {
			slog.Warn("failed to register worker metrics", "workerId", w.Id(), "err", err)
		}
		w.AddListener(m.observe)
	}
}

type metrics struct {
	subscriptions          prometheus.Gauge
	polls                  *prometheus.CounterVec
	pollDuration           prometheus.Histogram
	fetchedTasks           *prometheus.CounterVec
	taskOperations         *prometheus.CounterVec
	taskOperationDurations *prometheus.HistogramVec
	handlerErrors          *prometheus.CounterVec
}

func newMetrics(constLabels prometheus.Labels) *metrics {
	return &metrics{
		subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "subscriptions",
			Help:        "Number of active subscriptions.",
			ConstLabels: constLabels,
		}),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "polls_total",
			Help:        "Total number of fetch and lock requests.",
			ConstLabels: constLabels,
		}, []string{"status"}),
		pollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "poll_duration_seconds",
			Help:        "Duration of fetch and lock requests in seconds, including long polling.",
			ConstLabels: constLabels,
			Buckets:     prometheus.DefBuckets,
		}),
		fetchedTasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "fetched_tasks_total",
			Help:        "Total number of fetched and locked external tasks.",
			ConstLabels: constLabels,
		}, []string{"topic"}),
		taskOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "task_operations_total",
			Help:        "Total number of task operations like complete or handleFailure.",
			ConstLabels: constLabels,
		}, []string{"topic", "operation", "status"}),
		taskOperationDurations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "task_operation_duration_seconds",
			Help:        "Duration of task operations in seconds.",
			ConstLabels: constLabels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"operation"}),
		handlerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "handler_errors_total",
			Help:        "Total number of errors, returned by handlers.",
			ConstLabels: constLabels,
		}, []string{"topic"}),
	}
}

// register registers the collectors. When a worker with the same ID has been instrumented before, the existing
// collectors are used instead.
func (m *metrics) register(registerer prometheus.Registerer) error {
	var errs []error

	m.subscriptions = register(registerer, m.subscriptions, &errs)
	m.polls = register(registerer, m.polls, &errs)
	m.pollDuration = register(registerer, m.pollDuration, &errs)
	m.fetchedTasks = register(registerer, m.fetchedTasks, &errs)
	m.taskOperations = register(registerer, m.taskOperations, &errs)
	m.taskOperationDurations = register(registerer, m.taskOperationDurations, &errs)
	m.handlerErrors = register(registerer, m.handlerErrors, &errs)

	return errors.Join(errs...)
}

// register returns the registered or an already registered collector. If the registration fails otherwise, the
// error is collected and the unregistered collector is returned, so that observing events still works.
func register[T prometheus.Collector](registerer prometheus.Registerer, collector T, errs *[]error) T {
	err := registerer.Register(collector)
	if err == nil {
		return collector
	}

	var alreadyRegisteredErr prometheus.AlreadyRegisteredError
	if errors.As(err, &alreadyRegisteredErr) {
		if existing, ok := alreadyRegisteredErr.ExistingCollector.(T); ok {
			return existing
		}
	}

	*errs = append(*errs, err)
	return collector
}

func (m *metrics) observe(event worker.Event) {
	switch event.Type {
	case worker.EventSubscribe:
		m.subscriptions.Inc()
	case worker.EventUnsubscribe:
		m.subscriptions.Dec()
	case worker.EventPollSuccess:
		m.polls.WithLabelValues(statusSuccess).Inc()
		m.pollDuration.Observe(event.Duration.Seconds())
		for _, task := range event.Tasks {
			m.fetchedTasks.WithLabelValues(task.TopicName).Inc()
		}
	case worker.EventPollError:
		m.polls.WithLabelValues(statusError).Inc()
		m.pollDuration.Observe(event.Duration.Seconds())
	case worker.EventHandlerError:
		m.handlerErrors.WithLabelValues(event.Topic).Inc()
	case worker.EventPollStart, worker.EventPollStop:
	default:
		operation, status, ok := strings.Cut(string(event.Type), ":")
		if !ok {
			return
		}
		m.taskOperations.WithLabelValues(event.Topic, operation, status).Inc()
		m.taskOperationDurations.WithLabelValues(operation).Observe(event.Duration.Seconds())
	}
}
