package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const unmatched = "unmatched"

func newMetricsHandler(handler http.Handler) *metricsHandler {
	registry := prometheus.NewRegistry()

	h := metricsHandler{
		handler:  handler,
		registry: registry,

		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "external_task_http_requests_total",
				Help: "Total number of HTTP requests.",
			},
			[]string{"method", "path", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "external_task_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds, including long polling.",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"method", "path"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		h.requests,
		h.requestDuration,
	)

	return &h
}

// metricsHandler records count and duration of every HTTP request, labeled by the matched route pattern.
type metricsHandler struct {
	handler  http.Handler
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

func (h *metricsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	sw := &statusResponseWriter{ResponseWriter: w}

	h.handler.ServeHTTP(sw, r)

	status := sw.status
	if status == 0 {
		status = http.StatusOK
	}

	path := r.Pattern // set by the ServeMux
	if path == "" || path == "/" {
		path = unmatched
	}

	h.requests.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
	h.requestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
}

func (h *metricsHandler) serveMetrics() http.Handler {
	return promhttp.HandlerFor(h.registry, promhttp.HandlerOpts{})
}

type statusResponseWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusResponseWriter) WriteHeader(status int) {
	if w.status == 0 {
		w.status = status
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusResponseWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}
