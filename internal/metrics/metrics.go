// Package metrics exposes Prometheus collectors for the record service. A nil
// *Recorder is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "recordsvc"

// Recorder owns a registry and the service collectors.
type Recorder struct {
	registry     *prometheus.Registry
	cacheOps     *prometheus.CounterVec
	indexOps     *prometheus.CounterVec
	tasks        *prometheus.CounterVec
	enqueues     *prometheus.CounterVec
	removals     *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New creates a Recorder on a fresh registry, including Go runtime and
// process collectors.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		cacheOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_operations_total",
			Help:      "Cache operations by op and result.",
		}, []string{"op", "result"}),
		indexOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_operations_total",
			Help:      "Search index calls by op and result.",
		}, []string{"op", "result"}),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_tasks_total",
			Help:      "Processed index tasks by op and result (ok, retried, dropped).",
		}, []string{"op", "result"}),
		enqueues: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_task_enqueues_total",
			Help:      "Index task enqueue attempts by op and result.",
		}, []string{"op", "result"}),
		removals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_sync_removals_total",
			Help:      "Synchronous index removals on delete by result.",
		}, []string{"result"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route, method and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),
	}

	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.cacheOps,
		r.indexOps,
		r.tasks,
		r.enqueues,
		r.removals,
		r.httpDuration,
	)
	return r
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

func (r *Recorder) ObserveCache(op, result string) {
	if r == nil {
		return
	}
	r.cacheOps.WithLabelValues(op, result).Inc()
}

func (r *Recorder) ObserveIndex(op, result string) {
	if r == nil {
		return
	}
	r.indexOps.WithLabelValues(op, result).Inc()
}

func (r *Recorder) ObserveTask(op, result string) {
	if r == nil {
		return
	}
	r.tasks.WithLabelValues(op, result).Inc()
}

func (r *Recorder) ObserveEnqueue(op, result string) {
	if r == nil {
		return
	}
	r.enqueues.WithLabelValues(op, result).Inc()
}

func (r *Recorder) ObserveIndexRemoval(result string) {
	if r == nil {
		return
	}
	r.removals.WithLabelValues(result).Inc()
}

// Middleware records request latency labelled by the chi route pattern.
func (r *Recorder) Middleware(next http.Handler) http.Handler {
	if r == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)

		next.ServeHTTP(ww, req)

		route := "unmatched"
		if rctx := chi.RouteContext(req.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		r.httpDuration.
			WithLabelValues(route, req.Method, strconv.Itoa(status)).
			Observe(time.Since(start).Seconds())
	})
}
