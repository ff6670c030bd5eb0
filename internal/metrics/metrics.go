// Package metrics exports oracle counters and latencies in Prometheus format.
//
// Every recording method is safe on a nil *Registry so components can run
// without metrics in tests and CLI one-shots.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "oracle"

// Registry owns a private Prometheus registry and the oracle collectors.
type Registry struct {
	registry *prometheus.Registry

	suggestRequests    *prometheus.CounterVec
	suggestLatency     prometheus.Histogram
	generationAttempts prometheus.Histogram
	droppedSuggestions prometheus.Counter

	embedRequests *prometheus.CounterVec

	loggingFailures *prometheus.CounterVec
	jobs            *prometheus.CounterVec

	learningRuns *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec
}

// New creates a Registry with Go runtime and process collectors attached.
func New() *Registry {
	r := &Registry{registry: prometheus.NewRegistry()}
	latency := []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60}

	r.suggestRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "suggest",
		Name:      "requests_total",
		Help:      "Suggestion requests by outcome",
	}, []string{"outcome"})

	r.suggestLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "suggest",
		Name:      "latency_seconds",
		Help:      "End-to-end suggestion latency in seconds",
		Buckets:   latency,
	})

	r.generationAttempts = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "suggest",
		Name:      "generation_attempts",
		Help:      "Model calls needed per suggestion request",
		Buckets:   []float64{1, 2, 3, 4, 5},
	})

	r.droppedSuggestions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "suggest",
		Name:      "dropped_suggestions_total",
		Help:      "Suggestions removed by validation (bad kind or out-of-range citation)",
	})

	r.embedRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "embedding",
		Name:      "requests_total",
		Help:      "Embedding calls by outcome",
	}, []string{"outcome"})

	r.loggingFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "interaction",
		Name:      "logging_failures_total",
		Help:      "Best-effort side effects that failed, by stage",
	}, []string{"stage"})

	r.jobs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "worker",
		Name:      "jobs_total",
		Help:      "Background jobs processed, by type and outcome",
	}, []string{"type", "outcome"})

	r.learningRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "learning",
		Name:      "runs_total",
		Help:      "Learning loop runs by action and outcome",
	}, []string{"action", "outcome"})

	r.httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by route, method and status",
	}, []string{"route", "method", "status"})

	r.httpLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds",
		Buckets:   latency,
	}, []string{"route"})

	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.suggestRequests,
		r.suggestLatency,
		r.generationAttempts,
		r.droppedSuggestions,
		r.embedRequests,
		r.loggingFailures,
		r.jobs,
		r.learningRuns,
		r.httpRequests,
		r.httpLatency,
	)
	return r
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// ObserveSuggest records one suggestion request.
func (r *Registry) ObserveSuggest(outcome string, attempts int, d time.Duration) {
	if r == nil {
		return
	}
	r.suggestRequests.WithLabelValues(outcome).Inc()
	r.suggestLatency.Observe(d.Seconds())
	if attempts > 0 {
		r.generationAttempts.Observe(float64(attempts))
	}
}

// AddDroppedSuggestions counts suggestions removed by validation.
func (r *Registry) AddDroppedSuggestions(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.droppedSuggestions.Add(float64(n))
}

// ObserveEmbed records one embedding call.
func (r *Registry) ObserveEmbed(outcome string) {
	if r == nil {
		return
	}
	r.embedRequests.WithLabelValues(outcome).Inc()
}

// LoggingFailure counts a swallowed side-effect failure.
func (r *Registry) LoggingFailure(stage string) {
	if r == nil {
		return
	}
	r.loggingFailures.WithLabelValues(stage).Inc()
}

// ObserveJob records a processed background job.
func (r *Registry) ObserveJob(jobType, outcome string) {
	if r == nil {
		return
	}
	r.jobs.WithLabelValues(jobType, outcome).Inc()
}

// ObserveLearning records one learning loop run.
func (r *Registry) ObserveLearning(action, outcome string) {
	if r == nil {
		return
	}
	r.learningRuns.WithLabelValues(action, outcome).Inc()
}

// ObserveHTTP records one served request.
func (r *Registry) ObserveHTTP(route, method string, status int, d time.Duration) {
	if r == nil {
		return
	}
	r.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	r.httpLatency.WithLabelValues(route).Observe(d.Seconds())
}
