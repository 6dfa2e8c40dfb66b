// Package metrics exposes Prometheus instrumentation for the RPC engine:
// call counts, latency, retries, timeouts, crashes, and in-flight calls.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the collectors registered for one process. Construct one
// with New and set it as the Metrics field of lifecycle.SpawnOptions,
// parent.Config or worker.Options; a nil *Metrics
// is valid and every method on it becomes a no-op, so instrumentation is
// opt-in.
type Metrics struct {
	callsTotal    *prometheus.CounterVec
	callDuration  *prometheus.HistogramVec
	retriesTotal  *prometheus.CounterVec
	timeoutsTotal *prometheus.CounterVec
	crashesTotal  prometheus.Counter
	inFlight      prometheus.Gauge
}

// New creates and registers the collector set against reg. Pass
// prometheus.NewRegistry() for an isolated registry (tests) or
// prometheus.DefaultRegisterer to expose on the process-wide /metrics
// endpoint.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		callsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "workerproc_calls_total",
			Help: "Total method calls by method name and outcome.",
		}, []string{"method", "outcome"}),
		callDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "workerproc_call_duration_seconds",
			Help:    "Call latency by method name, from invocation to settlement.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		retriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "workerproc_retries_total",
			Help: "Retry attempts by method name.",
		}, []string{"method"}),
		timeoutsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "workerproc_timeouts_total",
			Help: "Calls that exhausted their retry budget by method name.",
		}, []string{"method"}),
		crashesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "workerproc_worker_crashes_total",
			Help: "Worker process crashes observed by the parent.",
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "workerproc_calls_in_flight",
			Help: "Pending calls awaiting settlement.",
		}),
	}
	reg.MustRegister(m.callsTotal, m.callDuration, m.retriesTotal, m.timeoutsTotal, m.crashesTotal, m.inFlight)
	return m
}

// Handler returns an http.Handler serving the registry's metrics in the
// Prometheus exposition format, for wiring into a debug/admin mux.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

func (m *Metrics) CallStarted() {
	if m == nil {
		return
	}
	m.inFlight.Inc()
}

func (m *Metrics) CallSettled(method, outcome string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.inFlight.Dec()
	m.callsTotal.WithLabelValues(method, outcome).Inc()
	m.callDuration.WithLabelValues(method).Observe(durationSeconds)
}

func (m *Metrics) RetryAttempted(method string) {
	if m == nil {
		return
	}
	m.retriesTotal.WithLabelValues(method).Inc()
}

func (m *Metrics) TimedOut(method string) {
	if m == nil {
		return
	}
	m.timeoutsTotal.WithLabelValues(method).Inc()
}

func (m *Metrics) WorkerCrashed() {
	if m == nil {
		return
	}
	m.crashesTotal.Inc()
}
