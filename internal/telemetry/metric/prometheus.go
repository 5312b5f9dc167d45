package metric

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "meshstore"

// Registry holds all application metrics.
type Registry struct {
	registry *prometheus.Registry

	// Engine operations, labelled by result (ok, not_found, error).
	Puts    *prometheus.CounterVec
	Gets    *prometheus.CounterVec
	Deletes *prometheus.CounterVec

	OpDuration   *prometheus.HistogramVec
	PayloadBytes *prometheus.HistogramVec

	Rotations           prometheus.Counter
	Compactions         *prometheus.CounterVec
	CompactionDuration  prometheus.Histogram
	CompactionRelocated prometheus.Counter
	CompactionReclaimed prometheus.Counter
	TombstonesCarried   prometheus.Counter

	// Admin HTTP requests.
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// NewRegistry creates a registry with Go runtime and process collectors
// and every meshstore metric registered.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	r := &Registry{
		registry: reg,
		Puts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "puts_total",
			Help:      "Put operations by result.",
		}, []string{"result"}),
		Gets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gets_total",
			Help:      "Get operations by result.",
		}, []string{"result"}),
		Deletes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deletes_total",
			Help:      "Delete operations by result.",
		}, []string{"result"}),
		OpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Engine operation latency.",
			Buckets:   []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		}, []string{"op"}),
		PayloadBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "payload_bytes",
			Help:      "Payload sizes of successful puts and gets.",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 10),
		}, []string{"op"}),
		Rotations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segment_rotations_total",
			Help:      "Active segments sealed and replaced.",
		}),
		Compactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compactions_total",
			Help:      "Compaction runs by result.",
		}, []string{"result"}),
		CompactionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "compaction_duration_seconds",
			Help:      "Compaction run latency.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		CompactionRelocated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compaction_relocated_records_total",
			Help:      "Live records rewritten by compaction.",
		}),
		CompactionReclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compaction_reclaimed_bytes_total",
			Help:      "Segment file bytes released by compaction.",
		}),
		TombstonesCarried: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compaction_tombstones_carried_total",
			Help:      "Tombstones rewritten by compaction.",
		}),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Admin HTTP requests.",
		}, []string{"method", "path", "status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Admin HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}

	reg.MustRegister(
		r.Puts, r.Gets, r.Deletes,
		r.OpDuration, r.PayloadBytes,
		r.Rotations, r.Compactions, r.CompactionDuration,
		r.CompactionRelocated, r.CompactionReclaimed, r.TombstonesCarried,
		r.RequestsTotal, r.RequestDuration,
	)
	return r
}

// Register adds an extra collector, such as a StatsCollector.
func (r *Registry) Register(c prometheus.Collector) error {
	return r.registry.Register(c)
}

// Gatherer returns the underlying gatherer.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

// Handler returns the /metrics handler for this registry.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// RecordRequest counts one admin HTTP request.
func (r *Registry) RecordRequest(method, path, status string) {
	r.RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// ObserveRequestDuration records admin HTTP latency in seconds.
func (r *Registry) ObserveRequestDuration(method, path string, seconds float64) {
	r.RequestDuration.WithLabelValues(method, path).Observe(seconds)
}

var (
	globalOnce sync.Once
	global     *Registry
)

// Global returns the process-wide registry.
func Global() *Registry {
	globalOnce.Do(func() { global = NewRegistry() })
	return global
}

// Handler returns the /metrics handler of the global registry.
func Handler() http.Handler {
	return Global().Handler()
}
