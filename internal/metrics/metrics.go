// Package metrics exposes Prometheus instrumentation for offload and
// resolve activity. All record methods are safe on a nil receiver so callers
// never need to check whether metrics are enabled.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the proxy's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	offloads      *prometheus.CounterVec
	resolves      prometheus.Counter
	bytesOffload  prometheus.Counter
	bytesResolved prometheus.Counter
	storeOps      *prometheus.HistogramVec
	storeErrors   *prometheus.CounterVec
}

// New creates a Metrics instance with its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	return &Metrics{
		registry: reg,
		offloads: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "stashproxy_offloads_total",
				Help: "Total number of payload offload decisions by reason",
			},
			[]string{"reason"}, // "size_exceeded", "below_threshold"
		),
		resolves: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "stashproxy_resolves_total",
				Help: "Total number of references resolved back into payloads",
			},
		),
		bytesOffload: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "stashproxy_offloaded_bytes_total",
				Help: "Total payload bytes moved to the content store",
			},
		),
		bytesResolved: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "stashproxy_resolved_bytes_total",
				Help: "Total payload bytes fetched back from the content store",
			},
		),
		storeOps: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stashproxy_store_operation_seconds",
				Help:    "Content store operation latency by operation",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op"}, // "put", "get"
		),
		storeErrors: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "stashproxy_store_errors_total",
				Help: "Total content store failures by operation and kind",
			},
			[]string{"op", "kind"}, // kind: "not_found", "unavailable", "too_large", "malformed"
		),
	}
}

// RecordOffload records an offload decision.
func (m *Metrics) RecordOffload(reason string, bytes int) {
	if m == nil {
		return
	}
	m.offloads.WithLabelValues(reason).Inc()
	if bytes > 0 {
		m.bytesOffload.Add(float64(bytes))
	}
}

// RecordResolve records a resolved reference.
func (m *Metrics) RecordResolve(bytes int) {
	if m == nil {
		return
	}
	m.resolves.Inc()
	m.bytesResolved.Add(float64(bytes))
}

// ObserveStoreOp records a store operation's latency.
func (m *Metrics) ObserveStoreOp(op string, d time.Duration) {
	if m == nil {
		return
	}
	m.storeOps.WithLabelValues(op).Observe(d.Seconds())
}

// RecordStoreError records a store failure.
func (m *Metrics) RecordStoreError(op, kind string) {
	if m == nil {
		return
	}
	m.storeErrors.WithLabelValues(op, kind).Inc()
}

// Handler returns the scrape handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
