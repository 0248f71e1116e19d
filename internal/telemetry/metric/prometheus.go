package metric

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sessionkeep"

// Registry holds all application metrics.
type Registry struct {
	registry *prometheus.Registry

	// Session metrics
	SessionTransitions *prometheus.CounterVec
	SessionStatus      *prometheus.GaugeVec
	BusyRejections     prometheus.Counter

	// Identity metrics
	IdentityRequests        *prometheus.CounterVec
	IdentityRequestDuration *prometheus.HistogramVec

	// Storage metrics
	StoreFailures *prometheus.CounterVec
	StoreDegraded prometheus.Gauge
}

var (
	globalRegistry *Registry
	globalOnce     sync.Once
)

// Global returns the process-wide registry.
func Global() *Registry {
	globalOnce.Do(func() {
		globalRegistry = NewRegistry()
	})
	return globalRegistry
}

// Handler returns an HTTP handler for the global registry.
func Handler() http.Handler {
	return Global().Handler()
}

// NewRegistry creates a new metrics registry with Go runtime and
// process collectors attached.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	r := &Registry{
		registry: reg,

		SessionTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "transitions_total",
			Help:      "Session status transitions",
		}, []string{"from", "to"}),

		SessionStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "status",
			Help:      "1 for the current session status, 0 otherwise",
		}, []string{"status"}),

		BusyRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "busy_rejections_total",
			Help:      "Session operations rejected because another was in flight",
		}),

		IdentityRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "identity",
			Name:      "requests_total",
			Help:      "Identity service requests by operation and outcome",
		}, []string{"operation", "outcome"}),

		IdentityRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "identity",
			Name:      "request_duration_seconds",
			Help:      "Identity service request latency",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"operation"}),

		StoreFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "token_store",
			Name:      "failures_total",
			Help:      "Token store operations that failed",
		}, []string{"operation"}),

		StoreDegraded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "token_store",
			Name:      "degraded",
			Help:      "1 when tokens are only held in memory",
		}),
	}

	reg.MustRegister(
		r.SessionTransitions,
		r.SessionStatus,
		r.BusyRejections,
		r.IdentityRequests,
		r.IdentityRequestDuration,
		r.StoreFailures,
		r.StoreDegraded,
	)

	return r
}

// Handler returns an HTTP handler serving this registry.
func (r *Registry) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Registerer exposes the underlying registry for components that bring
// their own collectors (the badger engine).
func (r *Registry) Registerer() prometheus.Registerer {
	if r == nil {
		return nil
	}
	return r.registry
}

// Gatherer exposes the underlying registry for tests.
func (r *Registry) Gatherer() prometheus.Gatherer {
	if r == nil {
		return nil
	}
	return r.registry
}

// RecordTransition counts a status change and moves the status gauge.
func (r *Registry) RecordTransition(from, to string) {
	if r == nil {
		return
	}
	r.SessionTransitions.WithLabelValues(from, to).Inc()
	if from != to {
		r.SessionStatus.WithLabelValues(from).Set(0)
	}
	r.SessionStatus.WithLabelValues(to).Set(1)
}

// SetSessionStatus marks status as current without counting a transition.
func (r *Registry) SetSessionStatus(status string) {
	if r == nil {
		return
	}
	r.SessionStatus.Reset()
	r.SessionStatus.WithLabelValues(status).Set(1)
}

// IncBusyRejection counts an operation refused with SessionBusy.
func (r *Registry) IncBusyRejection() {
	if r == nil {
		return
	}
	r.BusyRejections.Inc()
}

// RecordIdentityRequest records one identity call.
func (r *Registry) RecordIdentityRequest(operation, outcome string, seconds float64) {
	if r == nil {
		return
	}
	r.IdentityRequests.WithLabelValues(operation, outcome).Inc()
	r.IdentityRequestDuration.WithLabelValues(operation).Observe(seconds)
}

// IncStoreFailure counts a failed token store operation.
func (r *Registry) IncStoreFailure(operation string) {
	if r == nil {
		return
	}
	r.StoreFailures.WithLabelValues(operation).Inc()
}

// SetStoreDegraded flags whether the token store fell back to memory.
func (r *Registry) SetStoreDegraded(degraded bool) {
	if r == nil {
		return
	}
	if degraded {
		r.StoreDegraded.Set(1)
		return
	}
	r.StoreDegraded.Set(0)
}
