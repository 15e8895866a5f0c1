// Package metrics exposes the engine's Prometheus collectors.
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

	"github.com/deployflow/engine/internal/flow"
	appErr "github.com/deployflow/engine/pkg/errors"
)

const namespace = "deployflow"

// Metrics holds every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	mutations       *prometheus.CounterVec // by event kind
	autoConnections prometheus.Counter
	rejections      *prometheus.CounterVec // by operation and error code
	openSessions    prometheus.Gauge
	deployments     *prometheus.CounterVec // by status
	deployDuration  prometheus.Histogram

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New creates a registry with the engine collectors plus the Go runtime and
// process collectors.
func New() (*Metrics, error) {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "mutations_total",
			Help:      "Applied graph mutations by event kind",
		}, []string{"kind"}),

		autoConnections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "auto_connections_total",
			Help:      "Connections created by the auto-connect rules",
		}),

		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "rejected_mutations_total",
			Help:      "Rejected graph mutations by operation and error code",
		}, []string{"operation", "code"}),

		openSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "open",
			Help:      "Editing sessions currently held in memory",
		}),

		deployments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "deployment",
			Name:      "total",
			Help:      "Deployments by terminal or initial status",
		}, []string{"status"}),

		deployDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "deployment",
			Name:      "duration_seconds",
			Help:      "Wall time of deployment runs",
			Buckets:   []float64{1, 5, 10, 30, 60, 120},
		}),

		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status",
		}, []string{"method", "route", "status"}),

		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	for _, c := range []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.mutations,
		m.autoConnections,
		m.rejections,
		m.openSessions,
		m.deployments,
		m.deployDuration,
		m.httpRequests,
		m.httpDuration,
	} {
		if err := m.registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveEvent counts one applied store mutation. Selection changes are not
// mutations of the graph and are skipped.
func (m *Metrics) ObserveEvent(e flow.Event) {
	if m == nil || e.Kind == flow.EventSelectionChanged {
		return
	}
	m.mutations.WithLabelValues(string(e.Kind)).Inc()
	if e.Kind == flow.EventNodeInserted {
		m.autoConnections.Add(float64(len(e.Connections)))
	}
}

// RecordRejection counts a failed store operation.
func (m *Metrics) RecordRejection(operation string, err error) {
	if m == nil || err == nil {
		return
	}
	m.rejections.WithLabelValues(operation, string(appErr.CodeOf(err))).Inc()
}

// SessionOpened increments the open sessions gauge.
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.openSessions.Inc()
}

// SessionClosed decrements the open sessions gauge.
func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.openSessions.Dec()
}

// RecordDeployment counts a deployment reaching status.
func (m *Metrics) RecordDeployment(status string) {
	if m == nil {
		return
	}
	m.deployments.WithLabelValues(status).Inc()
}

// ObserveDeployDuration records the wall time of a finished run.
func (m *Metrics) ObserveDeployDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.deployDuration.Observe(d.Seconds())
}

// Middleware records request counts and latency by chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
