// Package telemetry exposes Prometheus metrics for the HTTP surface, slot
// generation and calendar sync.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	SyncRunsTotal      *prometheus.CounterVec
	SyncOperations     *prometheus.CounterVec
	SyncDuration       *prometheus.HistogramVec
	SlotsGenerated     *prometheus.CounterVec
	AuditBufferDropped prometheus.Counter
}

// NewCollector registers every metric on a private registry so collectors
// can be created per test without clashing.
func NewCollector(namespace string) *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Collector{
		registry: reg,

		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "status"}),

		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"method", "route"}),

		SyncRunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "calendar_sync",
			Name:      "runs_total",
			Help:      "Sync and export runs by mode and result.",
		}, []string{"mode", "result"}),

		SyncOperations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "calendar_sync",
			Name:      "remote_operations_total",
			Help:      "Remote calendar calls by operation and outcome.",
		}, []string{"op", "outcome"}),

		SyncDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "calendar_sync",
			Name:      "duration_seconds",
			Help:      "Wall time of a sync or export run.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"mode"}),

		SlotsGenerated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduling",
			Name:      "generated_slots_total",
			Help:      "Generated slot candidates by outcome (created, skipped).",
		}, []string{"outcome"}),

		AuditBufferDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "buffer_dropped_total",
			Help:      "Audit entries dropped because the buffer was full or closed.",
		}),
	}
}

func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Middleware records request counts and latency keyed by the matched route.
func (c *Collector) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ec echo.Context) error {
			start := time.Now()
			err := next(ec)

			status := ec.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			route := ec.Path()
			if route == "" {
				route = "unmatched"
			}
			c.RequestsTotal.WithLabelValues(ec.Request().Method, route, strconv.Itoa(status)).Inc()
			c.RequestDuration.WithLabelValues(ec.Request().Method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// ObserveSyncRun implements the sync engine's metrics hook.
func (c *Collector) ObserveSyncRun(mode, result string, d time.Duration) {
	c.SyncRunsTotal.WithLabelValues(mode, result).Inc()
	c.SyncDuration.WithLabelValues(mode).Observe(d.Seconds())
}

// ObserveRemoteOp implements the sync engine's per-call metrics hook.
func (c *Collector) ObserveRemoteOp(op string, ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	c.SyncOperations.WithLabelValues(op, outcome).Inc()
}

// ObserveGeneration implements the slot generator's metrics hook.
func (c *Collector) ObserveGeneration(created, skipped int) {
	c.SlotsGenerated.WithLabelValues("created").Add(float64(created))
	c.SlotsGenerated.WithLabelValues("skipped").Add(float64(skipped))
}
