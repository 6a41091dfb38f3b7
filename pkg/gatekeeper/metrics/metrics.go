package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the authorization counters. It satisfies both
// gate.DenialRecorder and directory.DiscardRecorder.
type Metrics struct {
	registry *prometheus.Registry

	PermissionDenialsTotal *prometheus.CounterVec
	DiscardedRowsTotal     prometheus.Counter
	HTTPRequestsTotal      *prometheus.CounterVec
}

// New creates and registers all metrics on a fresh registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		PermissionDenialsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_permission_denials_total",
				Help: "Total number of requests refused for a missing capability",
			},
			[]string{"capability"},
		),
		DiscardedRowsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gatekeeper_snapshot_discarded_rows_total",
				Help: "Total number of membership rows excluded from directory snapshots",
			},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
	}

	m.registry.MustRegister(
		m.PermissionDenialsTotal,
		m.DiscardedRowsTotal,
		m.HTTPRequestsTotal,
	)
	return m
}

// Registry returns the registry the metrics are registered on
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordDenial counts a refused capability check
func (m *Metrics) RecordDenial(capability string) {
	m.PermissionDenialsTotal.WithLabelValues(capability).Inc()
}

// RecordDiscarded counts membership rows dropped while building an index
func (m *Metrics) RecordDiscarded(n int) {
	if n > 0 {
		m.DiscardedRowsTotal.Add(float64(n))
	}
}

// Middleware counts requests by matched route so path parameters do not
// explode label cardinality
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.HTTPRequestsTotal.WithLabelValues(c.Request.Method, route, statusClass(c.Writer.Status())).Inc()
	}
}

// Handler serves the registry in the prometheus exposition format
func (m *Metrics) Handler() gin.HandlerFunc {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return gin.WrapH(h)
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	}
	return "2xx"
}
