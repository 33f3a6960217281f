// Package metrics provides a Prometheus implementation of
// xfer.MetricsCollector.
//
//	reg := prometheus.NewRegistry()
//	s, err := xfer.Dial(ctx, cfg, xfer.WithMetrics(metrics.NewCollector(reg)))
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector records session activity as Prometheus metrics. It satisfies
// xfer.MetricsCollector.
type Collector struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	transferBytes     *prometheus.CounterVec
	transfersTotal    *prometheus.CounterVec
	transferDuration  *prometheus.HistogramVec
	connectionsTotal  *prometheus.CounterVec
}

// NewCollector registers the xfer metrics with reg and returns a collector
// feeding them. A nil reg means prometheus.DefaultRegisterer. Registering
// twice with the same registry panics, as with any promauto metric.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Collector{
		operationsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "xfer_operations_total",
				Help: "Total number of dispatched session operations",
			},
			[]string{"op", "success"},
		),
		operationDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "xfer_operation_duration_seconds",
				Help:    "Session operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op"},
		),
		transferBytes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "xfer_transfer_bytes_total",
				Help: "Total bytes transferred",
			},
			[]string{"direction"},
		),
		transfersTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "xfer_transfers_total",
				Help: "Total number of completed file transfers",
			},
			[]string{"direction"},
		),
		transferDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "xfer_transfer_duration_seconds",
				Help:    "File transfer duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
			},
			[]string{"direction"},
		),
		connectionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "xfer_connections_total",
				Help: "Total number of connection attempts",
			},
			[]string{"kind", "success"},
		),
	}
}

// RecordOperation records one dispatched operation.
func (c *Collector) RecordOperation(op string, success bool, duration time.Duration) {
	c.operationsTotal.WithLabelValues(op, strconv.FormatBool(success)).Inc()
	c.operationDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordTransfer records one transferred file.
func (c *Collector) RecordTransfer(direction string, bytes int64, duration time.Duration) {
	c.transfersTotal.WithLabelValues(direction).Inc()
	c.transferBytes.WithLabelValues(direction).Add(float64(bytes))
	c.transferDuration.WithLabelValues(direction).Observe(duration.Seconds())
}

// RecordConnection records a connection attempt.
func (c *Collector) RecordConnection(kind string, success bool) {
	c.connectionsTotal.WithLabelValues(kind, strconv.FormatBool(success)).Inc()
}
