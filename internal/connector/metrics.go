package connector

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the client-side counters of one connector.
type Metrics struct {
	Requests        *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	Refreshes       *prometheus.CounterVec
	Invalidations   *prometheus.CounterVec
	TableRows       *prometheus.GaugeVec
}

// NewMetrics registers the connector metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		Requests: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "aoserv_client_requests_total",
				Help: "Requests sent to the master",
			},
			[]string{"command", "status"},
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "aoserv_client_request_duration_seconds",
				Help:    "Round trip time of requests to the master",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"command"},
		),
		Refreshes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "aoserv_client_table_refreshes_total",
				Help: "Complete table fetches published",
			},
			[]string{"table"},
		),
		Invalidations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "aoserv_client_invalidations_total",
				Help: "Table invalidations applied",
			},
			[]string{"table"},
		),
		TableRows: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "aoserv_client_table_rows",
				Help: "Rows in the published snapshot of each table",
			},
			[]string{"table"},
		),
	}
}
