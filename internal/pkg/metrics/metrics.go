// Package metrics holds the Prometheus collectors for the service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"handler", "method", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"handler", "method"},
	)

	StatusTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_status_transitions_total",
			Help: "Committed order status transitions",
		},
		[]string{"from", "to"},
	)

	RefundsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "order_refunds_total",
			Help: "Committed refund operations",
		},
	)

	RebuildsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_rebuilds_total",
			Help: "Reconciliation runs",
		},
	)

	BroadcastsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_broadcasts_total",
			Help: "Ledger snapshots pushed to the broadcast hub",
		},
	)

	DroppedSubscribersTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_dropped_subscribers_total",
			Help: "Subscribers removed for falling behind",
		},
	)

	ledgerTotalRevenue = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ledger_total_revenue",
			Help: "Current ledger total revenue",
		},
	)

	ledgerTotalOrders = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ledger_total_orders",
			Help: "Current ledger order count",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		StatusTransitionsTotal,
		RefundsTotal,
		RebuildsTotal,
		BroadcastsTotal,
		DroppedSubscribersTotal,
		ledgerTotalRevenue,
		ledgerTotalOrders,
	)
}

// ObserveLedger mirrors the committed ledger values into gauges.
func ObserveLedger(totalRevenue float64, totalOrders int64) {
	ledgerTotalRevenue.Set(totalRevenue)
	ledgerTotalOrders.Set(float64(totalOrders))
}

// Handler exposes the Prometheus exposition endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument wraps a handler with request count and duration collection.
// Long-lived streaming handlers should not be wrapped: they would skew the
// duration histogram.
func Instrument(name string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next(ww, r)

		httpRequestsTotal.WithLabelValues(name, r.Method, strconv.Itoa(ww.Status())).Inc()
		httpRequestDuration.WithLabelValues(name, r.Method).Observe(time.Since(start).Seconds())
	}
}
