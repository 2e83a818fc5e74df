// Package metrics exposes Prometheus counters for the settlement flows.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"agrimart/middleware"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	paymentsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_processed_total",
			Help: "Gateway payment reports by outcome",
		},
		[]string{"outcome"},
	)

	payoutsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payouts_processed_total",
			Help: "Payout executions and reconciliations by resulting status",
		},
		[]string{"status"},
	)

	escrowTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_transitions_total",
			Help: "Escrow rows entering each status",
		},
		[]string{"status"},
	)

	shipmentPingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shipment_pings_total",
			Help: "Ingested shipment location pings by validity",
		},
		[]string{"validity"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		paymentsProcessedTotal,
		payoutsProcessedTotal,
		escrowTransitionsTotal,
		shipmentPingsTotal,
	)
}

// Instrument records request count and latency under the route pattern,
// which keeps path parameters out of the label set.
func Instrument(method, pattern string) middleware.Middleware {
	return func(next httprouter.Handle) httprouter.Handle {
		return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
			start := time.Now()
			rec := &middleware.StatusRecorder{ResponseWriter: w, Status: http.StatusOK}
			next(rec, r, ps)
			httpRequestsTotal.WithLabelValues(method, pattern, strconv.Itoa(rec.Status)).Inc()
			httpRequestDuration.WithLabelValues(method, pattern).Observe(time.Since(start).Seconds())
		}
	}
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func RecordPayment(outcome string) {
	paymentsProcessedTotal.WithLabelValues(outcome).Inc()
}

func RecordPayout(status string) {
	payoutsProcessedTotal.WithLabelValues(status).Inc()
}

func RecordEscrow(status string) {
	escrowTransitionsTotal.WithLabelValues(status).Inc()
}

func RecordPing(valid bool) {
	if valid {
		shipmentPingsTotal.WithLabelValues("valid").Inc()
		return
	}
	shipmentPingsTotal.WithLabelValues("invalid").Inc()
}
