// Package metrics provides Prometheus instrumentation for the risk engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// IngestRunsTotal counts ingestion cycles by chain and outcome.
	IngestRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lendscan_ingest_runs_total",
		Help: "Total ingestion/analysis cycles",
	}, []string{"chain", "status"})

	// IngestDuration tracks full-cycle duration (fetch + parse + analyze + persist).
	IngestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lendscan_ingest_duration_seconds",
		Help:    "Ingestion cycle duration in seconds",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"chain"})

	// SubgraphRequestsTotal counts subgraph HTTP requests by outcome.
	SubgraphRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lendscan_subgraph_requests_total",
		Help: "Total subgraph GraphQL requests",
	}, []string{"status"})

	// SubgraphRequestDuration tracks subgraph request latency.
	SubgraphRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lendscan_subgraph_request_duration_seconds",
		Help:    "Subgraph request duration in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// UsersTracked is the size of the valid population per chain.
	UsersTracked = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "lendscan_users_tracked",
		Help: "Users in the last analyzed population",
	}, []string{"chain"})

	// UsersAtRisk is the count of users with 1.0 < HF < 1.5 per chain.
	UsersAtRisk = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "lendscan_users_at_risk",
		Help: "Users at risk (health factor between 1.0 and 1.5)",
	}, []string{"chain"})

	// TotalDebtUSD is the aggregate debt of the valid population per chain.
	TotalDebtUSD = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "lendscan_total_debt_usd",
		Help: "Aggregate debt of the valid population in USD",
	}, []string{"chain"})

	// ReserveSnapshotsIngested counts stored hourly reserve snapshots.
	ReserveSnapshotsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lendscan_reserve_snapshots_ingested_total",
		Help: "Hourly reserve snapshots written to the store",
	}, []string{"chain"})

	// EventsIngested counts stored protocol events by chain and type.
	EventsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lendscan_events_ingested_total",
		Help: "Protocol events written to the store",
	}, []string{"chain", "type"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lendscan_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lendscan_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lendscan_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
