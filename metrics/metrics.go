package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal counts connections ever accepted.
	ConnectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pgxray_connections_total",
			Help: "Total number of client connections accepted",
		},
	)

	// ConnectionsOpen is the current number of live sessions.
	ConnectionsOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pgxray_connections_open",
			Help: "Current number of open client connections",
		},
	)

	// QueryTotal counts completed queries.
	QueryTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pgxray_query_total",
			Help: "Total number of queries completed",
		},
	)

	// QueryErrorTotal counts queries that ended in a server error.
	QueryErrorTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pgxray_query_error_total",
			Help: "Total number of queries that ended in an error",
		},
	)

	// QueryLatency tracks per-query latency, mirroring the aggregator's
	// own fixed-edge histogram.
	QueryLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pgxray_query_latency_seconds",
			Help:    "Query latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.1},
		},
	)

	// DroppedEventsTotal counts observations dropped because the
	// telemetry bus was full.
	DroppedEventsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pgxray_dropped_events_total",
			Help: "Total number of observations dropped due to a full telemetry bus",
		},
	)

	once sync.Once
)

// Init registers all metrics with the default Prometheus registry.
func Init() {
	once.Do(func() {
		prometheus.MustRegister(ConnectionsTotal)
		prometheus.MustRegister(ConnectionsOpen)
		prometheus.MustRegister(QueryTotal)
		prometheus.MustRegister(QueryErrorTotal)
		prometheus.MustRegister(QueryLatency)
		prometheus.MustRegister(DroppedEventsTotal)
	})
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordConnectionOpened mirrors a ConnectionOpened observation.
func RecordConnectionOpened() {
	ConnectionsTotal.Inc()
	ConnectionsOpen.Inc()
}

// RecordConnectionClosed mirrors a ConnectionClosed observation.
func RecordConnectionClosed() {
	ConnectionsOpen.Dec()
}

// RecordQueryComplete mirrors a QueryComplete observation.
func RecordQueryComplete(latencySeconds float64) {
	QueryTotal.Inc()
	QueryLatency.Observe(latencySeconds)
}

// RecordQueryError mirrors a QueryError observation.
func RecordQueryError() {
	QueryErrorTotal.Inc()
}

// RecordDropped mirrors a bus-overflow increment.
func RecordDropped(n uint64) {
	if n == 0 {
		return
	}
	DroppedEventsTotal.Add(float64(n))
}
