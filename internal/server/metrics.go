package server

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	reservationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "driftserv_reservations_total",
			Help: "Reserve/release operations by outcome",
		},
		[]string{"op", "outcome"}, // op: reserve|release, outcome: ok|rejected|error
	)

	syncedTransactionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "driftserv_synced_transactions_total",
			Help: "Offline transactions reported by devices",
		},
		[]string{"result"}, // recorded|duplicate|error
	)

	wsConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "driftserv_ws_connections",
			Help: "Currently connected sync sockets",
		},
	)
)

var metricsHandler = promhttp.Handler

var metricsOnce sync.Once

// registerMetrics is idempotent so tests can build multiple servers in one
// process.
func registerMetrics() {
	metricsOnce.Do(func() {
		prometheus.MustRegister(reservationsTotal)
		prometheus.MustRegister(syncedTransactionsTotal)
		prometheus.MustRegister(wsConnections)
	})
}
