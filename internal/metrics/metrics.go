// Package metrics exposes Prometheus counters and gauges for the protocol
// engine's activity, in the style of the pack's telemetry services
// (promauto-registered package-level vars, scraped over HTTP).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RoutesLearned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ripd_routes_learned_total", Help: "Total routes accepted by Bellman-Ford selection.",
	})
	RoutesHolddown = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ripd_routes_holddown_total", Help: "Total routes that entered holddown.",
	})
	RoutesRemoved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ripd_routes_removed_total", Help: "Total routes garbage collected after deletion-length.",
	})
	RoutingTableSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ripd_routing_table_size", Help: "Current number of entries in the routing table.",
	})

	PacketsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ripd_packets_received_total", Help: "Total response packets received from neighbours.",
	})
	PacketsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ripd_packets_dropped_total", Help: "Total inbound packets dropped.",
	}, []string{"reason"})
	PacketsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ripd_packets_sent_total", Help: "Total response packets sent to neighbours.",
	})
	TransientIOErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ripd_transient_io_errors_total", Help: "Total swallowed send/recv errors.",
	}, []string{"op"})

	PeriodicUpdates = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ripd_periodic_updates_total", Help: "Total periodic full-table broadcasts emitted.",
	})
	TriggeredUpdates = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ripd_triggered_updates_total", Help: "Total triggered updates emitted.",
	})

	ConvergenceChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ripd_convergence_checks_total", Help: "Total convergence self-checks run.",
	}, []string{"result"})
)

// Serve starts a background HTTP server exposing /metrics on addr. It
// returns immediately; the caller is responsible for the server's
// lifetime via the returned *http.Server (Shutdown/Close).
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		_ = srv.ListenAndServe()
	}()
	return srv
}
