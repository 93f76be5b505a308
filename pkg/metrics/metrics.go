// Package metrics exposes the swarm's Prometheus metrics, grounded on
// berniemackie97-memebot-go/internal/metrics/metrics.go's package-level
// collector-vars-plus-Serve shape.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// PublishLatencySeconds is SignalBus's publish-to-dispatch latency,
	// the histogram P4's percentile assertions are exercised against
	// operationally.
	PublishLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "signal_publish_latency_seconds",
			Help:    "Latency from Bus.Publish to a subscriber callback returning",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	ReservationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "reservations_total", Help: "Budget reservation outcomes"},
		[]string{"strategy", "outcome"}, // outcome ∈ {approved, denied}
	)

	RiskDenialsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "risk_denials_total", Help: "Entries denied by RiskController.Evaluate"},
		[]string{"reason"},
	)

	CircuitBreakerTripsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "circuit_breaker_trips_total", Help: "Circuit breaker trips by reason"},
		[]string{"reason"}, // reason ∈ {daily_loss, rapid_loss, coordination_fault}
	)

	AgentRestartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "agent_restarts_total", Help: "Agent restarts issued by the supervisor"},
		[]string{"agent"},
	)

	AgentsQuarantinedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "agents_quarantined_total", Help: "Agents quarantined after exceeding the restart budget"},
		[]string{"agent"},
	)
)

func init() {
	prometheus.MustRegister(
		PublishLatencySeconds,
		ReservationsTotal,
		RiskDenialsTotal,
		CircuitBreakerTripsTotal,
		AgentRestartsTotal,
		AgentsQuarantinedTotal,
	)
}

// Serve starts a background HTTP server exposing /metrics on addr.
// Callers own its lifetime via the returned server's Shutdown.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}

// Shutdown gracefully stops srv, used by cmd/swarmd on exit.
func Shutdown(ctx context.Context, srv *http.Server) error {
	return srv.Shutdown(ctx)
}
