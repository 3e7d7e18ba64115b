// Package metrics holds the Prometheus collectors of the service.  They
// are registered on the default registry and exposed by promhttp.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ReservationOps counts service operations by op and result
	// (ok, conflict, not_found, forbidden, ...).
	ReservationOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "raffle_reservation_ops_total",
		Help: "Reservation operations by operation and result",
	}, []string{"op", "result"})

	// NumbersExpired counts numbers returned to available by expiry.
	NumbersExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "raffle_numbers_expired_total",
		Help: "Numbers released because their reservation expired",
	})

	// SweepRuns counts sweeper ticks by outcome (ran, skipped, error).
	SweepRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "raffle_sweep_runs_total",
		Help: "Expiry sweeper ticks by outcome",
	}, []string{"outcome"})

	// EventsPublished counts events accepted by the bus.
	EventsPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "raffle_events_published_total",
		Help: "Number state events accepted by the event bus",
	})

	// EventsDropped counts events dropped because a queue was full.
	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "raffle_events_dropped_total",
		Help: "Events dropped by the bus or a slow websocket subscriber",
	}, []string{"where"})

	// SinkErrors counts delivery failures per sink.
	SinkErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "raffle_event_sink_errors_total",
		Help: "Event sink delivery errors",
	}, []string{"sink"})

	// WSConnections is the number of open realtime sockets.
	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "raffle_ws_connections",
		Help: "Open realtime websocket connections",
	})

	// BreakerState is 0 closed, 1 half-open, 2 open.
	BreakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "raffle_store_breaker_state",
		Help: "Datastore circuit breaker state (0 closed, 1 half-open, 2 open)",
	})

	// PaymentMessages counts payment.captured messages by outcome.
	PaymentMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "raffle_payment_messages_total",
		Help: "Payment captured messages handled by outcome",
	}, []string{"outcome"})
)
