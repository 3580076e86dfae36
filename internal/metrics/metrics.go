// Package metrics holds the Prometheus collectors for the settlement core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "settlement"

var (
	TradesCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trades",
			Name:      "created_total",
			Help:      "Trades created, by type and whether an admin was assigned",
		},
		[]string{"type", "assigned"},
	)

	TradeTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trades",
			Name:      "transitions_total",
			Help:      "Committed trade status transitions, by target status",
		},
		[]string{"status"},
	)

	SettlementFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "failures_total",
			Help:      "Settlement attempts that rolled back, by reason",
		},
		[]string{"reason"},
	)

	ProviderCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "calls_total",
			Help:      "Outbound provider calls, by provider, operation and outcome",
		},
		[]string{"provider", "operation", "outcome"},
	)

	FundsOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "funds",
			Name:      "operations_total",
			Help:      "Deposits and withdrawals, by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	DisputesRaised = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "disputes",
			Name:      "raised_total",
			Help:      "Disputes opened",
		},
	)

	ChatMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "messages_total",
			Help:      "Chat messages stored, by sender type",
		},
		[]string{"sender_type"},
	)

	EventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "dropped_total",
			Help:      "Trade events dropped because the bus buffer was full",
		},
	)

	SinkErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "sink_errors_total",
			Help:      "Event sink delivery failures, by sink",
		},
		[]string{"sink"},
	)

	WebSocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "clients",
			Help:      "Connected WebSocket clients",
		},
	)

	ReconcileMismatches = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "reconcile_mismatches_total",
			Help:      "Balances whose stored amount disagreed with their ledger entries",
		},
	)
)
