// Package metrics exposes Prometheus instrumentation for the arena server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all server collectors. Register once in main via New.
type Metrics struct {
	SessionsActive   prometheus.Gauge
	SessionsTotal    prometheus.Counter
	SessionsRejected prometheus.Counter

	MessagesReceived prometheus.Counter
	MessagesSent     prometheus.Counter
	MessagesDropped  prometheus.Counter

	QueueSize     *prometheus.GaugeVec
	MatchesTotal  prometheus.Counter
	BattlesActive prometheus.Gauge
	BattlesTotal  *prometheus.CounterVec
}

// New creates the server collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "arena_sessions_active",
			Help: "Number of authenticated websocket sessions.",
		}),
		SessionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "arena_sessions_total",
			Help: "Total number of accepted websocket sessions.",
		}),
		SessionsRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "arena_sessions_rejected_total",
			Help: "Sessions refused during the auth handshake.",
		}),
		MessagesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "arena_messages_received_total",
			Help: "Inbound frames processed.",
		}),
		MessagesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "arena_messages_sent_total",
			Help: "Outbound frames delivered to send queues.",
		}),
		MessagesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "arena_messages_dropped_total",
			Help: "Outbound frames dropped because a peer was slow.",
		}),
		QueueSize: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "arena_queue_size",
			Help: "Players waiting in the matchmaking queue.",
		}, []string{"mode"}),
		MatchesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "arena_matches_total",
			Help: "Pairs emitted by the matchmaker.",
		}),
		BattlesActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "arena_battles_active",
			Help: "Battles currently live.",
		}),
		BattlesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "arena_battles_finished_total",
			Help: "Finished battles by outcome.",
		}, []string{"outcome"}),
	}
}
