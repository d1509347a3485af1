package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Troubleshooting engine metrics for production monitoring
var (
	// Turn metrics
	TurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "servicepilot_ai_turns_total",
			Help: "Total number of turns handled",
		},
		[]string{"kind", "status"}, // kind: text/step/completed/escalated
	)

	TurnDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "servicepilot_ai_turn_duration_seconds",
			Help:    "Turn handling duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		},
		[]string{"kind"},
	)

	// Session metrics
	SessionsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "servicepilot_ai_sessions_started_total",
			Help: "Total number of troubleshooting sessions started",
		},
	)

	SessionsEnded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "servicepilot_ai_sessions_ended_total",
			Help: "Total number of sessions that reached a terminal state",
		},
		[]string{"status"}, // completed/escalated/abandoned
	)

	// Step metrics
	StepsIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "servicepilot_ai_steps_issued_total",
			Help: "Total number of steps issued, by source",
		},
		[]string{"source"}, // learned-solution/assessment-candidate/generic-fallback
	)

	FeedbackClassified = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "servicepilot_ai_feedback_classified_total",
			Help: "Total number of feedback turns, by classified outcome",
		},
		[]string{"outcome"},
	)

	// Gateway metrics
	GatewayRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "servicepilot_ai_gateway_requests_total",
			Help: "Total number of language-generation requests",
		},
		[]string{"provider", "status"},
	)

	GatewayRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "servicepilot_ai_gateway_request_duration_seconds",
			Help:    "Language-generation request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~1min
		},
		[]string{"provider"},
	)

	// Transport metrics
	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "servicepilot_ai_ws_connections",
			Help: "Currently open websocket turn channels",
		},
	)

	GatewayFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "servicepilot_ai_gateway_fallbacks_total",
			Help: "Total number of turns resolved by a deterministic fallback after a gateway failure",
		},
	)

	// Learning loop metrics
	EffectivenessUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "servicepilot_ai_effectiveness_updates_total",
			Help: "Total number of solution-effectiveness observations recorded",
		},
		[]string{"category", "succeeded"},
	)
)
