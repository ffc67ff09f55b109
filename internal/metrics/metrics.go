package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FetchTier counts reads per serving tier. tier is "primary" (joined
	// query) or "secondary" (per-entity fetch and merge).
	FetchTier = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nominations_fetch_tier_total",
			Help: "Store reads by operation, tier and outcome",
		},
		[]string{"operation", "tier", "outcome"},
	)

	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nominations_fetch_duration_seconds",
			Help:    "Duration of store reads including fallback",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nominations_circuit_breaker_state",
			Help: "Primary tier breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nominations_circuit_breaker_transitions_total",
			Help: "Primary tier breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	// Transitions counts state machine calls. machine is "request" or "review".
	Transitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nominations_transitions_total",
			Help: "Nomination state machine transitions by target state and outcome",
		},
		[]string{"machine", "to", "outcome"},
	)

	FeedSourceErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nominations_feed_source_errors_total",
			Help: "Activity feed sources that failed on both tiers",
		},
		[]string{"source"},
	)
)
