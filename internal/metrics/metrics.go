// Package metrics declares the gateway's Prometheus instrumentation.
//
// Naming convention: namespace_subsystem_name.
//   - namespace: chat_gateway
//   - subsystem: websocket, router, room, persistence, auth, circuit_breaker,
//     rate_limit, redis
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "chat_gateway",
		Subsystem: "websocket",
		Name:      "sessions_active",
		Help:      "Current number of active user sessions",
	})

	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "chat_gateway",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of active rooms",
	})

	RoomMembers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "chat_gateway",
		Subsystem: "room",
		Name:      "members_count",
		Help:      "Number of members in each room",
	}, []string{"room_id"})

	FramesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chat_gateway",
		Subsystem: "websocket",
		Name:      "frames_total",
		Help:      "Total ChatFrames processed, by variant and outcome",
	}, []string{"frame_type", "status"})

	FrameProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "chat_gateway",
		Subsystem: "websocket",
		Name:      "frame_processing_seconds",
		Help:      "Time spent processing a ChatFrame",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"frame_type"})

	RouterMailboxDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chat_gateway",
		Subsystem: "router",
		Name:      "mailbox_drops_total",
		Help:      "Total frames the router or a session dropped because a session mailbox was full",
	}, []string{"reason"})

	PersistenceRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chat_gateway",
		Subsystem: "persistence",
		Name:      "retries_total",
		Help:      "Total retry attempts made against the persistence service",
	}, []string{"operation"})

	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "chat_gateway",
		Subsystem: "circuit_breaker",
		Name:      "state",
		Help:      "Current state of a circuit breaker (0: Closed, 1: Open, 2: Half-Open)",
	}, []string{"service"})

	CircuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chat_gateway",
		Subsystem: "circuit_breaker",
		Name:      "failures_total",
		Help:      "Total requests rejected because a circuit breaker was open",
	}, []string{"service"})

	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chat_gateway",
		Subsystem: "rate_limit",
		Name:      "exceeded_total",
		Help:      "Total requests that exceeded a rate limit",
	}, []string{"endpoint", "reason"})

	RedisOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chat_gateway",
		Subsystem: "redis",
		Name:      "operations_total",
		Help:      "Total Redis bus operations",
	}, []string{"operation", "status"})
)

func IncSession() { ActiveSessions.Inc() }
func DecSession() { ActiveSessions.Dec() }
