// Package metrics declares the process's Prometheus metrics.
//
// Naming convention: namespace_subsystem_name, namespace is always
// "netsblox", subsystem groups by component (session, topology, router,
// trace, lifecycle, circuit_breaker, rate_limit, presence).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "netsblox",
		Subsystem: "session",
		Name:      "connections_active",
		Help:      "Current number of connected WebSocket clients",
	})

	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "netsblox",
		Subsystem: "topology",
		Name:      "rooms_active",
		Help:      "Current number of occupied rooms",
	})

	RoomOccupants = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "netsblox",
		Subsystem: "topology",
		Name:      "occupants_count",
		Help:      "Number of occupants in each room",
	}, []string{"project_id"})

	SessionEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "netsblox",
		Subsystem: "session",
		Name:      "events_total",
		Help:      "Total inbound WebSocket frames processed",
	}, []string{"event_type", "status"})

	MessageProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "netsblox",
		Subsystem: "router",
		Name:      "dispatch_seconds",
		Help:      "Time spent resolving addresses and dispatching a message",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"event_type"})

	MessagesRouted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "netsblox",
		Subsystem: "router",
		Name:      "messages_total",
		Help:      "Total messages routed, by wire kind",
	}, []string{"kind"})

	TracesOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "netsblox",
		Subsystem: "trace",
		Name:      "open_total",
		Help:      "Current number of open (recording) network traces",
	})

	TraceMessagesRecorded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "netsblox",
		Subsystem: "trace",
		Name:      "messages_recorded_total",
		Help:      "Total SentMessage rows persisted by the trace recorder",
	})

	ProjectsPendingDeletion = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "netsblox",
		Subsystem: "lifecycle",
		Name:      "pending_deletion",
		Help:      "Number of projects currently scheduled for deferred deletion",
	})

	ResolverCacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "netsblox",
		Subsystem: "address",
		Name:      "cache_total",
		Help:      "Address resolver cache hits/misses",
	}, []string{"result"})

	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "netsblox",
		Subsystem: "circuit_breaker",
		Name:      "state",
		Help:      "Current state of a circuit breaker (0: Closed, 1: Open, 2: Half-Open)",
	}, []string{"service"})

	CircuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "netsblox",
		Subsystem: "circuit_breaker",
		Name:      "failures_total",
		Help:      "Total requests rejected by a circuit breaker",
	}, []string{"service"})

	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "netsblox",
		Subsystem: "rate_limit",
		Name:      "exceeded_total",
		Help:      "Total requests that exceeded the rate limit",
	}, []string{"endpoint", "reason"})

	RateLimitRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "netsblox",
		Subsystem: "rate_limit",
		Name:      "requests_total",
		Help:      "Total requests checked against the rate limiter",
	}, []string{"endpoint"})

	PresenceOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "netsblox",
		Subsystem: "presence",
		Name:      "operations_total",
		Help:      "Total Redis presence operations",
	}, []string{"operation", "status"})
)

func IncSession() { ActiveSessions.Inc() }
func DecSession() { ActiveSessions.Dec() }
