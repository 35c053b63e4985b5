// Package metrics provides Prometheus metrics export for the chat server.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every instrument on a private registry so tests can run
// multiple servers without collisions in the default registry.
type Metrics struct {
	registry *prometheus.Registry

	// Connection and session lifecycle
	connectionsActive prometheus.Gauge
	sessionsActive    prometheus.Gauge

	// Protocol dispatch
	framesTotal     *prometheus.CounterVec
	dispatchLatency *prometheus.HistogramVec

	// Messaging
	messagesTotal      *prometheus.CounterVec
	broadcastDelivered prometheus.Counter
	broadcastFailed    prometheus.Counter

	// AI participation
	aiRepliesTotal *prometheus.CounterVec
	llmLatency     prometheus.Histogram

	// Admin surface
	adminCommandsTotal *prometheus.CounterVec
}

var latencyBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60}

// New creates a Metrics set on a fresh registry.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.connectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "parley",
		Subsystem: "server",
		Name:      "connections_active",
		Help:      "Number of open client connections",
	})

	m.sessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "parley",
		Subsystem: "server",
		Name:      "sessions_active",
		Help:      "Number of logged-in sessions",
	})

	m.framesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "parley",
			Subsystem: "server",
			Name:      "frames_total",
			Help:      "Total frames processed, by message type and status",
		},
		[]string{"message_type", "status"},
	)

	m.dispatchLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "parley",
			Subsystem: "server",
			Name:      "dispatch_latency_seconds",
			Help:      "Handler latency in seconds, by message type",
			Buckets:   latencyBuckets,
		},
		[]string{"message_type"},
	)

	m.messagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "parley",
			Subsystem: "chat",
			Name:      "messages_total",
			Help:      "Total messages persisted, by kind",
		},
		[]string{"kind"},
	)

	m.broadcastDelivered = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "parley",
		Subsystem: "chat",
		Name:      "broadcast_deliveries_total",
		Help:      "Total per-recipient broadcast deliveries",
	})

	m.broadcastFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "parley",
		Subsystem: "chat",
		Name:      "broadcast_failures_total",
		Help:      "Total per-recipient broadcast failures (recipient closed)",
	})

	m.aiRepliesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "parley",
			Subsystem: "ai",
			Name:      "replies_total",
			Help:      "AI reply jobs, by outcome",
		},
		[]string{"outcome"},
	)

	m.llmLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "parley",
		Subsystem: "ai",
		Name:      "llm_latency_seconds",
		Help:      "LLM request latency in seconds",
		Buckets:   latencyBuckets,
	})

	m.adminCommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "parley",
			Subsystem: "admin",
			Name:      "commands_total",
			Help:      "Admin commands, by verb and outcome",
		},
		[]string{"verb", "outcome"},
	)

	m.registry.MustRegister(
		m.connectionsActive,
		m.sessionsActive,
		m.framesTotal,
		m.dispatchLatency,
		m.messagesTotal,
		m.broadcastDelivered,
		m.broadcastFailed,
		m.aiRepliesTotal,
		m.llmLatency,
		m.adminCommandsTotal,
	)

	return m
}

// Handler returns the /metrics HTTP handler for the private registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ConnectionOpened() { m.connectionsActive.Inc() }
func (m *Metrics) ConnectionClosed() { m.connectionsActive.Dec() }

func (m *Metrics) SessionStarted() { m.sessionsActive.Inc() }
func (m *Metrics) SessionEnded()   { m.sessionsActive.Dec() }

// RecordFrame records one processed frame and its handler latency.
func (m *Metrics) RecordFrame(messageType string, latency time.Duration, ok bool) {
	status := "ok"
	if !ok {
		status = "error"
	}
	m.framesTotal.WithLabelValues(messageType, status).Inc()
	m.dispatchLatency.WithLabelValues(messageType).Observe(latency.Seconds())
}

// RecordMessage records a persisted message by kind.
func (m *Metrics) RecordMessage(kind string) {
	m.messagesTotal.WithLabelValues(kind).Inc()
}

// RecordBroadcast records the per-recipient outcome counts of one broadcast.
func (m *Metrics) RecordBroadcast(delivered, failed int) {
	m.broadcastDelivered.Add(float64(delivered))
	m.broadcastFailed.Add(float64(failed))
}

// AI reply job outcomes.
const (
	AIOutcomeSent        = "sent"
	AIOutcomeDroppedFull = "dropped_queue_full"
	AIOutcomeFailed      = "failed"
)

// RecordAIReply records the outcome of one AI reply job.
func (m *Metrics) RecordAIReply(outcome string) {
	m.aiRepliesTotal.WithLabelValues(outcome).Inc()
}

// RecordLLMLatency records one LLM round trip.
func (m *Metrics) RecordLLMLatency(latency time.Duration) {
	m.llmLatency.Observe(latency.Seconds())
}

// RecordAdminCommand records one admin command attempt.
func (m *Metrics) RecordAdminCommand(verb, outcome string) {
	m.adminCommandsTotal.WithLabelValues(verb, outcome).Inc()
}
