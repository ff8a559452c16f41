// Package metrics exposes Prometheus metrics for running discussions.
package metrics

import (
	"net/http"
	"time"

	"github.com/ashureev/roundtable/internal/events"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all custom Prometheus metrics for the service. It is a
// notification sink and a scheduler observer.
type Metrics struct {
	registry *prometheus.Registry

	// Discussion metrics
	Messages        *prometheus.CounterVec
	RoundsAdvanced  prometheus.Counter
	ConsensusEvents *prometheus.CounterVec

	// Generation metrics
	GenerationLatency prometheus.Histogram
	GenerationErrors  prometheus.Counter
	TurnsDropped      prometheus.Counter

	// Transport and persistence metrics
	WebSocketConnections prometheus.Gauge
	PersistFlushes       *prometheus.CounterVec
	TranscriptDropped    prometheus.Counter
}

// New registers all metrics on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		// Messages appended by kind (agent, moderator, system)
		Messages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "roundtable_messages_total",
			Help: "Total number of messages appended to session transcripts by kind",
		}, []string{"kind"}),

		RoundsAdvanced: factory.NewCounter(prometheus.CounterOpts{
			Name: "roundtable_rounds_advanced_total",
			Help: "Total number of consensus rounds advanced",
		}),

		// Finalized consensus sessions by outcome: converged or forced
		ConsensusEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "roundtable_consensus_total",
			Help: "Total number of finalized consensus sessions by outcome",
		}, []string{"outcome"}),

		GenerationLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "roundtable_generation_duration_seconds",
			Help:    "Text generation latency in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}),

		GenerationErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "roundtable_generation_errors_total",
			Help: "Total number of failed generation turns",
		}),

		TurnsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "roundtable_turns_dropped_total",
			Help: "Total number of turns dropped because a generation was in flight",
		}),

		WebSocketConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "roundtable_websocket_connections_active",
			Help: "Number of active WebSocket connections",
		}),

		PersistFlushes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "roundtable_persist_sessions_total",
			Help: "Total number of session snapshots flushed to storage by result",
		}, []string{"result"}),

		TranscriptDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "roundtable_transcript_dropped_total",
			Help: "Total number of transcript entries dropped because the queue was full",
		}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Publish implements events.Sink.
func (m *Metrics) Publish(e events.Event) {
	switch e.Type {
	case events.TypeMessageAppended:
		if e.Message != nil {
			m.Messages.WithLabelValues(string(e.Message.Kind)).Inc()
		}
	case events.TypeRoundAdvanced:
		m.RoundsAdvanced.Inc()
	case events.TypeConsensusReached:
		outcome := "converged"
		if e.Forced {
			outcome = "forced"
		}
		m.ConsensusEvents.WithLabelValues(outcome).Inc()
	case events.TypeGenerationError:
		m.GenerationErrors.Inc()
	}
}

// GenerationFinished records generation latency.
func (m *Metrics) GenerationFinished(elapsed time.Duration, _ error) {
	m.GenerationLatency.Observe(elapsed.Seconds())
}

// TurnDropped counts a turn rejected by the single-flight guard.
func (m *Metrics) TurnDropped(string) {
	m.TurnsDropped.Inc()
}

// RecordWebSocketConnect records a new WebSocket connection.
func (m *Metrics) RecordWebSocketConnect() {
	m.WebSocketConnections.Inc()
}

// RecordWebSocketDisconnect records a WebSocket disconnection.
func (m *Metrics) RecordWebSocketDisconnect() {
	m.WebSocketConnections.Dec()
}

// RecordFlush records the result of a persistence flush.
func (m *Metrics) RecordFlush(written, failed int) {
	m.PersistFlushes.WithLabelValues("written").Add(float64(written))
	m.PersistFlushes.WithLabelValues("failed").Add(float64(failed))
}

// RecordTranscriptDrop counts a dropped transcript entry.
func (m *Metrics) RecordTranscriptDrop() {
	m.TranscriptDropped.Inc()
}
