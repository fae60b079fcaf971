package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Metrics holds the Prometheus collectors for the bot gateway. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Session metrics
	SessionsActive prometheus.Gauge
	SessionsTotal  *prometheus.CounterVec

	// Traffic metrics
	MessagesTotal   *prometheus.CounterVec
	AudioBytesTotal *prometheus.CounterVec

	// Outbound audio
	PlayStreamsActive prometheus.Gauge

	// Error metrics
	SendErrorsTotal        *prometheus.CounterVec
	UpgradeRejectionsTotal *prometheus.CounterVec
}

// New creates a Metrics instance registered on its own registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "vai_botapi"
	}

	registry := prometheus.NewRegistry()

	sessionsActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of connected bot sessions",
		},
	)

	sessionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of conversation starts by outcome",
		},
		[]string{"outcome"},
	)

	messagesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Total number of protocol messages",
		},
		[]string{"direction", "type"},
	)

	audioBytesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_total",
			Help:      "Total decoded audio bytes",
		},
		[]string{"direction"},
	)

	playStreamsActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "play_streams_active",
			Help:      "Number of outbound play streams in progress",
		},
	)

	sendErrorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_errors_total",
			Help:      "Total number of failed outbound sends",
		},
		[]string{"type"},
	)

	upgradeRejectionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upgrade_rejections_total",
			Help:      "Total number of refused connection upgrades",
		},
		[]string{"reason"},
	)

	registry.MustRegister(
		sessionsActive,
		sessionsTotal,
		messagesTotal,
		audioBytesTotal,
		playStreamsActive,
		sendErrorsTotal,
		upgradeRejectionsTotal,
	)

	return &Metrics{
		registry:               registry,
		SessionsActive:         sessionsActive,
		SessionsTotal:          sessionsTotal,
		MessagesTotal:          messagesTotal,
		AudioBytesTotal:        audioBytesTotal,
		PlayStreamsActive:      playStreamsActive,
		SendErrorsTotal:        sendErrorsTotal,
		UpgradeRejectionsTotal: upgradeRejectionsTotal,
	}
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and custom collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) RecordSessionOpen() {
	if m == nil {
		return
	}
	m.SessionsActive.Inc()
}

func (m *Metrics) RecordSessionClose() {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
}

// RecordConversationStart records whether a session.initiate was accepted.
func (m *Metrics) RecordConversationStart(accepted bool) {
	if m == nil {
		return
	}
	outcome := "rejected"
	if accepted {
		outcome = "accepted"
	}
	m.SessionsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordMessage(direction, typ string) {
	if m == nil {
		return
	}
	m.MessagesTotal.WithLabelValues(direction, typ).Inc()
}

func (m *Metrics) RecordAudio(direction string, bytes int) {
	if m == nil || bytes <= 0 {
		return
	}
	m.AudioBytesTotal.WithLabelValues(direction).Add(float64(bytes))
}

func (m *Metrics) RecordPlayStreamStart() {
	if m == nil {
		return
	}
	m.PlayStreamsActive.Inc()
}

func (m *Metrics) RecordPlayStreamEnd() {
	if m == nil {
		return
	}
	m.PlayStreamsActive.Dec()
}

func (m *Metrics) RecordSendError(typ string) {
	if m == nil {
		return
	}
	m.SendErrorsTotal.WithLabelValues(typ).Inc()
}

func (m *Metrics) RecordUpgradeRejection(reason string) {
	if m == nil {
		return
	}
	m.UpgradeRejectionsTotal.WithLabelValues(reason).Inc()
}
