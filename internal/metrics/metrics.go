package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains the Prometheus metrics for live voice sessions.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Session lifecycle
	SessionsStarted prometheus.Counter
	SessionStates   *prometheus.CounterVec
	SessionErrors   *prometheus.CounterVec

	// Capture / outbound
	ChunksSent    prometheus.Counter
	ChunksDropped prometheus.Counter

	// Inbound / playback
	InboundMessages  prometheus.Counter
	DecodeErrors     prometheus.Counter
	BuffersScheduled prometheus.Counter
	ScheduledSeconds prometheus.Counter
	Interruptions    prometheus.Counter
	ActiveSources    prometheus.Gauge
	TurnsCompleted   prometheus.Counter
}

// New creates the metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "mitra_live_sessions_started_total",
			Help: "Total number of live sessions started",
		}),
		SessionStates: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mitra_live_session_transitions_total",
			Help: "Live session state transitions by target state",
		}, []string{"state"}),
		SessionErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mitra_live_session_errors_total",
			Help: "Errors reported to the UI by code",
		}, []string{"code"}),

		ChunksSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "mitra_capture_chunks_sent_total",
			Help: "Captured audio chunks handed to the live connection",
		}),
		ChunksDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "mitra_capture_chunks_dropped_total",
			Help: "Captured audio chunks dropped because the send failed",
		}),

		InboundMessages: factory.NewCounter(prometheus.CounterOpts{
			Name: "mitra_inbound_messages_total",
			Help: "Inbound messages received from the model service",
		}),
		DecodeErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "mitra_inbound_audio_decode_errors_total",
			Help: "Inbound audio payloads dropped because they could not be decoded",
		}),
		BuffersScheduled: factory.NewCounter(prometheus.CounterOpts{
			Name: "mitra_playback_buffers_scheduled_total",
			Help: "Decoded audio buffers scheduled for playback",
		}),
		ScheduledSeconds: factory.NewCounter(prometheus.CounterOpts{
			Name: "mitra_playback_scheduled_seconds_total",
			Help: "Seconds of audio scheduled for playback",
		}),
		Interruptions: factory.NewCounter(prometheus.CounterOpts{
			Name: "mitra_playback_interruptions_total",
			Help: "Playback interruptions (barge-in)",
		}),
		ActiveSources: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mitra_playback_active_sources",
			Help: "Currently scheduled or playing audio sources",
		}),
		TurnsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "mitra_turns_completed_total",
			Help: "Model turns completed",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.SessionsStarted.Inc()
}

func (m *Metrics) StateChanged(state string) {
	if m == nil {
		return
	}
	m.SessionStates.WithLabelValues(state).Inc()
}

func (m *Metrics) ErrorReported(code string) {
	if m == nil {
		return
	}
	m.SessionErrors.WithLabelValues(code).Inc()
}

func (m *Metrics) ChunkSent() {
	if m == nil {
		return
	}
	m.ChunksSent.Inc()
}

func (m *Metrics) ChunkDropped() {
	if m == nil {
		return
	}
	m.ChunksDropped.Inc()
}

func (m *Metrics) InboundMessage() {
	if m == nil {
		return
	}
	m.InboundMessages.Inc()
}

func (m *Metrics) DecodeError() {
	if m == nil {
		return
	}
	m.DecodeErrors.Inc()
}

func (m *Metrics) BufferScheduled(seconds float64) {
	if m == nil {
		return
	}
	m.BuffersScheduled.Inc()
	m.ScheduledSeconds.Add(seconds)
}

func (m *Metrics) Interrupted() {
	if m == nil {
		return
	}
	m.Interruptions.Inc()
}

func (m *Metrics) SetActiveSources(n int) {
	if m == nil {
		return
	}
	m.ActiveSources.Set(float64(n))
}

func (m *Metrics) TurnCompleted() {
	if m == nil {
		return
	}
	m.TurnsCompleted.Inc()
}
