package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"livechat/internal/domain"
)

// Metrics contains all Prometheus metrics for live sessions
type Metrics struct {
	// Session metrics
	SessionsStarted  prometheus.Counter
	SessionFailures  *prometheus.CounterVec
	ConnectionStatus *prometheus.GaugeVec

	// Capture metrics
	FramesCaptured prometheus.Counter
	FramesSent     prometheus.Counter
	FramesDropped  prometheus.Counter

	// Playback metrics
	FragmentsScheduled prometheus.Counter
	DecodeFailures     prometheus.Counter
	ActivePlayback     prometheus.Gauge
	ScheduleLead       prometheus.Histogram

	// Transcription metrics
	TranscriptFragments *prometheus.CounterVec
}

// New creates all metrics and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "livechat_sessions_started_total",
			Help: "Total number of live sessions started",
		}),
		SessionFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "livechat_session_failures_total",
			Help: "Total number of session failures by error code",
		}, []string{"code"}),
		ConnectionStatus: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "livechat_connection_status",
			Help: "Current connection status (1 for the active state)",
		}, []string{"status"}),

		FramesCaptured: factory.NewCounter(prometheus.CounterOpts{
			Name: "livechat_capture_frames_total",
			Help: "Total number of microphone frames captured",
		}),
		FramesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "livechat_capture_frames_sent_total",
			Help: "Total number of microphone frames handed to the transport",
		}),
		FramesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "livechat_capture_frames_dropped_total",
			Help: "Total number of microphone frames dropped because a queue was full",
		}),

		FragmentsScheduled: factory.NewCounter(prometheus.CounterOpts{
			Name: "livechat_playback_fragments_scheduled_total",
			Help: "Total number of model audio fragments scheduled for playback",
		}),
		DecodeFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "livechat_playback_decode_failures_total",
			Help: "Total number of model audio fragments skipped because they could not be decoded",
		}),
		ActivePlayback: factory.NewGauge(prometheus.GaugeOpts{
			Name: "livechat_playback_active_fragments",
			Help: "Current number of scheduled fragments that have not finished playing",
		}),
		ScheduleLead: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "livechat_playback_schedule_lead_seconds",
			Help:    "Distance between the device clock and a fragment's scheduled start",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~5s
		}),

		TranscriptFragments: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "livechat_transcript_fragments_total",
			Help: "Total number of transcription fragments received by speaker",
		}, []string{"speaker"}),
	}
}

// SetStatus marks status as the only active connection state.
func (m *Metrics) SetStatus(status domain.ConnectionStatus) {
	for _, s := range []domain.ConnectionStatus{
		domain.StatusDisconnected,
		domain.StatusConnecting,
		domain.StatusConnected,
		domain.StatusError,
	} {
		value := 0.0
		if s == status {
			value = 1
		}
		m.ConnectionStatus.WithLabelValues(string(s)).Set(value)
	}
}
