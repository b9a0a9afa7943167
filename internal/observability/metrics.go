package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Frame drop reasons.
const (
	DropNotConnected = "not_connected"
	DropQueueFull    = "queue_full"
	DropStale        = "stale"
)

// Metrics holds dictation counters registered on a caller-owned registry.
type Metrics struct {
	framesSent        prometheus.Counter
	framesDropped     *prometheus.CounterVec
	transcriptEvents  *prometheus.CounterVec
	sessionsStarted   prometheus.Counter
	provisionDuration prometheus.Histogram
	errors            *prometheus.CounterVec
}

// NewMetrics registers dictation metrics on reg. A nil reg uses a private registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	return &Metrics{
		framesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "casescribe_audio_frames_sent_total",
			Help: "Audio frames forwarded to the transcription connection",
		}),
		framesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "casescribe_audio_frames_dropped_total",
			Help: "Audio frames dropped before reaching the transcription connection",
		}, []string{"reason"}),
		transcriptEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "casescribe_transcript_events_total",
			Help: "Transcript events applied by the reconciler",
		}, []string{"kind"}),
		sessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "casescribe_sessions_started_total",
			Help: "Transcription sessions negotiated",
		}),
		provisionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "casescribe_session_start_seconds",
			Help:    "Time from provisioning request to open connection",
			Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
		}),
		errors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "casescribe_errors_total",
			Help: "Errors surfaced to the host by code",
		}, []string{"code"}),
	}
}

func (m *Metrics) FrameSent() {
	if m == nil {
		return
	}
	m.framesSent.Inc()
}

func (m *Metrics) FrameDropped(reason string) {
	if m == nil {
		return
	}
	m.framesDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) TranscriptEvent(kind string) {
	if m == nil {
		return
	}
	m.transcriptEvents.WithLabelValues(kind).Inc()
}

func (m *Metrics) SessionStarted(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.sessionsStarted.Inc()
	m.provisionDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) Error(code string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(code).Inc()
}
