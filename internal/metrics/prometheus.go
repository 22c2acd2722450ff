package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the voice agent service
type Metrics struct {
	// Call metrics
	ActiveCalls   prometheus.Gauge
	CallsStarted  *prometheus.CounterVec
	CallsEnded    prometheus.Counter
	CallRejected  prometheus.Counter
	CallDuration  prometheus.Histogram

	// Conversation metrics
	UserUtterances     prometheus.Counter
	AssistantTurns     prometheus.Counter
	Interrupts         prometheus.Counter
	ToolSelections     *prometheus.CounterVec
	TurnDuration       prometheus.Histogram

	// Speech provider metrics
	TranscriptionRequests  prometheus.Counter
	TranscriptionFailures  prometheus.Counter
	TranscriptionDuration  prometheus.Histogram
	SynthesisRequests      prometheus.Counter
	SynthesisFailures      prometheus.Counter
	SynthesisAudioBytes    prometheus.Counter

	// Audio pipeline metrics
	FramesPushed prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	WebsocketErrors     prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		// Call metrics
		ActiveCalls: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "voiceagent_active_calls",
			Help: "Current number of active calls",
		}),
		CallsStarted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "voiceagent_calls_started_total",
			Help: "Total number of calls started",
		}, []string{"transport"}),
		CallsEnded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voiceagent_calls_ended_total",
			Help: "Total number of calls ended",
		}),
		CallRejected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voiceagent_calls_rejected_total",
			Help: "Total number of calls rejected at the session limit",
		}),
		CallDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "voiceagent_call_duration_seconds",
			Help:    "Duration of completed calls in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~68 minutes
		}),

		// Conversation metrics
		UserUtterances: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voiceagent_user_utterances_total",
			Help: "Total number of completed user utterances",
		}),
		AssistantTurns: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voiceagent_assistant_turns_total",
			Help: "Total number of spoken assistant turns",
		}),
		Interrupts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voiceagent_interrupts_total",
			Help: "Total number of user barge-ins during assistant playback",
		}),
		ToolSelections: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "voiceagent_tool_selections_total",
			Help: "Total number of tool selections by the assistant",
		}, []string{"tool"}),
		TurnDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "voiceagent_turn_duration_seconds",
			Help:    "Duration of one generate-synthesize-stream cycle",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~2 minutes
		}),

		// Speech provider metrics
		TranscriptionRequests: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voiceagent_transcription_requests_total",
			Help: "Total number of transcription requests sent",
		}),
		TranscriptionFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voiceagent_transcription_failures_total",
			Help: "Total number of failed transcription requests",
		}),
		TranscriptionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "voiceagent_transcription_duration_seconds",
			Help:    "Duration of transcription requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~2 minutes
		}),
		SynthesisRequests: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voiceagent_synthesis_requests_total",
			Help: "Total number of speech synthesis requests sent",
		}),
		SynthesisFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voiceagent_synthesis_failures_total",
			Help: "Total number of failed speech synthesis requests",
		}),
		SynthesisAudioBytes: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voiceagent_synthesis_audio_bytes_total",
			Help: "Total bytes of synthesized audio streamed to calls",
		}),

		// Audio pipeline metrics
		FramesPushed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voiceagent_frames_pushed_total",
			Help: "Total number of audio frames pushed to calls",
		}),

		// HTTP API metrics
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "voiceagent_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "voiceagent_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		WebsocketErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voiceagent_websocket_errors_total",
			Help: "Total number of websocket upgrade and transport errors",
		}),
	}
}

// RecordCallStarted increments the calls started counter for a transport
// and the active call gauge
func (m *Metrics) RecordCallStarted(transport string) {
	m.CallsStarted.WithLabelValues(transport).Inc()
	m.ActiveCalls.Inc()
}

// RecordCallEnded decrements the active call gauge and records duration
func (m *Metrics) RecordCallEnded(durationSeconds float64) {
	m.CallsEnded.Inc()
	m.ActiveCalls.Dec()
	m.CallDuration.Observe(durationSeconds)
}

// RecordCallRejected increments the rejected calls counter
func (m *Metrics) RecordCallRejected() {
	m.CallRejected.Inc()
}

// RecordUserUtterance increments the user utterances counter
func (m *Metrics) RecordUserUtterance() {
	m.UserUtterances.Inc()
}

// RecordAssistantTurn increments the assistant turns counter and records
// the full turn duration
func (m *Metrics) RecordAssistantTurn(durationSeconds float64) {
	m.AssistantTurns.Inc()
	m.TurnDuration.Observe(durationSeconds)
}

// RecordInterrupt increments the barge-in counter
func (m *Metrics) RecordInterrupt() {
	m.Interrupts.Inc()
}

// RecordToolSelection increments the tool selection counter for a tool
func (m *Metrics) RecordToolSelection(tool string) {
	m.ToolSelections.WithLabelValues(tool).Inc()
}

// RecordTranscription records one transcription request outcome
func (m *Metrics) RecordTranscription(success bool, durationSeconds float64) {
	m.TranscriptionRequests.Inc()
	if !success {
		m.TranscriptionFailures.Inc()
	}
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordSynthesis records one synthesis request outcome
func (m *Metrics) RecordSynthesis(success bool, audioBytes int) {
	m.SynthesisRequests.Inc()
	if !success {
		m.SynthesisFailures.Inc()
		return
	}
	m.SynthesisAudioBytes.Add(float64(audioBytes))
}

// RecordFramesPushed adds to the frames pushed counter
func (m *Metrics) RecordFramesPushed(count uint64) {
	m.FramesPushed.Add(float64(count))
}

// RecordHTTPRequest records an HTTP request with its duration
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordWebsocketError increments the websocket errors counter
func (m *Metrics) RecordWebsocketError() {
	m.WebsocketErrors.Inc()
}
