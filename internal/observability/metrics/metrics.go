// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ai_voice_turn_client"

// Metrics holds all Prometheus metrics for the client.
type Metrics struct {
	// Session metrics
	SessionsActive   prometheus.Gauge
	SessionDuration  prometheus.Histogram
	StateTransitions *prometheus.CounterVec

	// Turn metrics
	TurnsTotal        *prometheus.CounterVec
	BargeIns          prometheus.Counter
	ReplyLatency      prometheus.Histogram
	RecordingDuration prometheus.Histogram

	// Recognition metrics
	FragmentsPartial prometheus.Counter
	FragmentsFinal   prometheus.Counter
	AudioBytesSent   prometheus.Counter
	AudioFramesSent  prometheus.Counter
	FramesDropped    *prometheus.CounterVec
	SilentFrames     prometheus.Counter

	// Playback metrics
	PlaybackChunks    prometheus.Counter
	PlaybackSeconds   prometheus.Counter
	PlaybackFailures  prometheus.Counter
	PlaybackUnderruns prometheus.Counter

	// Channel metrics
	ChannelConnects   *prometheus.CounterVec
	MalformedMessages *prometheus.CounterVec

	// Upload metrics
	UploadsTotal  *prometheus.CounterVec
	UploadLatency *prometheus.HistogramVec

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec

	// Backpressure metrics
	RecordingLimitExceeded *prometheus.CounterVec

	// gRPC metrics
	GRPCCalls        *prometheus.CounterVec
	GRPCCallDuration *prometheus.HistogramVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		// Session metrics
		SessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of conversation sessions currently running",
		}),
		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Duration of conversation sessions in seconds",
			Buckets:   []float64{10, 30, 60, 120, 300, 600, 1800, 3600},
		}),
		StateTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Total number of conversation state transitions",
		}, []string{"from", "to"}),

		// Turn metrics
		TurnsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Total number of turns by outcome",
		}, []string{"outcome"}),
		BargeIns: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "barge_ins_total",
			Help:      "Total number of replies interrupted by a new recording",
		}),
		ReplyLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reply_latency_seconds",
			Help:      "Time from turn commit to the first reply text or audio",
			Buckets:   []float64{0.25, 0.5, 1, 2, 3, 5, 10, 20, 30},
		}),
		RecordingDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "recording_duration_seconds",
			Help:      "Duration of recording turns in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		}),

		// Recognition metrics
		FragmentsPartial: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fragments_partial_total",
			Help:      "Total number of unconfirmed recognition fragments received",
		}),
		FragmentsFinal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fragments_final_total",
			Help:      "Total number of confirmed recognition fragments received",
		}),
		AudioBytesSent: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_sent_total",
			Help:      "Total captured audio bytes sent to the recognizer",
		}),
		AudioFramesSent: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_sent_total",
			Help:      "Total captured audio frames sent to the recognizer",
		}),
		FramesDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_dropped_total",
			Help:      "Total captured audio frames not delivered to the recognizer",
		}, []string{"reason"}),
		SilentFrames: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_silent_total",
			Help:      "Total captured frames containing only zero samples",
		}),

		// Playback metrics
		PlaybackChunks: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_chunks_total",
			Help:      "Total reply audio chunks scheduled for playback",
		}),
		PlaybackSeconds: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_seconds_total",
			Help:      "Total seconds of reply audio scheduled for playback",
		}),
		PlaybackFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_failures_total",
			Help:      "Total chunks skipped because the output sink rejected them",
		}),
		PlaybackUnderruns: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_underruns_total",
			Help:      "Total chunks that arrived after the playback cursor had passed",
		}),

		// Channel metrics
		ChannelConnects: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_connects_total",
			Help:      "Total channel connection attempts",
		}, []string{"channel", "result"}),
		MalformedMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_messages_total",
			Help:      "Total inbound messages dropped because they failed to parse or validate",
		}, []string{"channel"}),

		// Upload metrics
		UploadsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "voice_uploads_total",
			Help:      "Total deferred voice uploads",
		}, []string{"backend", "result"}),
		UploadLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "voice_upload_latency_seconds",
			Help:      "Deferred voice upload latency in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"backend"}),

		// Kafka publish metrics
		KafkaPublishTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),

		// Backpressure metrics
		RecordingLimitExceeded: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recording_limit_exceeded_total",
			Help:      "Total number of times recording limits were exceeded",
		}, []string{"limit_type"}),

		// gRPC metrics
		GRPCCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grpc_calls_total",
			Help:      "Total number of gRPC calls served",
		}, []string{"method", "code"}),
		GRPCCallDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "grpc_call_duration_seconds",
			Help:      "Duration of gRPC calls in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}, []string{"method"}),
	}
}

// RecordSessionStart records a conversation session starting.
func (m *Metrics) RecordSessionStart() {
	m.SessionsActive.Inc()
}

// RecordSessionEnd records a conversation session ending.
func (m *Metrics) RecordSessionEnd(durationSeconds float64) {
	m.SessionsActive.Dec()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordStateTransition records a conversation state change.
func (m *Metrics) RecordStateTransition(from, to string) {
	m.StateTransitions.WithLabelValues(from, to).Inc()
}

// RecordTurn records how a turn ended.
func (m *Metrics) RecordTurn(outcome string) {
	m.TurnsTotal.WithLabelValues(outcome).Inc()
}

// RecordBargeIn records a reply interrupted by the user.
func (m *Metrics) RecordBargeIn() {
	m.BargeIns.Inc()
}

// RecordReplyLatency records time to first reply output.
func (m *Metrics) RecordReplyLatency(seconds float64) {
	m.ReplyLatency.Observe(seconds)
}

// RecordRecordingDuration records the length of a recording turn.
func (m *Metrics) RecordRecordingDuration(seconds float64) {
	m.RecordingDuration.Observe(seconds)
}

// RecordFragment records a recognition fragment received.
func (m *Metrics) RecordFragment(isFinal bool) {
	if isFinal {
		m.FragmentsFinal.Inc()
		return
	}
	m.FragmentsPartial.Inc()
}

// RecordAudioSent records a captured frame handed to the recognizer.
func (m *Metrics) RecordAudioSent(bytes int) {
	m.AudioBytesSent.Add(float64(bytes))
	m.AudioFramesSent.Inc()
}

// RecordFrameDropped records a captured frame that was not sent.
func (m *Metrics) RecordFrameDropped(reason string) {
	m.FramesDropped.WithLabelValues(reason).Inc()
}

// RecordSilentFrame records an all-zero captured frame.
func (m *Metrics) RecordSilentFrame() {
	m.SilentFrames.Inc()
}

// RecordPlaybackChunk records a chunk scheduled for playback.
func (m *Metrics) RecordPlaybackChunk(seconds float64) {
	m.PlaybackChunks.Inc()
	m.PlaybackSeconds.Add(seconds)
}

// RecordPlaybackFailure records a chunk rejected by the output sink.
func (m *Metrics) RecordPlaybackFailure() {
	m.PlaybackFailures.Inc()
}

// RecordPlaybackUnderrun records a chunk that arrived late.
func (m *Metrics) RecordPlaybackUnderrun() {
	m.PlaybackUnderruns.Inc()
}

// RecordChannelConnect records a channel connection attempt.
func (m *Metrics) RecordChannelConnect(channel string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.ChannelConnects.WithLabelValues(channel, result).Inc()
}

// RecordMalformedMessage records a dropped inbound message.
func (m *Metrics) RecordMalformedMessage(channel string) {
	m.MalformedMessages.WithLabelValues(channel).Inc()
}

// RecordUpload records a deferred voice upload attempt.
func (m *Metrics) RecordUpload(backend string, err error, latencySeconds float64) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.UploadsTotal.WithLabelValues(backend, result).Inc()
	m.UploadLatency.WithLabelValues(backend).Observe(latencySeconds)
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}

// RecordLimitExceeded records when a recording limit is exceeded.
func (m *Metrics) RecordLimitExceeded(limitType string) {
	m.RecordingLimitExceeded.WithLabelValues(limitType).Inc()
}

// RecordGRPCCall records a served gRPC call.
func (m *Metrics) RecordGRPCCall(method, code string, durationSeconds float64) {
	m.GRPCCalls.WithLabelValues(method, code).Inc()
	m.GRPCCallDuration.WithLabelValues(method).Observe(durationSeconds)
}
