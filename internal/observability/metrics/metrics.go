// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "lecture_capture"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Recording session metrics
	SessionsStarted   *prometheus.CounterVec
	SessionsActive    prometheus.Gauge
	SessionsFinalized prometheus.Counter
	SessionsFailed    *prometheus.CounterVec
	SessionsCancelled prometheus.Counter
	RecordedDuration  prometheus.Histogram
	DeviceBusy        prometheus.Counter

	// Capture metrics
	AudioBytesCaptured  prometheus.Counter
	AudioChunksBuffered prometheus.Counter

	// Live transcription metrics
	LiveRestarts    prometheus.Counter
	LiveUnavailable prometheus.Counter
	LiveSegments    prometheus.Counter

	// Pipeline metrics
	StageTotal   *prometheus.CounterVec
	StageLatency *prometheus.HistogramVec
	PipelineRuns *prometheus.CounterVec

	// Transcription metrics
	TranscriptionErrors *prometheus.CounterVec

	// Notes metrics
	NotesErrors *prometheus.CounterVec

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec

	// Transport metrics
	HTTPRequests *prometheus.CounterVec
	HTTPLatency  *prometheus.HistogramVec
	GRPCRequests *prometheus.CounterVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return newMetrics(promauto.With(prometheus.DefaultRegisterer))
}

// NewUnregistered creates metrics bound to a private registry. Used by tests.
func NewUnregistered() *Metrics {
	return newMetrics(promauto.With(prometheus.NewRegistry()))
}

func newMetrics(f promauto.Factory) *Metrics {
	return &Metrics{
		// Recording session metrics
		SessionsStarted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Total number of recording sessions started",
		}, []string{"platform"}),
		SessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of recording sessions in a non-terminal state",
		}),
		SessionsFinalized: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_finalized_total",
			Help:      "Total number of sessions that produced an audio artifact",
		}),
		SessionsFailed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_failed_total",
			Help:      "Total number of sessions that ended in failure",
		}, []string{"kind"}),
		SessionsCancelled: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_cancelled_total",
			Help:      "Total number of cancelled sessions",
		}),
		RecordedDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "recorded_duration_seconds",
			Help:      "Recorded duration of finalized sessions, excluding pauses",
			Buckets:   []float64{5, 30, 60, 300, 600, 1800, 3600, 5400, 7200},
		}),
		DeviceBusy: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "device_busy_total",
			Help:      "Total number of starts rejected because the device was owned by another session",
		}),

		// Capture metrics
		AudioBytesCaptured: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_captured_total",
			Help:      "Total audio bytes in finalized artifacts",
		}),
		AudioChunksBuffered: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_chunks_buffered_total",
			Help:      "Total recorder data chunks buffered by browser capture",
		}),

		// Live transcription metrics
		LiveRestarts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "live_restarts_total",
			Help:      "Total number of live recognizer restarts",
		}),
		LiveUnavailable: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "live_unavailable_total",
			Help:      "Total number of sessions where live transcription gave up",
		}),
		LiveSegments: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "live_segments_total",
			Help:      "Total number of finalized live transcript segments",
		}),

		// Pipeline metrics
		StageTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_stage_total",
			Help:      "Total number of pipeline stage executions",
		}, []string{"stage", "outcome"}),
		StageLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_stage_latency_seconds",
			Help:      "Pipeline stage latency in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"stage"}),
		PipelineRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_runs_total",
			Help:      "Total number of pipeline runs by result",
		}, []string{"result"}),

		// Transcription metrics
		TranscriptionErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcription_errors_total",
			Help:      "Total number of transcription errors",
		}, []string{"provider", "kind"}),

		// Notes metrics
		NotesErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notes_errors_total",
			Help:      "Total number of note generation errors",
		}, []string{"provider", "kind"}),

		// Kafka publish metrics
		KafkaPublishTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),

		// Transport metrics
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		HTTPLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_latency_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120},
		}, []string{"route"}),
		GRPCRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grpc_requests_total",
			Help:      "Total number of gRPC calls",
		}, []string{"method", "code"}),
	}
}

// RecordSessionStart records a session entering Recording.
func (m *Metrics) RecordSessionStart(platform string) {
	m.SessionsStarted.WithLabelValues(platform).Inc()
	m.SessionsActive.Inc()
}

// RecordSessionFinalized records a session producing an artifact.
func (m *Metrics) RecordSessionFinalized(durationSeconds float64, bytes int64) {
	m.SessionsActive.Dec()
	m.SessionsFinalized.Inc()
	m.RecordedDuration.Observe(durationSeconds)
	m.AudioBytesCaptured.Add(float64(bytes))
}

// RecordSessionFailed records a session ending in failure.
// active is false when the session failed before it was counted as active.
func (m *Metrics) RecordSessionFailed(kind string, active bool) {
	if active {
		m.SessionsActive.Dec()
	}
	m.SessionsFailed.WithLabelValues(kind).Inc()
}

// RecordSessionCancelled records a cancelled session.
func (m *Metrics) RecordSessionCancelled(active bool) {
	if active {
		m.SessionsActive.Dec()
	}
	m.SessionsCancelled.Inc()
}

// RecordDeviceBusy records a start rejected by the device lock.
func (m *Metrics) RecordDeviceBusy() {
	m.DeviceBusy.Inc()
}

// RecordChunkBuffered records a recorder chunk.
func (m *Metrics) RecordChunkBuffered() {
	m.AudioChunksBuffered.Inc()
}

// RecordLiveRestart records a recognizer restart.
func (m *Metrics) RecordLiveRestart() {
	m.LiveRestarts.Inc()
}

// RecordLiveUnavailable records live transcription giving up.
func (m *Metrics) RecordLiveUnavailable() {
	m.LiveUnavailable.Inc()
}

// RecordLiveSegment records a finalized live segment.
func (m *Metrics) RecordLiveSegment() {
	m.LiveSegments.Inc()
}

// RecordStage records a pipeline stage outcome.
func (m *Metrics) RecordStage(stage, outcome string, latencySeconds float64) {
	m.StageTotal.WithLabelValues(stage, outcome).Inc()
	m.StageLatency.WithLabelValues(stage).Observe(latencySeconds)
}

// RecordPipelineRun records the overall pipeline result.
func (m *Metrics) RecordPipelineRun(result string) {
	m.PipelineRuns.WithLabelValues(result).Inc()
}

// RecordTranscriptionError records a classified transcription failure.
func (m *Metrics) RecordTranscriptionError(provider, kind string) {
	m.TranscriptionErrors.WithLabelValues(provider, kind).Inc()
}

// RecordNotesError records a classified note generation failure.
func (m *Metrics) RecordNotesError(provider, kind string) {
	m.NotesErrors.WithLabelValues(provider, kind).Inc()
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}

// RecordHTTPRequest records a served HTTP request.
func (m *Metrics) RecordHTTPRequest(method, route string, status int, latencySeconds float64) {
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPLatency.WithLabelValues(route).Observe(latencySeconds)
}

// RecordGRPCRequest records a completed gRPC call.
func (m *Metrics) RecordGRPCRequest(method, code string) {
	m.GRPCRequests.WithLabelValues(method, code).Inc()
}
