// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "voice_dictation"

// Metrics holds all Prometheus metrics for the pipeline.
type Metrics struct {
	// Capture metrics
	SessionsTotal      prometheus.Counter
	SessionsActive     prometheus.Gauge
	AudioSegmentsCut   prometheus.Counter
	AudioBytesCaptured prometheus.Counter
	FramesDropped      prometheus.Counter

	// Transport metrics
	TransportConnects   prometheus.Counter
	TransportReconnects prometheus.Counter
	TransportExhausted  prometheus.Counter
	ChunksSent          prometheus.Counter
	EventsReceived      *prometheus.CounterVec

	// Aggregator metrics
	SegmentsInterim   prometheus.Counter
	SegmentsFinalized prometheus.Counter
	SegmentsSplit     prometheus.Counter

	// Enrichment queue metrics
	QueueDepth        *prometheus.GaugeVec
	QueueOverflows    *prometheus.CounterVec
	QueueProcessed    *prometheus.CounterVec
	EnrichmentLatency *prometheus.HistogramVec
	CleanupFallbacks  prometheus.Counter

	// Persistence metrics
	UploadsTotal   *prometheus.CounterVec
	UploadRetries  prometheus.Counter
	UploadsDropped prometheus.Counter
	UploadLatency  prometheus.Histogram

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		SessionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of recording sessions started",
		}),
		SessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of currently active recording sessions",
		}),
		AudioSegmentsCut: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_segments_total",
			Help:      "Total number of fixed-cadence audio segments produced",
		}),
		AudioBytesCaptured: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_captured_total",
			Help:      "Total audio bytes captured from the device",
		}),
		FramesDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Total audio frames dropped at the capture handoff",
		}),

		TransportConnects: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_connects_total",
			Help:      "Total successful transport connections",
		}),
		TransportReconnects: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_reconnects_total",
			Help:      "Total transport reconnect attempts",
		}),
		TransportExhausted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_exhausted_total",
			Help:      "Total times the reconnect budget was exhausted",
		}),
		ChunksSent: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_chunks_sent_total",
			Help:      "Total audio chunks sent to the recognizer",
		}),
		EventsReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_events_received_total",
			Help:      "Total recognition events received",
		}, []string{"kind"}),

		SegmentsInterim: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_interim_total",
			Help:      "Total interim transcript updates applied",
		}),
		SegmentsFinalized: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_finalized_total",
			Help:      "Total transcript segments finalized",
		}),
		SegmentsSplit: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_split_total",
			Help:      "Total multi-sentence finals split into several segments",
		}),

		QueueDepth: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Current depth of each enrichment queue",
		}, []string{"queue"}),
		QueueOverflows: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_overflows_total",
			Help:      "Total oldest-entry drops due to queue overflow",
		}, []string{"queue"}),
		QueueProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_processed_total",
			Help:      "Total items processed by each enrichment queue",
		}, []string{"queue", "outcome"}),
		EnrichmentLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "enrichment_latency_seconds",
			Help:      "Latency of external text-service calls",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 15},
		}, []string{"queue"}),
		CleanupFallbacks: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleanup_fallbacks_total",
			Help:      "Total cleanup failures recovered by falling back to raw text",
		}),

		UploadsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Total persistence writes by kind and outcome",
		}, []string{"kind", "outcome"}),
		UploadRetries: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_retries_total",
			Help:      "Total persistence retry attempts",
		}),
		UploadsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_dropped_total",
			Help:      "Total payloads dropped after exhausting retries",
		}),
		UploadLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upload_latency_seconds",
			Help:      "Persistence write latency in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),

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
	}
}

// RecordSessionStart records a new recording session starting.
func (m *Metrics) RecordSessionStart() {
	m.SessionsTotal.Inc()
	m.SessionsActive.Inc()
}

// RecordSessionEnd records a recording session ending.
func (m *Metrics) RecordSessionEnd() {
	m.SessionsActive.Dec()
}

// RecordAudioSegment records a cadence boundary producing an audio segment.
func (m *Metrics) RecordAudioSegment(bytes int64) {
	m.AudioSegmentsCut.Inc()
	m.AudioBytesCaptured.Add(float64(bytes))
}

// RecordEvent records a recognition event by kind ("interim" or "final").
func (m *Metrics) RecordEvent(kind string) {
	m.EventsReceived.WithLabelValues(kind).Inc()
}

// RecordQueueProcessed records one processed enrichment item.
func (m *Metrics) RecordQueueProcessed(queue string, err error, latencySeconds float64) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.QueueProcessed.WithLabelValues(queue, outcome).Inc()
	m.EnrichmentLatency.WithLabelValues(queue).Observe(latencySeconds)
}

// RecordUpload records one persistence write attempt.
func (m *Metrics) RecordUpload(kind string, err error, latencySeconds float64) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.UploadsTotal.WithLabelValues(kind, outcome).Inc()
	m.UploadLatency.Observe(latencySeconds)
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}
