package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains all Prometheus metrics for the session pipeline. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Capture metrics
	FramesDropped      prometheus.Counter
	ChunksPersisted    prometheus.Counter
	ChunkWriteFailures prometheus.Counter
	SessionTransitions *prometheus.CounterVec

	// Transcription metrics
	TranscriptionAttempts *prometheus.CounterVec
	TranscriptionDuration prometheus.Histogram
	Segments              *prometheus.CounterVec

	// Extraction metrics
	LLMCalls            *prometheus.CounterVec
	ExtractionDuration  prometheus.Histogram
	ActionItems         prometheus.Counter
	IntegrationFailures *prometheus.CounterVec
}

// New creates all metrics on a private registry, alongside the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		FramesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "nudge_frames_dropped_total",
			Help: "Frames dropped because the capture queue was full",
		}),
		ChunksPersisted: factory.NewCounter(prometheus.CounterOpts{
			Name: "nudge_chunks_persisted_total",
			Help: "Chunks durably written to disk",
		}),
		ChunkWriteFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "nudge_chunk_write_failures_total",
			Help: "Chunk write attempts that failed",
		}),
		SessionTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "nudge_session_transitions_total",
			Help: "Persisted session state transitions by target state",
		}, []string{"to"}),

		TranscriptionAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "nudge_transcription_attempts_total",
			Help: "Transcription collaborator calls by result",
		}, []string{"result"}),
		TranscriptionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "nudge_transcription_duration_seconds",
			Help:    "Time spent in one transcription call",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10), // 250ms to ~2 minutes
		}),
		Segments: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "nudge_segments_total",
			Help: "Transcript segments recorded by status",
		}, []string{"status"}),

		LLMCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "nudge_llm_calls_total",
			Help: "LLM collaborator calls by result",
		}, []string{"result"}),
		ExtractionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "nudge_extraction_duration_seconds",
			Help:    "Time spent extracting action items from one session",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s to ~17 minutes
		}),
		ActionItems: factory.NewCounter(prometheus.CounterOpts{
			Name: "nudge_action_items_total",
			Help: "Action items that survived merging and filtering",
		}),
		IntegrationFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "nudge_integration_failures_total",
			Help: "Reminder and document-writer failures",
		}, []string{"collaborator"}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
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

func (m *Metrics) FrameDropped() {
	if m != nil {
		m.FramesDropped.Inc()
	}
}

func (m *Metrics) ChunkPersisted() {
	if m != nil {
		m.ChunksPersisted.Inc()
	}
}

func (m *Metrics) ChunkWriteFailed() {
	if m != nil {
		m.ChunkWriteFailures.Inc()
	}
}

func (m *Metrics) Transition(to string) {
	if m != nil {
		m.SessionTransitions.WithLabelValues(to).Inc()
	}
}

// TranscriptionAttempt records one call and how long it took.
func (m *Metrics) TranscriptionAttempt(ok bool, took time.Duration) {
	if m == nil {
		return
	}
	m.TranscriptionAttempts.WithLabelValues(result(ok)).Inc()
	m.TranscriptionDuration.Observe(took.Seconds())
}

func (m *Metrics) Segment(status string) {
	if m != nil {
		m.Segments.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) LLMCall(ok bool) {
	if m != nil {
		m.LLMCalls.WithLabelValues(result(ok)).Inc()
	}
}

// Extraction records one finished extraction run.
func (m *Metrics) Extraction(took time.Duration, items int) {
	if m == nil {
		return
	}
	m.ExtractionDuration.Observe(took.Seconds())
	m.ActionItems.Add(float64(items))
}

func (m *Metrics) IntegrationFailed(collaborator string) {
	if m != nil {
		m.IntegrationFailures.WithLabelValues(collaborator).Inc()
	}
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
