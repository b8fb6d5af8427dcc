package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Conversation metrics
	activeConversations = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "speech_gateway_active_conversations",
		Help: "Number of conversations with a live audio queue",
	})

	conversationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "speech_gateway_conversations_total",
		Help: "Total number of conversation turns processed",
	})

	// Chunking metrics
	chunksEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speech_gateway_chunks_emitted_total",
		Help: "Total number of text chunks emitted by the semantic chunker",
	}, []string{"boundary"})

	chunksDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "speech_gateway_chunks_dropped_total",
		Help: "Total number of chunks dropped as unspeakable at emission",
	})

	// Delivery metrics
	fragmentsDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "speech_gateway_fragments_delivered_total",
		Help: "Total number of audio fragments delivered to clients",
	})

	fragmentsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "speech_gateway_fragments_dropped_total",
		Help: "Total number of queued fragments drained by interrupts",
	})

	interruptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "speech_gateway_interrupts_total",
		Help: "Total number of playback interruptions",
	})

	queueWaitLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "speech_gateway_queue_wait_seconds",
		Help:    "Time a fragment spends queued before delivery",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1.0},
	})

	// Latency milestone metrics
	firstChunkLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "speech_gateway_first_chunk_latency_seconds",
		Help:    "Latency from utterance start to first emitted text chunk",
		Buckets: []float64{0.05, 0.1, 0.2, 0.4, 0.8, 1.6, 3.2},
	})

	firstAudioLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "speech_gateway_first_audio_latency_seconds",
		Help:    "Latency from utterance start to first enqueued audio fragment",
		Buckets: []float64{0.05, 0.1, 0.2, 0.4, 0.8, 1.6, 3.2},
	})

	// Synthesis metrics
	synthesisRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speech_gateway_synthesis_requests_total",
		Help: "Total number of synthesis requests",
	}, []string{"status"})

	synthesisLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "speech_gateway_synthesis_latency_seconds",
		Help:    "Synthesis latency per chunk in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	})

	// Responder metrics
	responderRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speech_gateway_responder_requests_total",
		Help: "Total number of responder stream requests",
	}, []string{"status"})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speech_gateway_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "speech_gateway_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speech_gateway_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})

	// Audio metrics
	audioBytesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speech_gateway_audio_bytes_total",
		Help: "Total audio bytes processed",
	}, []string{"direction"}) // direction: "in" or "out"
)

// RecordChunkEmitted records an emitted chunk by boundary type
func RecordChunkEmitted(boundary string) {
	chunksEmitted.WithLabelValues(boundary).Inc()
}

// RecordChunkDropped records a chunk dropped at emission validation
func RecordChunkDropped() {
	chunksDropped.Inc()
}

// RecordFragmentDelivered records one delivered fragment and its queue wait
func RecordFragmentDelivered(queueWait time.Duration) {
	fragmentsDelivered.Inc()
	queueWaitLatency.Observe(queueWait.Seconds())
}

// RecordInterrupt records an interrupt and the number of fragments it drained
func RecordInterrupt(dropped int) {
	interruptsTotal.Inc()
	fragmentsDropped.Add(float64(dropped))
}

// RecordSynthesis records the outcome and latency of one synthesis call
func RecordSynthesis(success bool, latency time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}
	synthesisRequests.WithLabelValues(status).Inc()
	if success {
		synthesisLatency.Observe(latency.Seconds())
	}
}

// RecordResponderRequest records the outcome of a responder stream request
func RecordResponderRequest(success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	responderRequests.WithLabelValues(status).Inc()
}

// RecordError records an error by type and component
func RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordAudioBytes records audio bytes processed
func RecordAudioBytes(direction string, bytes int64) {
	audioBytesProcessed.WithLabelValues(direction).Add(float64(bytes))
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}

// ConversationMetrics tracks latency milestones for a single conversation turn
type ConversationMetrics struct {
	conversationID string
	utteranceStart time.Time
	firstTokenAt   time.Time
	firstChunkAt   time.Time
	firstAudioAt   time.Time
	mu             sync.Mutex
}

// NewConversationMetrics creates a milestone tracker for a conversation turn
func NewConversationMetrics(conversationID string) *ConversationMetrics {
	activeConversations.Inc()
	conversationsTotal.Inc()
	return &ConversationMetrics{
		conversationID: conversationID,
		utteranceStart: time.Now(),
	}
}

// RecordFirstToken records arrival of the first response token
func (m *ConversationMetrics) RecordFirstToken() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.firstTokenAt.IsZero() {
		m.firstTokenAt = time.Now()
	}
}

// RecordFirstChunk records emission of the first text chunk
func (m *ConversationMetrics) RecordFirstChunk() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.firstChunkAt.IsZero() {
		m.firstChunkAt = time.Now()
		firstChunkLatency.Observe(m.firstChunkAt.Sub(m.utteranceStart).Seconds())
	}
}

// RecordFirstAudio records the first enqueued audio fragment
func (m *ConversationMetrics) RecordFirstAudio() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.firstAudioAt.IsZero() {
		m.firstAudioAt = time.Now()
		firstAudioLatency.Observe(m.firstAudioAt.Sub(m.utteranceStart).Seconds())
	}
}

// RecordEnd marks the conversation turn as finished
func (m *ConversationMetrics) RecordEnd() {
	activeConversations.Dec()
}

// Milestones returns elapsed times from utterance start to each milestone.
// A zero duration means the milestone was never reached.
func (m *ConversationMetrics) Milestones() (firstToken, firstChunk, firstAudio time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.firstTokenAt.IsZero() {
		firstToken = m.firstTokenAt.Sub(m.utteranceStart)
	}
	if !m.firstChunkAt.IsZero() {
		firstChunk = m.firstChunkAt.Sub(m.utteranceStart)
	}
	if !m.firstAudioAt.IsZero() {
		firstAudio = m.firstAudioAt.Sub(m.utteranceStart)
	}
	return
}
