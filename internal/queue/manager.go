package queue

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/voicewire/speech-gateway/internal/audio"
	"github.com/voicewire/speech-gateway/internal/observability"
)

// Config holds queue manager tuning.
type Config struct {
	IdleTimeout   time.Duration // base teardown window for inactive conversations
	DeliveryYield time.Duration // pause between fragments for interrupt observability
}

// DefaultConfig returns the default manager tuning.
func DefaultConfig() Config {
	return Config{
		IdleTimeout:   2 * time.Second,
		DeliveryYield: 5 * time.Millisecond,
	}
}

// conversation is the per-conversation queue state. All mutable fields
// are guarded by mu; lock order is always Manager.mu before conversation.mu.
type conversation struct {
	id        string
	transport Transport

	mu            sync.Mutex
	queue         []*Fragment
	playing       bool
	workerRunning bool
	lastActivity  time.Time
	lastVoice     string
	delivered     int
	dropped       int

	ctx    context.Context
	cancel context.CancelFunc
}

// Manager owns one ordered fragment queue and one delivery worker per
// active conversation. Enqueue, worker dequeue, and interrupt drain are
// mutually exclusive on queue contents, so a fragment is never both
// delivered and reported dropped.
type Manager struct {
	config Config
	logger zerolog.Logger

	mu            sync.RWMutex
	conversations map[string]*conversation

	latencyMu        sync.Mutex
	synthLatencyEWMA time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a queue manager and starts its idle janitor.
func NewManager(config Config, logger zerolog.Logger) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		config:        config,
		logger:        logger,
		conversations: make(map[string]*conversation),
		ctx:           ctx,
		cancel:        cancel,
	}

	m.wg.Add(1)
	go m.janitor()

	return m
}

// StartQueue registers a conversation with its transport. Idempotent:
// returns false if the conversation already exists.
func (m *Manager) StartQueue(conversationID string, transport Transport) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.conversations[conversationID]; exists {
		return false
	}

	ctx, cancel := context.WithCancel(m.ctx)
	m.conversations[conversationID] = &conversation{
		id:           conversationID,
		transport:    transport,
		lastActivity: time.Now(),
		ctx:          ctx,
		cancel:       cancel,
	}

	m.logger.Debug().Str("conversation_id", conversationID).Msg("Queue started")
	return true
}

// StopQueue cancels the conversation's worker and releases its state.
// Safe to call repeatedly or for unknown ids.
func (m *Manager) StopQueue(conversationID string) {
	m.mu.Lock()
	conv, exists := m.conversations[conversationID]
	if exists {
		delete(m.conversations, conversationID)
	}
	m.mu.Unlock()

	if !exists {
		return
	}

	conv.cancel()

	conv.mu.Lock()
	conv.queue = nil
	conv.playing = false
	conv.mu.Unlock()

	m.logger.Debug().Str("conversation_id", conversationID).Msg("Queue stopped")
}

// Enqueue appends a fragment to the conversation's FIFO and starts a
// delivery worker if none is running. Unknown conversation ids are a
// safe no-op.
func (m *Manager) Enqueue(conversationID string, fragment *Fragment) {
	m.mu.RLock()
	conv := m.conversations[conversationID]
	m.mu.RUnlock()

	if conv == nil {
		m.logger.Debug().Str("conversation_id", conversationID).Msg("Enqueue for unknown conversation, ignoring")
		return
	}

	conv.mu.Lock()
	defer conv.mu.Unlock()

	if conv.lastVoice != "" && fragment.VoiceID != conv.lastVoice {
		m.logger.Warn().
			Str("conversation_id", conversationID).
			Str("previous_voice", conv.lastVoice).
			Str("voice", fragment.VoiceID).
			Msg("Voice changed mid-conversation")
	}
	conv.lastVoice = fragment.VoiceID

	fragment.enqueuedAt = time.Now()
	conv.queue = append(conv.queue, fragment)
	conv.lastActivity = fragment.enqueuedAt

	if !conv.workerRunning {
		conv.workerRunning = true
		m.wg.Add(1)
		go m.deliver(conv)
	}
}

// InterruptPlayback atomically drains the conversation's undelivered
// fragments, notifies the client best-effort, and clears playback state.
// Returns the number of fragments dropped. Unknown ids are a no-op.
//
// Because delivery sends happen under the conversation lock, no fragment
// queued before this call is ever delivered after it returns.
func (m *Manager) InterruptPlayback(conversationID string) int {
	m.mu.RLock()
	conv := m.conversations[conversationID]
	m.mu.RUnlock()

	if conv == nil {
		return 0
	}

	conv.mu.Lock()
	dropped := len(conv.queue)
	conv.queue = nil
	conv.playing = false
	conv.dropped += dropped

	err := conv.transport.SendInterrupted(&InterruptedMessage{
		Type:           MessageTypeInterrupted,
		ConversationID: conversationID,
		DroppedCount:   dropped,
		Timestamp:      time.Now(),
	})
	conv.lastActivity = time.Now()
	conv.mu.Unlock()

	if err != nil {
		// Local interrupt effect is unconditional; the notice is best-effort
		m.logger.Warn().
			Str("conversation_id", conversationID).
			Err(err).
			Msg("Failed to send interruption notice")
		observability.RecordError("transport_write", "queue")
	}

	observability.RecordInterrupt(dropped)
	m.logger.Info().
		Str("conversation_id", conversationID).
		Int("dropped", dropped).
		Msg("Playback interrupted")

	return dropped
}

// IsPlaying reports whether the conversation is currently delivering audio.
func (m *Manager) IsPlaying(conversationID string) bool {
	m.mu.RLock()
	conv := m.conversations[conversationID]
	m.mu.RUnlock()

	if conv == nil {
		return false
	}

	conv.mu.Lock()
	defer conv.mu.Unlock()
	return conv.playing
}

// QueueDepth returns the number of queued-undelivered fragments, or 0
// for unknown conversations.
func (m *Manager) QueueDepth(conversationID string) int {
	m.mu.RLock()
	conv := m.conversations[conversationID]
	m.mu.RUnlock()

	if conv == nil {
		return 0
	}

	conv.mu.Lock()
	defer conv.mu.Unlock()
	return len(conv.queue)
}

// Stats is a point-in-time snapshot of one conversation's queue.
type Stats struct {
	ConversationID string `json:"conversation_id"`
	QueueDepth     int    `json:"queue_depth"`
	Playing        bool   `json:"playing"`
	Delivered      int    `json:"delivered"`
	Dropped        int    `json:"dropped"`
}

// ConversationStats returns a snapshot of the conversation's queue, or
// false for unknown ids.
func (m *Manager) ConversationStats(conversationID string) (Stats, bool) {
	m.mu.RLock()
	conv := m.conversations[conversationID]
	m.mu.RUnlock()

	if conv == nil {
		return Stats{}, false
	}

	conv.mu.Lock()
	defer conv.mu.Unlock()
	return Stats{
		ConversationID: conversationID,
		QueueDepth:     len(conv.queue),
		Playing:        conv.playing,
		Delivered:      conv.delivered,
		Dropped:        conv.dropped,
	}, true
}

// ActiveConversations returns the number of registered conversations.
func (m *Manager) ActiveConversations() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conversations)
}

// RecordSynthesisLatency feeds recent synthesis latency into the idle
// window so slow upstreams don't get conversations torn down between
// chunks.
func (m *Manager) RecordSynthesisLatency(latency time.Duration) {
	m.latencyMu.Lock()
	defer m.latencyMu.Unlock()

	if m.synthLatencyEWMA == 0 {
		m.synthLatencyEWMA = latency
		return
	}
	m.synthLatencyEWMA = time.Duration(0.8*float64(m.synthLatencyEWMA) + 0.2*float64(latency))
}

// Close stops the janitor and all conversation workers.
func (m *Manager) Close() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.conversations))
	for id := range m.conversations {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.StopQueue(id)
	}

	m.cancel()
	m.wg.Wait()
}

// deliver is the per-conversation delivery worker. It runs while the
// queue is non-empty, framing and sending one fragment at a time, and
// exits when the queue drains or a send fails. The send happens under
// the conversation lock so an interrupt can never interleave with a
// fragment-boundary delivery.
func (m *Manager) deliver(conv *conversation) {
	defer m.wg.Done()

	for {
		select {
		case <-conv.ctx.Done():
			conv.mu.Lock()
			conv.workerRunning = false
			conv.playing = false
			conv.mu.Unlock()
			return
		default:
		}

		conv.mu.Lock()

		if len(conv.queue) == 0 {
			conv.playing = false
			conv.workerRunning = false
			conv.mu.Unlock()
			return
		}

		fragment := conv.queue[0]
		conv.queue = conv.queue[1:]
		conv.playing = true
		conv.lastActivity = time.Now()

		framed := audio.FrameWAV(fragment.Samples, fragment.SampleRate, fragment.Channels, fragment.BitDepth)
		err := conv.transport.SendFragment(&FragmentMessage{
			Type:           MessageTypeFragment,
			ConversationID: conv.id,
			Sequence:       fragment.Sequence,
			Voice:          fragment.VoiceID,
			SourceText:     fragment.SourceText,
			ByteSize:       len(framed),
			Format:         "wav",
			Audio:          framed,
		})

		if err != nil {
			// Stop this conversation's worker only; others are unaffected
			conv.workerRunning = false
			conv.playing = false
			conv.mu.Unlock()

			m.logger.Error().
				Str("conversation_id", conv.id).
				Int("sequence", fragment.Sequence).
				Err(err).
				Msg("Fragment delivery failed, stopping worker")
			observability.RecordError("transport_write", "queue")
			return
		}

		conv.delivered++
		queueWait := time.Since(fragment.enqueuedAt)
		conv.mu.Unlock()

		observability.RecordFragmentDelivered(queueWait)
		observability.RecordAudioBytes("out", int64(len(framed)))

		// Brief yield between fragments for fairness and so interrupts
		// are observed promptly
		select {
		case <-conv.ctx.Done():
			conv.mu.Lock()
			conv.workerRunning = false
			conv.playing = false
			conv.mu.Unlock()
			return
		case <-time.After(m.config.DeliveryYield):
		}
	}
}

// janitor tears down conversations idle beyond the configured window.
// The window stretches with recent synthesis latency so slow upstreams
// don't cause premature teardown mid-response.
func (m *Manager) janitor() {
	defer m.wg.Done()

	interval := m.config.IdleTimeout / 4
	if interval < 50*time.Millisecond {
		interval = 50 * time.Millisecond
	}
	if interval > 500*time.Millisecond {
		interval = 500 * time.Millisecond
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.reapIdle()
		}
	}
}

func (m *Manager) reapIdle() {
	window := m.config.IdleTimeout

	m.latencyMu.Lock()
	if m.synthLatencyEWMA > window/4 {
		window += 2 * m.synthLatencyEWMA
	}
	m.latencyMu.Unlock()

	m.mu.RLock()
	var stale []string
	for id, conv := range m.conversations {
		conv.mu.Lock()
		idle := time.Since(conv.lastActivity)
		busy := conv.playing || len(conv.queue) > 0
		conv.mu.Unlock()

		if !busy && idle > window {
			stale = append(stale, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range stale {
		m.logger.Debug().Str("conversation_id", id).Msg("Tearing down idle conversation")
		m.StopQueue(id)
	}
}
