package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/voicewire/speech-gateway/internal/chunker"
	"github.com/voicewire/speech-gateway/internal/config"
	"github.com/voicewire/speech-gateway/internal/observability"
	"github.com/voicewire/speech-gateway/internal/queue"
	"github.com/voicewire/speech-gateway/internal/responder"
	"github.com/voicewire/speech-gateway/internal/synth"
	"github.com/voicewire/speech-gateway/internal/text"
)

// State is a client's position in the conversation lifecycle.
type State string

const (
	StateIdle        State = "idle"
	StateProcessing  State = "processing"
	StatePlaying     State = "playing"
	StateInterrupted State = "interrupted"
)

// clientState tracks one connected client across conversation turns.
// Guarded by Orchestrator.mu.
type clientState struct {
	clientID       string
	turn           int
	conversationID string
	state          State
	cancel         context.CancelFunc
}

// Orchestrator glues the pipeline together: it pulls response tokens,
// drives the chunker, invokes synthesis per chunk, and feeds fragments
// to the queue manager. One registry entry per connected client; the
// conversation id for a turn is "<clientID>-<turn>".
type Orchestrator struct {
	config   *config.Config
	tokens   responder.TokenStreamer
	synth    synth.Synthesizer
	queues   *queue.Manager
	logger   zerolog.Logger
	chunkCfg chunker.Config

	mu      sync.Mutex
	clients map[string]*clientState
}

// New creates an orchestrator over the given upstream clients and queue
// manager.
func New(cfg *config.Config, tokens responder.TokenStreamer, synthesizer synth.Synthesizer, queues *queue.Manager, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		config: cfg,
		tokens: tokens,
		synth:  synthesizer,
		queues: queues,
		logger: logger.With().Str("component", "pipeline").Logger(),
		chunkCfg: chunker.Config{
			MinWords:            cfg.MinWordsPerChunk,
			MaxWords:            cfg.MaxWordsPerChunk,
			ConfidenceThreshold: cfg.ConfidenceThreshold,
		},
		clients: make(map[string]*clientState),
	}
}

// ProcessUtterance starts a new conversation turn for the client. If the
// previous turn is still playing, it is interrupted first (barge-in).
// Returns the new turn's conversation id; processing continues
// asynchronously.
func (o *Orchestrator) ProcessUtterance(ctx context.Context, clientID, utterance string, transport queue.Transport) (string, error) {
	if !text.IsSpeakable(utterance, 1) {
		return "", fmt.Errorf("utterance is empty or unspeakable")
	}

	o.mu.Lock()
	cs := o.clients[clientID]
	if cs == nil {
		cs = &clientState{clientID: clientID, state: StateIdle}
		o.clients[clientID] = cs
	}

	// Barge-in: new input while the previous turn is audible interrupts
	// it before any processing starts
	if cs.conversationID != "" && o.queues.IsPlaying(cs.conversationID) {
		o.queues.InterruptPlayback(cs.conversationID)
		cs.state = StateInterrupted
	}
	if cs.cancel != nil {
		cs.cancel()
	}
	if cs.conversationID != "" {
		o.queues.StopQueue(cs.conversationID)
	}

	cs.turn++
	conversationID := fmt.Sprintf("%s-%d", clientID, cs.turn)
	cs.conversationID = conversationID
	cs.state = StateProcessing

	turnCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	cs.cancel = cancel
	o.mu.Unlock()

	if !o.queues.StartQueue(conversationID, transport) {
		cancel()
		return "", fmt.Errorf("conversation %s already exists", conversationID)
	}

	logger := o.logger.With().Str("conversation_id", conversationID).Logger()
	logger.Info().Str("client_id", clientID).Msg("Processing utterance")

	go o.run(turnCtx, cs, conversationID, utterance, logger)

	return conversationID, nil
}

// run consumes the token stream for one turn and drives chunking and
// synthesis until the stream ends or the turn is cancelled.
func (o *Orchestrator) run(ctx context.Context, cs *clientState, conversationID, utterance string, logger zerolog.Logger) {
	metrics := observability.NewConversationMetrics(conversationID)
	defer metrics.RecordEnd()

	tokenCh, err := o.tokens.StreamResponse(ctx, &responder.GenerateRequest{
		ConversationID: conversationID,
		ClientID:       cs.clientID,
		Utterance:      utterance,
	})
	if err != nil {
		logger.Error().Err(err).Msg("Failed to open response stream")
		observability.RecordError("stream_open", "pipeline")
		o.setState(cs, conversationID, StateIdle)
		return
	}

	ch := chunker.New(o.chunkCfg, logger)
	fragmentSeq := 0
	firstToken := true

	for token := range tokenCh {
		if ctx.Err() != nil {
			return
		}
		if firstToken {
			metrics.RecordFirstToken()
			firstToken = false
		}

		if chunk := ch.AddToken(token.Text, token.ID, token.Timestamp); chunk != nil {
			o.speak(ctx, cs, conversationID, chunk, &fragmentSeq, metrics, logger)
		}
	}

	if ctx.Err() != nil {
		return
	}
	if chunk := ch.Finalize(time.Now()); chunk != nil {
		o.speak(ctx, cs, conversationID, chunk, &fragmentSeq, metrics, logger)
	}

	firstTokenAt, firstChunkAt, firstAudioAt := metrics.Milestones()
	logger.Info().
		Int("fragments", fragmentSeq).
		Dur("first_token", firstTokenAt).
		Dur("first_chunk", firstChunkAt).
		Dur("first_audio", firstAudioAt).
		Msg("Turn complete")

	// Delivery may still be running; the queue's idle teardown reclaims
	// the conversation once it drains
	if fragmentSeq == 0 {
		o.setState(cs, conversationID, StateIdle)
	}
}

// speak synthesizes one chunk and enqueues its fragments in order.
// Synthesis failure for one chunk is logged and skipped; later chunks
// continue.
func (o *Orchestrator) speak(ctx context.Context, cs *clientState, conversationID string, chunk *chunker.Chunk, fragmentSeq *int, metrics *observability.ConversationMetrics, logger zerolog.Logger) {
	metrics.RecordFirstChunk()

	// Validated at emission, checked again here so malformed text can
	// never reach a costly synthesis call
	if !text.IsSpeakable(chunk.Text, 1) {
		return
	}

	start := time.Now()
	fragCh, err := o.synth.Synthesize(ctx, synth.Request{Text: chunk.Text})
	if err != nil {
		logger.Error().
			Str("chunk", chunk.Text).
			Err(err).
			Msg("Synthesis failed, skipping chunk")
		observability.RecordError("synthesis", "pipeline")
		return
	}

	firstFragment := true
	for fragment := range fragCh {
		if ctx.Err() != nil {
			return
		}
		if firstFragment {
			o.queues.RecordSynthesisLatency(time.Since(start))
			metrics.RecordFirstAudio()
			firstFragment = false
		}

		o.queues.Enqueue(conversationID, &queue.Fragment{
			Samples:    fragment.Samples,
			SampleRate: fragment.SampleRate,
			Channels:   fragment.Channels,
			BitDepth:   fragment.BitDepth,
			Sequence:   *fragmentSeq,
			VoiceID:    fragment.Voice,
			SourceText: chunk.Text,
		})
		*fragmentSeq++

		o.setState(cs, conversationID, StatePlaying)
	}
}

// Interrupt stops playback for the client's current turn and cancels
// any in-flight processing. Returns the number of dropped fragments.
// Unknown clients are a no-op.
func (o *Orchestrator) Interrupt(clientID string) int {
	o.mu.Lock()
	cs := o.clients[clientID]
	if cs == nil || cs.conversationID == "" {
		o.mu.Unlock()
		return 0
	}
	conversationID := cs.conversationID
	cancel := cs.cancel
	cs.state = StateInterrupted
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return o.queues.InterruptPlayback(conversationID)
}

// Playing reports whether the client's current turn is delivering audio.
func (o *Orchestrator) Playing(clientID string) bool {
	o.mu.Lock()
	cs := o.clients[clientID]
	o.mu.Unlock()

	if cs == nil || cs.conversationID == "" {
		return false
	}
	return o.queues.IsPlaying(cs.conversationID)
}

// ClientState returns the client's lifecycle state. Playback is read
// live from the queue manager so the state reflects delivery progress.
func (o *Orchestrator) ClientState(clientID string) State {
	o.mu.Lock()
	cs := o.clients[clientID]
	o.mu.Unlock()

	if cs == nil {
		return StateIdle
	}
	if cs.conversationID != "" && o.queues.IsPlaying(cs.conversationID) {
		return StatePlaying
	}
	if cs.state == StatePlaying {
		// Delivery finished since the last transition
		return StateIdle
	}
	return cs.state
}

// ConversationStats returns queue stats for the client's current turn
// along with the lifecycle state. ok is false when the client has no
// live conversation.
func (o *Orchestrator) ConversationStats(clientID string) (queue.Stats, State, bool) {
	o.mu.Lock()
	cs := o.clients[clientID]
	o.mu.Unlock()

	if cs == nil || cs.conversationID == "" {
		return queue.Stats{}, StateIdle, false
	}

	stats, ok := o.queues.ConversationStats(cs.conversationID)
	if !ok {
		// Already reclaimed by idle teardown
		return queue.Stats{ConversationID: cs.conversationID}, o.ClientState(clientID), false
	}
	return stats, o.ClientState(clientID), true
}

// ReleaseClient tears down the client's current conversation and drops
// it from the registry. Called when the client disconnects.
func (o *Orchestrator) ReleaseClient(clientID string) {
	o.mu.Lock()
	cs := o.clients[clientID]
	if cs != nil {
		delete(o.clients, clientID)
	}
	o.mu.Unlock()

	if cs == nil {
		return
	}
	if cs.cancel != nil {
		cs.cancel()
	}
	if cs.conversationID != "" {
		o.queues.StopQueue(cs.conversationID)
	}

	o.logger.Debug().Str("client_id", clientID).Msg("Client released")
}

func (o *Orchestrator) setState(cs *clientState, conversationID string, state State) {
	o.mu.Lock()
	defer o.mu.Unlock()

	// A newer turn may have replaced this conversation already
	if cs.conversationID == conversationID {
		cs.state = state
	}
}
