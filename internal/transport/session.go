package transport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/voicewire/speech-gateway/internal/audio"
	"github.com/voicewire/speech-gateway/internal/config"
	"github.com/voicewire/speech-gateway/internal/observability"
	"github.com/voicewire/speech-gateway/internal/pipeline"
	"github.com/voicewire/speech-gateway/internal/queue"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// In production, validate origin against an allowlist
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// Handler upgrades websocket connections and runs one Session per client.
type Handler struct {
	config       *config.Config
	orchestrator *pipeline.Orchestrator
	logger       zerolog.Logger
}

// NewHandler creates the websocket stream handler.
func NewHandler(cfg *config.Config, orchestrator *pipeline.Orchestrator, logger zerolog.Logger) *Handler {
	return &Handler{
		config:       cfg,
		orchestrator: orchestrator,
		logger:       logger.With().Str("component", "transport").Logger(),
	}
}

// HandleStream is the HTTP handler for the /stream endpoint.
func (h *Handler) HandleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Websocket upgrade failed")
		return
	}

	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		clientID = uuid.New().String()
	}

	session := &Session{
		conn:         conn,
		clientID:     clientID,
		orchestrator: h.orchestrator,
		audioBuffer:  audio.NewRingBuffer(h.config.AudioBufferSize),
		detector: audio.NewSpeechDetector(&audio.DetectorConfig{
			EnergyThreshold:       h.config.SpeechEnergyThreshold,
			EchoSuppressionFactor: h.config.EchoSuppressionFactor,
			SpeechFrames:          3,
			FrameSize:             h.config.DetectorFrameSize,
		}),
		logger: h.logger.With().
			Str("client_id", clientID).
			Str("correlation_id", observability.NewCorrelationID()).
			Logger(),
	}

	session.logger.Info().Msg("Client connected")
	session.run(r.Context())
}

// Session is one client's websocket connection. It feeds utterances and
// caller audio into the pipeline and implements queue.Transport for the
// outbound direction. Writes are serialized by writeMu; the websocket
// allows only one concurrent writer.
type Session struct {
	conn         *websocket.Conn
	clientID     string
	orchestrator *pipeline.Orchestrator
	audioBuffer  *audio.RingBuffer
	detector     *audio.SpeechDetector
	logger       zerolog.Logger

	writeMu sync.Mutex
}

// SendFragment delivers a framed audio fragment to the client.
func (s *Session) SendFragment(msg *queue.FragmentMessage) error {
	return s.writeJSON(msg)
}

// SendInterrupted delivers a playback-interrupted notice to the client.
func (s *Session) SendInterrupted(msg *queue.InterruptedMessage) error {
	return s.writeJSON(msg)
}

func (s *Session) writeJSON(v interface{}) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(v)
}

// run reads client messages until the connection closes, then releases
// the client's pipeline state.
func (s *Session) run(ctx context.Context) {
	defer func() {
		s.orchestrator.ReleaseClient(s.clientID)
		s.conn.Close()
		s.logger.Info().Msg("Client disconnected")
	}()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn().Err(err).Msg("Websocket read failed")
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Debug().Err(err).Msg("Ignoring malformed message")
			continue
		}

		switch msg.Type {
		case MessageTypeUtterance:
			s.handleUtterance(ctx, msg.Text)
		case MessageTypeAudio:
			s.handleAudio(msg.Audio)
		case MessageTypeInterrupt:
			dropped := s.orchestrator.Interrupt(s.clientID)
			s.logger.Info().Int("dropped", dropped).Msg("Client requested interrupt")
			s.detector.Reset()
		case MessageTypePing:
			s.writeJSON(&pongMessage{Type: MessageTypePong})
		case MessageTypeStatus:
			stats, state, _ := s.orchestrator.ConversationStats(s.clientID)
			s.writeJSON(&statusMessage{
				Type:           MessageTypeStatus,
				ConversationID: stats.ConversationID,
				State:          string(state),
				QueueDepth:     stats.QueueDepth,
				Playing:        stats.Playing,
				Delivered:      stats.Delivered,
				Dropped:        stats.Dropped,
			})
		default:
			s.logger.Debug().Str("type", msg.Type).Msg("Unknown message type")
		}
	}
}

func (s *Session) handleUtterance(ctx context.Context, utterance string) {
	conversationID, err := s.orchestrator.ProcessUtterance(ctx, s.clientID, utterance, s)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Rejected utterance")
		s.writeJSON(&errorMessage{Type: MessageTypeError, Message: err.Error()})
		return
	}

	s.detector.Reset()
	s.writeJSON(&startedMessage{Type: MessageTypeStarted, ConversationID: conversationID})
}

// handleAudio buffers caller audio and runs barge-in detection. While a
// response is playing, sustained caller speech interrupts it.
func (s *Session) handleAudio(encoded string) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		s.logger.Debug().Err(err).Msg("Ignoring undecodable audio payload")
		return
	}

	observability.RecordAudioBytes("in", int64(len(data)))
	s.audioBuffer.Write(data)

	playing := s.orchestrator.Playing(s.clientID)
	for {
		frame := s.audioBuffer.ReadFrame(s.detector.FrameSize())
		if frame == nil {
			return
		}

		if s.detector.Detect(frame, playing) && playing {
			dropped := s.orchestrator.Interrupt(s.clientID)
			s.logger.Info().Int("dropped", dropped).Msg("Barge-in detected, playback interrupted")
			s.detector.Reset()
			s.audioBuffer.Clear()
			return
		}
	}
}
