package queue

import (
	"time"
)

// Fragment is one synthesized audio unit for one text chunk. A fragment
// is exclusively owned by its conversation's queue from enqueue until it
// is either delivered or dropped by an interrupt.
type Fragment struct {
	Samples    []byte
	SampleRate int
	Channels   int
	BitDepth   int
	Sequence   int
	VoiceID    string
	SourceText string

	enqueuedAt time.Time
}

// FragmentMessage is the outbound audio-fragment message. Audio carries
// the framed bytes, self-describing via the embedded header.
type FragmentMessage struct {
	Type           string `json:"type"` // always "audio_fragment"
	ConversationID string `json:"conversation_id"`
	Sequence       int    `json:"sequence"`
	Voice          string `json:"voice"`
	SourceText     string `json:"source_text"`
	ByteSize       int    `json:"byte_size"`
	Format         string `json:"format"`
	Audio          []byte `json:"audio"`
}

// InterruptedMessage is the outbound playback-interrupted notice.
type InterruptedMessage struct {
	Type           string    `json:"type"` // always "playback_interrupted"
	ConversationID string    `json:"conversation_id"`
	DroppedCount   int       `json:"dropped_count"`
	Timestamp      time.Time `json:"timestamp"`
}

// Message type tags used on the wire.
const (
	MessageTypeFragment    = "audio_fragment"
	MessageTypeInterrupted = "playback_interrupted"
)

// Transport delivers outbound messages for one conversation. It is
// write-only and externally owned; implementations must tolerate
// concurrent calls.
type Transport interface {
	SendFragment(msg *FragmentMessage) error
	SendInterrupted(msg *InterruptedMessage) error
}
