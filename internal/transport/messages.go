package transport

// Incoming message types from the client.
const (
	MessageTypeUtterance = "utterance"
	MessageTypeAudio     = "audio"
	MessageTypeInterrupt = "interrupt"
	MessageTypePing      = "ping"
	MessageTypeStatus    = "status"
)

// Outgoing message types not owned by the queue package.
const (
	MessageTypePong    = "pong"
	MessageTypeStarted = "processing_started"
	MessageTypeError   = "error"
)

// clientMessage is the envelope for messages read from the websocket.
type clientMessage struct {
	Type  string `json:"type"`
	Text  string `json:"text,omitempty"`  // utterance text
	Audio string `json:"audio,omitempty"` // base64 little-endian 16-bit PCM
}

// pongMessage answers a client ping.
type pongMessage struct {
	Type string `json:"type"`
}

// startedMessage acknowledges an utterance with its conversation id.
type startedMessage struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
}

// errorMessage reports a client-visible failure.
type errorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// statusMessage answers a status query with the current turn's queue
// snapshot and lifecycle state.
type statusMessage struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id,omitempty"`
	State          string `json:"state"`
	QueueDepth     int    `json:"queue_depth"`
	Playing        bool   `json:"playing"`
	Delivered      int    `json:"delivered"`
	Dropped        int    `json:"dropped"`
}
