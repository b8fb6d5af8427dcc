package responder

import (
	"context"
	"time"
)

// Token is one unit of the streamed response from the generator.
type Token struct {
	Text      string    `json:"text"`
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Done      bool      `json:"done"` // final marker, ends the stream
}

// GenerateRequest asks the response generator for a streamed reply to
// one user utterance.
type GenerateRequest struct {
	ConversationID string `json:"conversation_id"`
	ClientID       string `json:"client_id"`
	Utterance      string `json:"utterance"`
}

// TokenStreamer is the upstream token source: a lazy, per-utterance
// restartable stream of tokens that ends when the response completes.
type TokenStreamer interface {
	StreamResponse(ctx context.Context, req *GenerateRequest) (<-chan *Token, error)
	HealthCheck(ctx context.Context) (bool, error)
	Close() error
}
