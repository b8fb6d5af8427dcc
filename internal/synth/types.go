package synth

import (
	"context"
)

// Fragment is one unit of synthesized audio streamed back for a chunk
type Fragment struct {
	Samples    []byte // raw PCM sample bytes, little-endian
	SampleRate int
	Channels   int
	BitDepth   int
	Voice      string // voice actually used by the synthesizer
	Index      int    // fragment index within this synthesis call
}

// Request describes one synthesis call for a validated text chunk
type Request struct {
	Text  string
	Voice string  // empty means the configured default
	Speed float64 // 0 means the configured default
}

// Synthesizer converts validated text into a stream of audio fragments.
// A call may yield zero fragments; consumers must tolerate that.
type Synthesizer interface {
	// Synthesize starts a synthesis call and returns a channel of
	// fragments, closed when the stream ends
	Synthesize(ctx context.Context, req Request) (<-chan *Fragment, error)

	// HealthCheck probes the synthesis endpoint
	HealthCheck(ctx context.Context) (bool, error)

	// Close releases client resources
	Close() error
}
