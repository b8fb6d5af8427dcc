package chunker

import (
	"strings"
	"time"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/voicewire/speech-gateway/internal/observability"
	"github.com/voicewire/speech-gateway/internal/text"
)

// BoundaryType identifies what triggered a chunk boundary
type BoundaryType string

const (
	BoundaryWordCount   BoundaryType = "word_count"
	BoundaryPunctuation BoundaryType = "punctuation"
	BoundarySentenceEnd BoundaryType = "sentence_end"
	BoundaryEndOfStream BoundaryType = "end_of_stream"
)

// Chunk is a validated speakable span of text ready for synthesis
type Chunk struct {
	Text       string       `json:"text"`
	WordCount  int          `json:"word_count"`
	Boundary   BoundaryType `json:"boundary"`
	Confidence float64      `json:"confidence"`
	Sequence   int          `json:"sequence"`
	TokenIDs   []int64      `json:"token_ids"`
	Timestamp  time.Time    `json:"timestamp"`
}

// Config holds the chunking window and boundary threshold
type Config struct {
	MinWords            int     // minimum words per chunk
	MaxWords            int     // word count that forces a boundary
	ConfidenceThreshold float64 // boundaries below this are ignored
}

// DefaultConfig returns the default 2-5 word window. The defaults were
// tuned empirically and are a starting configuration, not a hard rule.
func DefaultConfig() Config {
	return Config{
		MinWords:            2,
		MaxWords:            5,
		ConfidenceThreshold: 0.5,
	}
}

// Chunker accumulates response tokens for one utterance and emits
// validated text chunks at semantic boundaries. Not safe for concurrent
// use; each conversation turn owns its own Chunker.
type Chunker struct {
	config  Config
	logger  zerolog.Logger
	buffer  string
	pending []int64
	seq     int
}

// New creates a chunker for a single utterance
func New(config Config, logger zerolog.Logger) *Chunker {
	return &Chunker{
		config: config,
		logger: logger,
	}
}

// AddToken appends a token to the buffer and returns a chunk if a
// boundary was crossed, nil otherwise. Returned chunks are cleaned and
// guaranteed speakable; degenerate buffers are dropped silently.
func (c *Chunker) AddToken(tokenText string, id int64, timestamp time.Time) *Chunk {
	c.buffer += tokenText
	c.pending = append(c.pending, id)

	boundary, confidence, found := c.detectBoundary()
	if !found || confidence < c.config.ConfidenceThreshold {
		return nil
	}

	// Terminal chunks aside, never emit below the minimum window
	if boundary != BoundaryEndOfStream && countWords(c.buffer) < c.config.MinWords {
		return nil
	}

	return c.emit(boundary, confidence, timestamp)
}

// Finalize flushes any remaining buffered text at stream end as a
// terminal chunk, exempt from the minimum-word gate.
func (c *Chunker) Finalize(timestamp time.Time) *Chunk {
	if strings.TrimSpace(c.buffer) == "" {
		c.reset()
		return nil
	}
	return c.emit(BoundaryEndOfStream, 1.0, timestamp)
}

// Reset discards buffered state so the chunker can be reused for a new
// utterance. The sequence counter keeps advancing.
func (c *Chunker) Reset() {
	c.reset()
}

// Buffered returns the text accumulated since the last emitted chunk.
func (c *Chunker) Buffered() string {
	return c.buffer
}

// detectBoundary evaluates the buffer in priority order: sentence-ending
// punctuation first, then the word-count ceiling.
func (c *Chunker) detectBoundary() (BoundaryType, float64, bool) {
	trimmed := strings.TrimRightFunc(c.buffer, unicode.IsSpace)
	if trimmed == "" {
		return "", 0, false
	}

	if isSentenceTerminator(rune(trimmed[len(trimmed)-1])) {
		return BoundarySentenceEnd, 0.95, true
	}

	for i, r := range c.buffer {
		if isSentenceTerminator(r) && i+1 < len(c.buffer) && unicode.IsSpace(rune(c.buffer[i+1])) {
			return BoundaryPunctuation, 0.85, true
		}
	}

	if countWords(c.buffer) >= c.config.MaxWords {
		return BoundaryWordCount, 0.6, true
	}

	return "", 0, false
}

func (c *Chunker) emit(boundary BoundaryType, confidence float64, timestamp time.Time) *Chunk {
	cleaned := text.Clean(c.buffer)

	if !text.IsSpeakable(cleaned, 1) {
		c.logger.Debug().
			Str("buffer", c.buffer).
			Str("boundary", string(boundary)).
			Msg("Dropping unspeakable chunk")
		observability.RecordChunkDropped()
		c.reset()
		return nil
	}

	chunk := &Chunk{
		Text:       cleaned,
		WordCount:  countWords(cleaned),
		Boundary:   boundary,
		Confidence: confidence,
		Sequence:   c.seq,
		TokenIDs:   c.pending,
		Timestamp:  timestamp,
	}
	c.seq++
	observability.RecordChunkEmitted(string(boundary))

	c.buffer = ""
	c.pending = nil
	return chunk
}

func (c *Chunker) reset() {
	c.buffer = ""
	c.pending = nil
}

func isSentenceTerminator(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

func countWords(s string) int {
	return len(strings.Fields(s))
}
