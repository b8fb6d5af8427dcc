package chunker

import (
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestChunker(config Config) *Chunker {
	return New(config, zerolog.Nop())
}

func feedTokens(c *Chunker, tokens []string) []*Chunk {
	var chunks []*Chunk
	for i, tok := range tokens {
		if chunk := c.AddToken(tok, int64(i), time.Now()); chunk != nil {
			chunks = append(chunks, chunk)
		}
	}
	if chunk := c.Finalize(time.Now()); chunk != nil {
		chunks = append(chunks, chunk)
	}
	return chunks
}

func TestChunker_StreamingScenario(t *testing.T) {
	tokens := []string{"Hello", "!", " Yes", ",", " I", " can", " hear", " you"}
	c := newTestChunker(DefaultConfig())

	chunks := feedTokens(c, tokens)

	if len(chunks) != 2 {
		t.Fatalf("Expected 2 chunks, got %d: %+v", len(chunks), chunks)
	}
	if chunks[0].Text != "Hello! Yes" {
		t.Errorf("Expected first chunk 'Hello! Yes', got %q", chunks[0].Text)
	}
	if chunks[1].Text != ", I can hear you" {
		t.Errorf("Expected second chunk ', I can hear you', got %q", chunks[1].Text)
	}

	// Concatenated chunks reconstruct the source without loss
	source := strings.Join(tokens, "")
	joined := chunks[0].Text + chunks[1].Text
	if joined != source {
		t.Errorf("Expected lossless reconstruction %q, got %q", source, joined)
	}

	// No chunk below the minimum window except a terminal one
	for _, chunk := range chunks {
		if chunk.WordCount < 2 && chunk.Boundary != BoundaryEndOfStream {
			t.Errorf("Chunk %q has %d words below minimum", chunk.Text, chunk.WordCount)
		}
	}
}

func TestChunker_SentenceEndBoundary(t *testing.T) {
	c := newTestChunker(DefaultConfig())

	if chunk := c.AddToken("Hi", 0, time.Now()); chunk != nil {
		t.Fatalf("Expected no chunk yet, got %q", chunk.Text)
	}
	chunk := c.AddToken(" there.", 1, time.Now())
	if chunk == nil {
		t.Fatal("Expected sentence-end chunk")
	}
	if chunk.Text != "Hi there." {
		t.Errorf("Expected 'Hi there.', got %q", chunk.Text)
	}
	if chunk.Boundary != BoundarySentenceEnd {
		t.Errorf("Expected sentence_end boundary, got %s", chunk.Boundary)
	}
	if chunk.Confidence < 0.9 {
		t.Errorf("Expected high confidence, got %f", chunk.Confidence)
	}
}

func TestChunker_MinWordGate(t *testing.T) {
	c := newTestChunker(DefaultConfig())

	// A one-word sentence is held despite the terminator
	if chunk := c.AddToken("Hi!", 0, time.Now()); chunk != nil {
		t.Fatalf("Expected min-word gate to hold chunk, got %q", chunk.Text)
	}

	// Finalize flushes it as a terminal chunk, exempt from the gate
	chunk := c.Finalize(time.Now())
	if chunk == nil {
		t.Fatal("Expected terminal chunk")
	}
	if chunk.Text != "Hi!" {
		t.Errorf("Expected 'Hi!', got %q", chunk.Text)
	}
	if chunk.Boundary != BoundaryEndOfStream {
		t.Errorf("Expected end_of_stream boundary, got %s", chunk.Boundary)
	}
	if chunk.Confidence != 1.0 {
		t.Errorf("Expected confidence 1.0, got %f", chunk.Confidence)
	}
}

func TestChunker_WordCountBoundary(t *testing.T) {
	c := newTestChunker(DefaultConfig())

	tokens := []string{"one", " two", " three", " four", " five"}
	var chunk *Chunk
	for i, tok := range tokens {
		chunk = c.AddToken(tok, int64(i), time.Now())
	}

	if chunk == nil {
		t.Fatal("Expected chunk at the word-count ceiling")
	}
	if chunk.Boundary != BoundaryWordCount {
		t.Errorf("Expected word_count boundary, got %s", chunk.Boundary)
	}
	if chunk.WordCount != 5 {
		t.Errorf("Expected 5 words, got %d", chunk.WordCount)
	}
}

func TestChunker_ConfidenceThreshold(t *testing.T) {
	config := DefaultConfig()
	config.ConfidenceThreshold = 0.9 // only sentence-end boundaries qualify

	c := newTestChunker(config)

	tokens := []string{"one", " two", " three", " four", " five", " six"}
	for i, tok := range tokens {
		if chunk := c.AddToken(tok, int64(i), time.Now()); chunk != nil {
			t.Fatalf("Expected word-count boundary to be suppressed, got %q", chunk.Text)
		}
	}

	chunk := c.AddToken(" done.", 99, time.Now())
	if chunk == nil {
		t.Fatal("Expected sentence-end chunk above threshold")
	}
	if chunk.Boundary != BoundarySentenceEnd {
		t.Errorf("Expected sentence_end boundary, got %s", chunk.Boundary)
	}
}

func TestChunker_UnspeakableDroppedSilently(t *testing.T) {
	c := newTestChunker(DefaultConfig())

	c.AddToken("--", 0, time.Now())
	c.AddToken(" **", 1, time.Now())

	if chunk := c.Finalize(time.Now()); chunk != nil {
		t.Errorf("Expected degenerate buffer to be dropped, got %q", chunk.Text)
	}
	if c.Buffered() != "" {
		t.Error("Expected buffer to be reset after drop")
	}
}

func TestChunker_CleansEmittedText(t *testing.T) {
	c := newTestChunker(DefaultConfig())

	chunk := c.AddToken("**Good** news everyone.", 0, time.Now())
	if chunk == nil {
		t.Fatal("Expected chunk")
	}
	if chunk.Text != "Good news everyone." {
		t.Errorf("Expected markup to be stripped, got %q", chunk.Text)
	}
}

func TestChunker_SequenceAndTokenIDs(t *testing.T) {
	c := newTestChunker(DefaultConfig())

	first := c.AddToken("First sentence done.", 10, time.Now())
	if first == nil {
		t.Fatal("Expected first chunk")
	}
	second := c.AddToken("Second one here.", 11, time.Now())
	if second == nil {
		t.Fatal("Expected second chunk")
	}

	if first.Sequence != 0 || second.Sequence != 1 {
		t.Errorf("Expected sequences 0 and 1, got %d and %d", first.Sequence, second.Sequence)
	}
	if len(first.TokenIDs) != 1 || first.TokenIDs[0] != 10 {
		t.Errorf("Expected first chunk token ids [10], got %v", first.TokenIDs)
	}
	if len(second.TokenIDs) != 1 || second.TokenIDs[0] != 11 {
		t.Errorf("Expected second chunk token ids [11], got %v", second.TokenIDs)
	}
}

func TestChunker_FinalizeEmptyBuffer(t *testing.T) {
	c := newTestChunker(DefaultConfig())

	if chunk := c.Finalize(time.Now()); chunk != nil {
		t.Errorf("Expected nil for empty buffer, got %q", chunk.Text)
	}

	c.AddToken("   ", 0, time.Now())
	if chunk := c.Finalize(time.Now()); chunk != nil {
		t.Errorf("Expected nil for whitespace-only buffer, got %q", chunk.Text)
	}
}

func TestChunker_Reset(t *testing.T) {
	c := newTestChunker(DefaultConfig())

	c.AddToken("partial", 0, time.Now())
	c.Reset()

	if c.Buffered() != "" {
		t.Error("Expected empty buffer after Reset")
	}
	if chunk := c.Finalize(time.Now()); chunk != nil {
		t.Errorf("Expected nothing to flush after Reset, got %q", chunk.Text)
	}
}
