package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/voicewire/speech-gateway/internal/config"
	"github.com/voicewire/speech-gateway/internal/queue"
	"github.com/voicewire/speech-gateway/internal/responder"
	"github.com/voicewire/speech-gateway/internal/synth"
)

// fakeStreamer replays a fixed token sequence per utterance.
type fakeStreamer struct {
	tokens []string
}

func (f *fakeStreamer) StreamResponse(ctx context.Context, req *responder.GenerateRequest) (<-chan *responder.Token, error) {
	ch := make(chan *responder.Token, len(f.tokens))
	for i, text := range f.tokens {
		ch <- &responder.Token{
			Text:      text,
			ID:        int64(i),
			Timestamp: time.Now(),
			Done:      i == len(f.tokens)-1,
		}
	}
	close(ch)
	return ch, nil
}

func (f *fakeStreamer) HealthCheck(ctx context.Context) (bool, error) { return true, nil }
func (f *fakeStreamer) Close() error                                  { return nil }

// fakeSynth yields one fragment per request and records chunk texts.
type fakeSynth struct {
	mu     sync.Mutex
	texts  []string
	failOn string
}

func (f *fakeSynth) Synthesize(ctx context.Context, req synth.Request) (<-chan *synth.Fragment, error) {
	f.mu.Lock()
	f.texts = append(f.texts, req.Text)
	fail := f.failOn != "" && req.Text == f.failOn
	f.mu.Unlock()

	if fail {
		return nil, errors.New("synthesis backend unavailable")
	}

	ch := make(chan *synth.Fragment, 1)
	ch <- &synth.Fragment{
		Samples:    make([]byte, 320),
		SampleRate: 24000,
		Channels:   1,
		BitDepth:   16,
		Voice:      "af_heart",
		Index:      0,
	}
	close(ch)
	return ch, nil
}

func (f *fakeSynth) HealthCheck(ctx context.Context) (bool, error) { return true, nil }
func (f *fakeSynth) Close() error                                  { return nil }

func (f *fakeSynth) requestedTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

// fakeTransport records delivered messages.
type fakeTransport struct {
	mu          sync.Mutex
	fragments   []*queue.FragmentMessage
	interrupted []*queue.InterruptedMessage
}

func (f *fakeTransport) SendFragment(msg *queue.FragmentMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fragments = append(f.fragments, msg)
	return nil
}

func (f *fakeTransport) SendInterrupted(msg *queue.InterruptedMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interrupted = append(f.interrupted, msg)
	return nil
}

func (f *fakeTransport) deliveredCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fragments)
}

func (f *fakeTransport) sequences() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	seqs := make([]int, len(f.fragments))
	for i, msg := range f.fragments {
		seqs[i] = msg.Sequence
	}
	return seqs
}

func (f *fakeTransport) noticeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.interrupted)
}

func pipelineConfig() *config.Config {
	return &config.Config{
		MinWordsPerChunk:    2,
		MaxWordsPerChunk:    5,
		ConfidenceThreshold: 0.5,
		DefaultVoice:        "af_heart",
	}
}

func newTestPipeline(streamer responder.TokenStreamer, synthesizer synth.Synthesizer, yield time.Duration) (*Orchestrator, *queue.Manager) {
	queues := queue.NewManager(queue.Config{
		IdleTimeout:   time.Minute,
		DeliveryYield: yield,
	}, zerolog.Nop())
	o := New(pipelineConfig(), streamer, synthesizer, queues, zerolog.Nop())
	return o, queues
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func TestOrchestrator_EndToEnd(t *testing.T) {
	streamer := &fakeStreamer{tokens: []string{"Hello", "!", " Yes", ",", " I", " can", " hear", " you"}}
	synthesizer := &fakeSynth{}
	o, queues := newTestPipeline(streamer, synthesizer, time.Millisecond)
	defer queues.Close()

	transport := &fakeTransport{}
	conversationID, err := o.ProcessUtterance(context.Background(), "client1", "can you hear me", transport)
	if err != nil {
		t.Fatalf("ProcessUtterance failed: %v", err)
	}
	if conversationID != "client1-1" {
		t.Errorf("Expected conversation id client1-1, got %s", conversationID)
	}

	waitFor(t, "both fragments delivered", func() bool { return transport.deliveredCount() == 2 })

	texts := synthesizer.requestedTexts()
	if len(texts) != 2 || texts[0] != "Hello! Yes" || texts[1] != ", I can hear you" {
		t.Errorf("Expected two chunks through synthesis, got %v", texts)
	}

	seqs := transport.sequences()
	for i, seq := range seqs {
		if seq != i {
			t.Fatalf("Expected monotonic fragment sequence, got %v", seqs)
		}
	}

	waitFor(t, "playback to finish", func() bool { return !o.Playing("client1") })
}

func TestOrchestrator_BargeIn(t *testing.T) {
	streamer := &fakeStreamer{tokens: []string{"This", " is", " a", " long", " answer", " that", " keeps", " going."}}
	synthesizer := &fakeSynth{}
	// Long yield keeps the first turn's playback active
	o, queues := newTestPipeline(streamer, synthesizer, 500*time.Millisecond)
	defer queues.Close()

	transport := &fakeTransport{}
	first, err := o.ProcessUtterance(context.Background(), "client1", "first question", transport)
	if err != nil {
		t.Fatalf("First ProcessUtterance failed: %v", err)
	}

	waitFor(t, "playback to start", func() bool { return o.Playing("client1") })

	second, err := o.ProcessUtterance(context.Background(), "client1", "never mind, stop", transport)
	if err != nil {
		t.Fatalf("Second ProcessUtterance failed: %v", err)
	}

	if first == second {
		t.Error("Expected a fresh conversation id for the new turn")
	}
	if second != "client1-2" {
		t.Errorf("Expected conversation id client1-2, got %s", second)
	}
	if transport.noticeCount() != 1 {
		t.Errorf("Expected one interruption notice, got %d", transport.noticeCount())
	}
}

func TestOrchestrator_ExplicitInterrupt(t *testing.T) {
	streamer := &fakeStreamer{tokens: []string{"Some", " words", " to", " speak", " aloud."}}
	synthesizer := &fakeSynth{}
	o, queues := newTestPipeline(streamer, synthesizer, 500*time.Millisecond)
	defer queues.Close()

	transport := &fakeTransport{}
	if _, err := o.ProcessUtterance(context.Background(), "client1", "talk to me", transport); err != nil {
		t.Fatalf("ProcessUtterance failed: %v", err)
	}

	waitFor(t, "playback to start", func() bool { return o.Playing("client1") })
	o.Interrupt("client1")

	waitFor(t, "playback to stop", func() bool { return !o.Playing("client1") })
	if state := o.ClientState("client1"); state != StateInterrupted {
		t.Errorf("Expected interrupted state, got %s", state)
	}
}

func TestOrchestrator_InterruptUnknownClient(t *testing.T) {
	o, queues := newTestPipeline(&fakeStreamer{}, &fakeSynth{}, time.Millisecond)
	defer queues.Close()

	if dropped := o.Interrupt("ghost"); dropped != 0 {
		t.Errorf("Expected 0 dropped for unknown client, got %d", dropped)
	}
	if o.Playing("ghost") {
		t.Error("Expected unknown client not to be playing")
	}
}

func TestOrchestrator_RejectsUnspeakableUtterance(t *testing.T) {
	o, queues := newTestPipeline(&fakeStreamer{}, &fakeSynth{}, time.Millisecond)
	defer queues.Close()

	if _, err := o.ProcessUtterance(context.Background(), "client1", "   ", &fakeTransport{}); err == nil {
		t.Error("Expected error for whitespace-only utterance")
	}
	if _, err := o.ProcessUtterance(context.Background(), "client1", "--", &fakeTransport{}); err == nil {
		t.Error("Expected error for punctuation-only utterance")
	}
}

func TestOrchestrator_SynthesisFailureSkipsChunk(t *testing.T) {
	streamer := &fakeStreamer{tokens: []string{"First", " sentence", " here.", " Second", " sentence", " too."}}
	synthesizer := &fakeSynth{failOn: "First sentence here."}
	o, queues := newTestPipeline(streamer, synthesizer, time.Millisecond)
	defer queues.Close()

	transport := &fakeTransport{}
	if _, err := o.ProcessUtterance(context.Background(), "client1", "say two things", transport); err != nil {
		t.Fatalf("ProcessUtterance failed: %v", err)
	}

	// The second chunk still gets synthesized and delivered
	waitFor(t, "surviving fragment delivered", func() bool { return transport.deliveredCount() == 1 })

	texts := synthesizer.requestedTexts()
	if len(texts) != 2 {
		t.Fatalf("Expected both chunks attempted, got %v", texts)
	}
}

func TestOrchestrator_ReleaseClient(t *testing.T) {
	streamer := &fakeStreamer{tokens: []string{"Hello", " there", " friend."}}
	o, queues := newTestPipeline(streamer, &fakeSynth{}, time.Millisecond)
	defer queues.Close()

	transport := &fakeTransport{}
	if _, err := o.ProcessUtterance(context.Background(), "client1", "hello", transport); err != nil {
		t.Fatalf("ProcessUtterance failed: %v", err)
	}

	o.ReleaseClient("client1")
	if o.Playing("client1") {
		t.Error("Expected no playback after release")
	}
	if state := o.ClientState("client1"); state != StateIdle {
		t.Errorf("Expected idle state for released client, got %s", state)
	}

	// Releasing again is safe
	o.ReleaseClient("client1")
}
