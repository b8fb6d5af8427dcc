package synth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/voicewire/speech-gateway/internal/config"
	"github.com/voicewire/speech-gateway/internal/observability"
	"github.com/voicewire/speech-gateway/internal/resilience"
)

const fragmentBufferSize = 8192 // bytes read from the response stream per fragment

// HTTPClient implements Synthesizer against a streaming HTTP TTS endpoint
// that accepts JSON requests and responds with raw PCM bytes.
type HTTPClient struct {
	config     *config.Config
	httpClient *http.Client
	breaker    *resilience.CircuitBreaker
	retry      *resilience.RetryConfig
	logger     zerolog.Logger
}

// synthesisRequest is the JSON payload sent to the synthesis endpoint
type synthesisRequest struct {
	Text       string  `json:"text"`
	Voice      string  `json:"voice"`
	Speed      float64 `json:"speed,omitempty"`
	SampleRate int     `json:"sample_rate,omitempty"`
	Format     string  `json:"format,omitempty"`
}

// NewHTTPClient creates a synthesis client with circuit breaker and
// retry protection.
func NewHTTPClient(cfg *config.Config, logger zerolog.Logger) *HTTPClient {
	breaker := resilience.NewCircuitBreaker(
		"synthesis",
		cfg.CircuitBreakerMaxFailures,
		time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
	)
	breaker.OnStateChange(func(name string, state resilience.CircuitState) {
		observability.UpdateCircuitBreakerState(name, int(state))
		if state == resilience.StateOpen {
			observability.IncrementCircuitBreakerFailures(name)
		}
	})

	return &HTTPClient{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.SynthesisTimeout,
		},
		breaker: breaker,
		retry: &resilience.RetryConfig{
			MaxAttempts:       cfg.RetryMaxAttempts,
			InitialBackoff:    time.Duration(cfg.RetryInitialBackoff) * time.Millisecond,
			MaxBackoff:        5 * time.Second,
			BackoffMultiplier: 2.0,
			Jitter:            true,
		},
		logger: logger.With().Str("component", "synthesis").Logger(),
	}
}

// Synthesize sends the text to the synthesis endpoint and streams back
// PCM fragments as they arrive. The returned channel is closed when the
// response body ends or the context is cancelled.
func (c *HTTPClient) Synthesize(ctx context.Context, req Request) (<-chan *Fragment, error) {
	voice := req.Voice
	if voice == "" {
		voice = c.config.DefaultVoice
	}
	speed := req.Speed
	if speed == 0 {
		speed = c.config.SynthesisSpeed
	}

	payload, err := json.Marshal(synthesisRequest{
		Text:       req.Text,
		Voice:      voice,
		Speed:      speed,
		SampleRate: c.config.SynthesisSampleRate,
		Format:     "pcm",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal synthesis request: %w", err)
	}

	start := time.Now()
	var resp *http.Response

	err = resilience.Retry(ctx, func() error {
		return c.breaker.Call(func() error {
			httpReq, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, c.config.SynthesisURL, bytes.NewReader(payload))
			if reqErr != nil {
				return reqErr
			}
			httpReq.Header.Set("Content-Type", "application/json")
			if c.config.SynthesisAPIKey != "" {
				httpReq.Header.Set("x-api-key", c.config.SynthesisAPIKey)
			}

			r, doErr := c.httpClient.Do(httpReq)
			if doErr != nil {
				return doErr
			}
			if r.StatusCode != http.StatusOK {
				r.Body.Close()
				return fmt.Errorf("synthesis endpoint returned status %d", r.StatusCode)
			}

			resp = r
			return nil
		})
	}, c.retry, resilience.IsRetryableNetworkError)

	if err != nil {
		observability.RecordSynthesis(false, 0)
		observability.RecordError("synthesis_request", "synthesis")
		return nil, fmt.Errorf("synthesis request failed: %w", err)
	}

	fragments := make(chan *Fragment, 10)

	go func() {
		defer resp.Body.Close()
		defer close(fragments)

		index := 0
		for {
			buf := make([]byte, fragmentBufferSize)
			n, readErr := io.ReadFull(resp.Body, buf)

			if n > 0 {
				// Trim to an even byte count so 16-bit samples never split
				// across fragments
				if n%2 != 0 {
					n--
				}
				if n > 0 {
					fragment := &Fragment{
						Samples:    buf[:n],
						SampleRate: c.config.SynthesisSampleRate,
						Channels:   1,
						BitDepth:   16,
						Voice:      voice,
						Index:      index,
					}
					index++

					select {
					case fragments <- fragment:
						observability.RecordAudioBytes("in", int64(n))
					case <-ctx.Done():
						return
					}
				}
			}

			if readErr != nil {
				if readErr != io.EOF && readErr != io.ErrUnexpectedEOF {
					c.logger.Error().Err(readErr).Msg("Error reading synthesis stream")
					observability.RecordError("synthesis_stream", "synthesis")
				}
				break
			}
		}

		if index == 0 {
			c.logger.Warn().Str("text", req.Text).Msg("Synthesis returned no audio")
		}
		observability.RecordSynthesis(true, time.Since(start))
	}()

	return fragments, nil
}

// HealthCheck probes the synthesis endpoint with a HEAD request.
func (c *HTTPClient) HealthCheck(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.config.SynthesisURL, nil)
	if err != nil {
		return false, err
	}
	if c.config.SynthesisAPIKey != "" {
		req.Header.Set("x-api-key", c.config.SynthesisAPIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return false, fmt.Errorf("synthesis endpoint returned status %d", resp.StatusCode)
	}
	return true, nil
}

// Close releases idle connections.
func (c *HTTPClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
