package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the speech gateway service
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// Response generator (token source) gRPC endpoint
	ResponderURL        string        `envconfig:"RESPONDER_URL" default:"localhost:50051"`
	ResponderTLSEnabled bool          `envconfig:"RESPONDER_TLS_ENABLED" default:"false"`
	ResponderTimeout    time.Duration `envconfig:"RESPONDER_TIMEOUT" default:"30s"`

	// Speech synthesis HTTP endpoint
	SynthesisURL        string        `envconfig:"SYNTHESIS_URL" required:"true"`
	SynthesisAPIKey     string        `envconfig:"SYNTHESIS_API_KEY" default:""`
	SynthesisSampleRate int           `envconfig:"SYNTHESIS_SAMPLE_RATE" default:"24000"` // PCM sample rate the synthesizer emits
	SynthesisTimeout    time.Duration `envconfig:"SYNTHESIS_TIMEOUT" default:"30s"`
	DefaultVoice        string        `envconfig:"DEFAULT_VOICE" default:"af_heart"`
	SynthesisSpeed      float64       `envconfig:"SYNTHESIS_SPEED" default:"1.0"`

	// Semantic chunking configuration
	MinWordsPerChunk    int     `envconfig:"MIN_WORDS_PER_CHUNK" default:"2"`
	MaxWordsPerChunk    int     `envconfig:"MAX_WORDS_PER_CHUNK" default:"5"`
	ConfidenceThreshold float64 `envconfig:"CHUNK_CONFIDENCE_THRESHOLD" default:"0.5"`

	// Audio delivery configuration
	IdleQueueTimeout time.Duration `envconfig:"IDLE_QUEUE_TIMEOUT" default:"2s"`  // Teardown window for inactive conversation queues
	DeliveryYield    time.Duration `envconfig:"DELIVERY_YIELD" default:"5ms"`     // Pause between fragment deliveries
	AudioBufferSize  int           `envconfig:"AUDIO_BUFFER_SIZE" default:"8192"` // Ring buffer size for incoming caller audio, bytes

	// Barge-in detection configuration
	SpeechEnergyThreshold float64 `envconfig:"SPEECH_ENERGY_THRESHOLD" default:"500.0"` // RMS threshold for speech in caller audio
	EchoSuppressionFactor float64 `envconfig:"ECHO_SUPPRESSION_FACTOR" default:"4.0"`   // Threshold multiplier while playback is active
	DetectorFrameSize     int     `envconfig:"DETECTOR_FRAME_SIZE" default:"320"`       // Samples per detector frame (20ms at 16kHz)

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`             // Maximum retry attempts
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"`        // Initial backoff in milliseconds
	ReconnectMaxAttempts       int `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"5"`         // Maximum reconnection attempts
	ReconnectBackoff           int `envconfig:"RECONNECT_BACKOFF" default:"1000"`           // Reconnection backoff in milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables.
// It first attempts to load from .env file if it exists, then from environment.
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments).
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.SynthesisURL == "" {
		return fmt.Errorf("SYNTHESIS_URL is required")
	}
	if c.MinWordsPerChunk < 1 {
		return fmt.Errorf("MIN_WORDS_PER_CHUNK must be at least 1, got %d", c.MinWordsPerChunk)
	}
	if c.MaxWordsPerChunk < c.MinWordsPerChunk {
		return fmt.Errorf("MAX_WORDS_PER_CHUNK (%d) must not be below MIN_WORDS_PER_CHUNK (%d)",
			c.MaxWordsPerChunk, c.MinWordsPerChunk)
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("CHUNK_CONFIDENCE_THRESHOLD must be in [0,1], got %f", c.ConfidenceThreshold)
	}
	if c.IdleQueueTimeout <= 0 {
		return fmt.Errorf("IDLE_QUEUE_TIMEOUT must be positive, got %s", c.IdleQueueTimeout)
	}
	return nil
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
