package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	os.Setenv("SYNTHESIS_URL", "http://localhost:8880/v1/audio/speech")
	defer os.Unsetenv("SYNTHESIS_URL")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.SynthesisURL != "http://localhost:8880/v1/audio/speech" {
		t.Errorf("Expected SynthesisURL 'http://localhost:8880/v1/audio/speech', got '%s'", cfg.SynthesisURL)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	os.Unsetenv("SYNTHESIS_URL")

	_, err := Load()
	if err == nil {
		t.Error("Expected error when SYNTHESIS_URL is missing")
	}
}

func TestLoad_Defaults(t *testing.T) {
	os.Setenv("SYNTHESIS_URL", "http://localhost:8880/v1/audio/speech")
	defer os.Unsetenv("SYNTHESIS_URL")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	// Check defaults
	if cfg.Port != "8080" {
		t.Errorf("Expected default Port '8080', got '%s'", cfg.Port)
	}

	if cfg.ResponderURL != "localhost:50051" {
		t.Errorf("Expected default ResponderURL 'localhost:50051', got '%s'", cfg.ResponderURL)
	}

	if cfg.DefaultVoice != "af_heart" {
		t.Errorf("Expected default DefaultVoice 'af_heart', got '%s'", cfg.DefaultVoice)
	}

	if cfg.SynthesisSampleRate != 24000 {
		t.Errorf("Expected default SynthesisSampleRate 24000, got %d", cfg.SynthesisSampleRate)
	}

	if cfg.MinWordsPerChunk != 2 {
		t.Errorf("Expected default MinWordsPerChunk 2, got %d", cfg.MinWordsPerChunk)
	}

	if cfg.MaxWordsPerChunk != 5 {
		t.Errorf("Expected default MaxWordsPerChunk 5, got %d", cfg.MaxWordsPerChunk)
	}

	if cfg.ConfidenceThreshold != 0.5 {
		t.Errorf("Expected default ConfidenceThreshold 0.5, got %f", cfg.ConfidenceThreshold)
	}

	if cfg.IdleQueueTimeout != 2*time.Second {
		t.Errorf("Expected default IdleQueueTimeout 2s, got %s", cfg.IdleQueueTimeout)
	}

	if cfg.DeliveryYield != 5*time.Millisecond {
		t.Errorf("Expected default DeliveryYield 5ms, got %s", cfg.DeliveryYield)
	}

	if cfg.AudioBufferSize != 8192 {
		t.Errorf("Expected default AudioBufferSize 8192, got %d", cfg.AudioBufferSize)
	}

	if cfg.SpeechEnergyThreshold != 500.0 {
		t.Errorf("Expected default SpeechEnergyThreshold 500.0, got %f", cfg.SpeechEnergyThreshold)
	}
}

func TestLoad_InvalidChunkWindow(t *testing.T) {
	os.Setenv("SYNTHESIS_URL", "http://localhost:8880/v1/audio/speech")
	os.Setenv("MIN_WORDS_PER_CHUNK", "6")
	os.Setenv("MAX_WORDS_PER_CHUNK", "3")
	defer os.Unsetenv("SYNTHESIS_URL")
	defer os.Unsetenv("MIN_WORDS_PER_CHUNK")
	defer os.Unsetenv("MAX_WORDS_PER_CHUNK")

	_, err := Load()
	if err == nil {
		t.Error("Expected error when max words is below min words")
	}
}

func TestLoad_InvalidConfidenceThreshold(t *testing.T) {
	os.Setenv("SYNTHESIS_URL", "http://localhost:8880/v1/audio/speech")
	os.Setenv("CHUNK_CONFIDENCE_THRESHOLD", "1.5")
	defer os.Unsetenv("SYNTHESIS_URL")
	defer os.Unsetenv("CHUNK_CONFIDENCE_THRESHOLD")

	_, err := Load()
	if err == nil {
		t.Error("Expected error when confidence threshold is outside [0,1]")
	}
}

func TestLoadFromEnv(t *testing.T) {
	os.Setenv("SYNTHESIS_URL", "http://localhost:8880/v1/audio/speech")
	defer os.Unsetenv("SYNTHESIS_URL")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}

	if cfg.SynthesisURL != "http://localhost:8880/v1/audio/speech" {
		t.Errorf("Expected SynthesisURL 'http://localhost:8880/v1/audio/speech', got '%s'", cfg.SynthesisURL)
	}
}

func TestConfig_ResilienceDefaults(t *testing.T) {
	os.Setenv("SYNTHESIS_URL", "http://localhost:8880/v1/audio/speech")
	defer os.Unsetenv("SYNTHESIS_URL")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.CircuitBreakerMaxFailures != 5 {
		t.Errorf("Expected default CircuitBreakerMaxFailures 5, got %d", cfg.CircuitBreakerMaxFailures)
	}

	if cfg.CircuitBreakerResetTimeout != 30 {
		t.Errorf("Expected default CircuitBreakerResetTimeout 30, got %d", cfg.CircuitBreakerResetTimeout)
	}

	if cfg.RetryMaxAttempts != 3 {
		t.Errorf("Expected default RetryMaxAttempts 3, got %d", cfg.RetryMaxAttempts)
	}

	if cfg.RetryInitialBackoff != 100 {
		t.Errorf("Expected default RetryInitialBackoff 100, got %d", cfg.RetryInitialBackoff)
	}
}

func TestGetEnv(t *testing.T) {
	os.Setenv("TEST_KEY", "test-value")
	defer os.Unsetenv("TEST_KEY")

	value := GetEnv("TEST_KEY", "default")
	if value != "test-value" {
		t.Errorf("Expected 'test-value', got '%s'", value)
	}

	value = GetEnv("NON_EXISTENT_KEY", "default")
	if value != "default" {
		t.Errorf("Expected 'default', got '%s'", value)
	}
}
