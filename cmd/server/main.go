package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voicewire/speech-gateway/internal/config"
	"github.com/voicewire/speech-gateway/internal/observability"
	"github.com/voicewire/speech-gateway/internal/pipeline"
	"github.com/voicewire/speech-gateway/internal/queue"
	"github.com/voicewire/speech-gateway/internal/responder"
	"github.com/voicewire/speech-gateway/internal/synth"
	"github.com/voicewire/speech-gateway/internal/transport"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("responder_url", cfg.ResponderURL).
		Str("synthesis_url", cfg.SynthesisURL).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Speech Gateway Service starting")

	// Upstream clients
	responderClient, err := responder.NewClient(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to responder")
	}
	defer responderClient.Close()

	synthClient := synth.NewHTTPClient(cfg, logger)
	defer synthClient.Close()

	// Delivery queues and pipeline
	queues := queue.NewManager(queue.Config{
		IdleTimeout:   cfg.IdleQueueTimeout,
		DeliveryYield: cfg.DeliveryYield,
	}, logger)
	defer queues.Close()

	orchestrator := pipeline.New(cfg, responderClient, synthClient, queues, logger)
	streamHandler := transport.NewHandler(cfg, orchestrator, logger)

	// HTTP surface
	mux := http.NewServeMux()
	mux.HandleFunc("/stream", streamHandler.HandleStream)
	mux.HandleFunc("/health", observability.HealthCheckHandler())
	mux.HandleFunc("/ready", observability.ReadinessHandler(map[string]observability.HealthCheckFunc{
		"responder": responderClient.HealthCheck,
		"synthesis": synthClient.HealthCheck,
	}))

	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", fmt.Sprintf("ws://localhost:%s/stream", cfg.Port)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	logger.Info().Msg("Server exited gracefully")
}
