package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lexiqai/dialogue-gateway/internal/catalog"
	"github.com/lexiqai/dialogue-gateway/internal/config"
	"github.com/lexiqai/dialogue-gateway/internal/dialogue"
	"github.com/lexiqai/dialogue-gateway/internal/gateway"
	"github.com/lexiqai/dialogue-gateway/internal/generation"
	"github.com/lexiqai/dialogue-gateway/internal/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"
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
		Str("generation_backend", cfg.GenerationBackend).
		Str("default_voice", cfg.DefaultVoice).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Dialogue Gateway Service starting")

	// NPC catalog is optional; without it clients send persona and voice directly
	npcs := catalog.Empty()
	if cfg.NPCCatalogPath != "" {
		npcs, err = catalog.Load(cfg.NPCCatalogPath)
		if err != nil {
			logger.Fatal().Err(err).Str("path", cfg.NPCCatalogPath).Msg("Failed to load NPC catalog")
		}
		logger.Info().Int("npcs", npcs.Len()).Msg("NPC catalog loaded")
	}

	// Generation client and orchestrator are shared by every conversation
	client, err := generation.New(context.Background(), cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create generation client")
	}
	defer client.Close()

	orch := dialogue.NewOrchestrator(client, dialogue.Options{
		FallbackMessage:   cfg.FallbackMessage,
		DefaultVoice:      cfg.DefaultVoice,
		DefaultSampleRate: cfg.DefaultSampleRate,
	})

	// Create HTTP server
	mux := http.NewServeMux()

	// Conversation WebSocket
	mux.Handle("/ws/dialogue", gateway.NewHandler(orch, npcs))

	// Health check endpoints
	mux.HandleFunc("/health", observability.HealthCheckHandler())
	mux.HandleFunc("/ready", observability.ReadinessHandler(client.HealthChecks()...))

	// Metrics endpoint (Prometheus)
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// Create HTTP server with timeouts. WriteTimeout stays unset so hijacked
	// WebSocket connections are governed by their own write deadlines.
	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", fmt.Sprintf("ws://localhost:%s/ws/dialogue", cfg.Port)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Abandon conversations still in flight
	if err := orch.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Timed out waiting for in-flight questions")
	}

	logger.Info().Msg("Server exited gracefully")
}
