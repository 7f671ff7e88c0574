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

	"github.com/tripandevent/voice-agent-bridge/internal/config"
	"github.com/tripandevent/voice-agent-bridge/internal/crm"
	"github.com/tripandevent/voice-agent-bridge/internal/observability"
	"github.com/tripandevent/voice-agent-bridge/internal/resilience"
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
		Str("crm_base_url", cfg.CRMBaseURL).
		Str("avatar_api_base", cfg.AvatarAPIBase).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Voice Agent Bridge starting")

	// Create the CRM client and pre-fetch the auth token. Runtime tool calls
	// never log in: if warmup fails here, CRM tools fail fast until restart.
	crmClient := crm.NewClient(crm.ClientOptions{
		BaseURL:      cfg.CRMBaseURL,
		Email:        cfg.CRMEmail,
		Password:     cfg.CRMPassword,
		Timeout:      time.Duration(cfg.CRMTimeout) * time.Second,
		LoginTimeout: time.Duration(cfg.CRMLoginTimeout) * time.Second,
		WarmupRetry: &resilience.RetryConfig{
			MaxAttempts:       cfg.WarmupMaxAttempts,
			InitialBackoff:    time.Duration(cfg.WarmupInitialBackoff) * time.Millisecond,
			MaxBackoff:        5 * time.Second,
			BackoffMultiplier: 2.0,
		},
	}, logger)

	warmupCtx, cancelWarmup := context.WithTimeout(context.Background(), 60*time.Second)
	if err := crmClient.Warmup(warmupCtx); err != nil {
		logger.Error().Err(err).Msg("CRM warmup failed, CRM tools will fail fast until restart")
	}
	cancelWarmup()

	// Create HTTP server
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("/health", observability.HealthCheckHandler())

	// Readiness endpoint
	crmCheck := func(ctx context.Context) (bool, error) {
		if _, err := crmClient.Tokens().Current(); err != nil {
			return false, err
		}
		return true, nil
	}

	avatarCheck := func(ctx context.Context) (bool, error) {
		// Config-level check: the avatar provider has no cheap probe endpoint
		if cfg.AvatarAPIKey == "" || cfg.AvatarID == "" {
			return false, fmt.Errorf("avatar configuration incomplete")
		}
		return true, nil
	}

	mux.HandleFunc("/ready", observability.ReadinessHandler(map[string]observability.HealthCheckFunc{
		"crm":    crmCheck,
		"avatar": avatarCheck,
	}))

	// Metrics endpoint (Prometheus)
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// Create HTTP server with timeouts
	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
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
		logger.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	logger.Info().Msg("Server exited gracefully")
}
