// Package main is the entry point for twilio-realtime-relay
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/shiv6146/twilio-realtime-relay/internal/api"
	"github.com/shiv6146/twilio-realtime-relay/internal/call"
	"github.com/shiv6146/twilio-realtime-relay/internal/config"
	"github.com/shiv6146/twilio-realtime-relay/internal/logging"
	"github.com/shiv6146/twilio-realtime-relay/internal/observability"
	"github.com/shiv6146/twilio-realtime-relay/internal/realtime"
	"github.com/shiv6146/twilio-realtime-relay/internal/store"

	_ "github.com/shiv6146/twilio-realtime-relay/docs" // Import generated swagger docs
)

// @title twilio-realtime-relay API
// @version 1.0
// @description Bridges Twilio Media Streams calls to the OpenAI Realtime API

// @contact.name API Support
// @contact.url https://github.com/shiv6146/twilio-realtime-relay

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:3000
// @BasePath /

const metricsNamespace = "twilio_relay"

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	if err := cfg.Validate(); err != nil {
		if errors.Is(err, config.ErrMissingAPIKey) {
			logger.Error().Msg("Missing OpenAI API key. Please set it in the .env file.")
		} else {
			logger.Error().Err(err).Msg("Invalid configuration")
		}
		return 1
	}

	logger.Info().Msg("Starting twilio-realtime-relay...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to Valkey (optional)
	var tracker call.Tracker
	if cfg.ValkeyURL != "" {
		logger.Info().Str("url", cfg.ValkeyURL).Msg("Connecting to Valkey...")
		cache, err := store.NewCache(ctx, cfg.ValkeyURL, cfg.ValkeyPassword, cfg.ValkeyDB, cfg.ActiveCallTTL)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to connect to Valkey (continuing without cache)")
		} else {
			defer cache.Close()
			tracker = cache
			logger.Info().Msg("Valkey connected")
		}
	}

	metrics := observability.NewMetrics(metricsNamespace)
	agent := realtime.NewAgent(cfg.AgentName, cfg.AgentInstructions)

	calls := call.NewManager(tracker, logging.Component(logger, "call"))
	// Refresh well inside the TTL so long calls stay counted
	go calls.KeepAlive(ctx, cfg.ActiveCallTTL/3)
	bridge := call.NewBridge(cfg, agent, calls, metrics, logging.Component(logger, "media-stream"))
	server := api.NewServer(cfg, calls, bridge, metrics, logging.Component(logger, "api"))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	if err := server.Start(); err != nil {
		logger.Error().Err(err).Msg("Failed to start server")
		return 1
	}
	printSummary(logger, cfg, server.Addr())

	// Wait for shutdown signal
	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received, closing server")
	case err := <-server.Errors():
		if err != nil {
			logger.Error().Err(err).Msg("Server error")
			return 1
		}
	}

	// In-flight calls are dropped, not drained
	if err := server.Close(); err != nil {
		logger.Warn().Err(err).Msg("Server close error")
	}
	logger.Info().Msg("twilio-realtime-relay stopped")
	return 0
}

func printSummary(logger zerolog.Logger, cfg *config.Config, addr string) {
	logger.Info().Msg("========================================")
	logger.Info().Msg("twilio-realtime-relay is running!")
	logger.Info().Msg("========================================")
	logger.Info().Msgf("Health:   http://%s/", addr)
	logger.Info().Msgf("Webhook:  http://%s/incoming-call", addr)
	logger.Info().Msgf("Stream:   ws://%s/media-stream", addr)
	if cfg.MetricsEnabled {
		logger.Info().Msgf("Metrics:  http://%s%s", addr, cfg.MetricsPath)
	}
	if cfg.SwaggerEnabled {
		logger.Info().Msgf("Swagger:  http://%s/swagger/index.html", addr)
	}
	logger.Info().Str("model", cfg.RealtimeModel).Str("voice", cfg.RealtimeVoice).Str("agent", cfg.AgentName).Msg("========================================")
}
