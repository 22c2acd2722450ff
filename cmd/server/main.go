package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/botany-labs/voice-agent-service/internal/assistant"
	"github.com/botany-labs/voice-agent-service/internal/config"
	"github.com/botany-labs/voice-agent-service/internal/metrics"
	"github.com/botany-labs/voice-agent-service/internal/server"
	"github.com/botany-labs/voice-agent-service/internal/speech"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "voice-agent-service"
	serviceVersion    = "1.0.0"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger based on configuration
	logger := initLogger(cfg.Logging)

	// Log service startup
	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.Int("port", cfg.Server.Port),
		slog.String("address", cfg.Server.Address),
		slog.Int("max_concurrent_calls", cfg.Server.MaxConcurrentCalls),
		slog.Int("browser_sample_rate", cfg.Browser.SampleRate),
		slog.Bool("telephony_enabled", cfg.Telephony.Enabled),
		slog.String("tts_provider", cfg.TTS.Provider),
		slog.String("stt_endpoint", cfg.STT.Endpoint),
		slog.Bool("speak_first", cfg.Assistant.SpeakFirst),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Initialize Prometheus metrics
	appMetrics := metrics.NewMetrics()
	logger.Info("Prometheus metrics initialized")

	// Initialize chat completion client
	llm, err := assistant.NewLLMClient(assistant.LLMConfig{
		Endpoint: cfg.LLM.Endpoint,
		APIKey:   cfg.LLM.APIKey,
		Model:    cfg.LLM.Model,
		Timeout:  cfg.LLM.GetTimeoutDuration(),
	})
	if err != nil {
		logger.Error("Failed to create LLM client", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Initialize one-shot transcription client for browser calls
	transcriber, err := speech.NewWhisperClient(speech.WhisperConfig{
		Endpoint:   cfg.STT.Endpoint,
		APIKey:     cfg.STT.APIKey,
		Model:      cfg.STT.Model,
		SampleRate: cfg.Browser.SampleRate,
		Timeout:    cfg.STT.GetTimeoutDuration(),
	})
	if err != nil {
		logger.Error("Failed to create transcription client", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Initialize browser assistant (24 kHz PCM synthesis)
	browserSynth, err := speech.NewSynthesizer(speech.SynthesizerConfig{
		Provider: cfg.TTS.Provider,
		APIKey:   cfg.TTS.APIKey,
		Model:    cfg.TTS.Model,
		Voice:    cfg.TTS.Voice,
		Format:   speech.FormatPCM24K,
		Timeout:  cfg.TTS.GetTimeoutDuration(),
	})
	if err != nil {
		logger.Error("Failed to create browser synthesizer", slog.String("error", err.Error()))
		os.Exit(1)
	}

	assistantConfig := assistant.Config{
		Instructions:   cfg.Assistant.Instructions,
		SystemPrompt:   cfg.Assistant.SystemPrompt,
		OpeningMessage: cfg.Assistant.OpeningMessage,
		SpeakFirst:     cfg.Assistant.SpeakFirst,
		CanHangUp:      cfg.Assistant.CanHangUp,
	}

	browserAssistant, err := assistant.New(assistantConfig, llm, server.MeterSynthesizer(browserSynth, appMetrics))
	if err != nil {
		logger.Error("Failed to create browser assistant", slog.String("error", err.Error()))
		os.Exit(1)
	}

	assistants := server.Assistants{Browser: browserAssistant}

	// Initialize telephony assistant and streaming transcriber factory
	// (8 kHz μ-law synthesis)
	var liveFactory func() (speech.LiveTranscriber, error)
	if cfg.Telephony.Enabled {
		telephonySynth, err := speech.NewSynthesizer(speech.SynthesizerConfig{
			Provider: cfg.TTS.Provider,
			APIKey:   cfg.TTS.APIKey,
			Model:    cfg.TTS.Model,
			Voice:    cfg.TTS.Voice,
			Format:   speech.FormatMulaw8K,
			Timeout:  cfg.TTS.GetTimeoutDuration(),
		})
		if err != nil {
			logger.Error("Failed to create telephony synthesizer", slog.String("error", err.Error()))
			os.Exit(1)
		}

		telephonyAssistant, err := assistant.New(assistantConfig, llm, server.MeterSynthesizer(telephonySynth, appMetrics))
		if err != nil {
			logger.Error("Failed to create telephony assistant", slog.String("error", err.Error()))
			os.Exit(1)
		}
		assistants.Telephony = telephonyAssistant

		liveFactory = func() (speech.LiveTranscriber, error) {
			return speech.NewDeepgramLive(speech.LiveConfig{
				Endpoint:       cfg.LiveSTT.Endpoint,
				APIKey:         cfg.LiveSTT.APIKey,
				Model:          cfg.LiveSTT.Model,
				Encoding:       "mulaw",
				SampleRate:     cfg.Telephony.SampleRate,
				UtteranceEndMS: cfg.LiveSTT.UtteranceEndMs,
				EndpointingMS:  cfg.LiveSTT.EndpointingMs,
			}, logger)
		}
	}

	// Initialize session registry
	registry, err := server.NewRegistry(cfg.Server.MaxConcurrentCalls, logger)
	if err != nil {
		logger.Error("Failed to create session registry", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Initialize HTTP server
	httpServer, err := server.NewHTTPServer(cfg, assistants, transcriber, liveFactory, registry, appMetrics, logger)
	if err != nil {
		logger.Error("Failed to create HTTP server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := httpServer.Start(); err != nil {
		logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("listen_address", fmt.Sprintf("%s:%d", cfg.Server.Address, cfg.Server.Port)),
	)

	sig := <-sigChan
	logger.Info("Received shutdown signal", slog.String("signal", sig.String()))

	logger.Info("Starting graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
	}

	// Get final statistics
	stats := registry.GetStats()
	logger.Info("Final call statistics",
		slog.Int("active_calls", stats.ActiveSessions),
		slog.Uint64("total_started", stats.TotalStarted),
		slog.Uint64("total_ended", stats.TotalEnded),
		slog.Uint64("total_rejected", stats.TotalRejected),
	)

	logger.Info("Service stopped")
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	// Parse log level
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo // default fallback
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug, // Add source info for debug level
	}

	// Determine output destination
	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	// Create handler based on format
	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
