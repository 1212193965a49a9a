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

	"github.com/streamloft/speech-stream-service/internal/config"
	"github.com/streamloft/speech-stream-service/internal/metrics"
	"github.com/streamloft/speech-stream-service/internal/processor"
	"github.com/streamloft/speech-stream-service/internal/recognition"
	"github.com/streamloft/speech-stream-service/internal/remote"
	"github.com/streamloft/speech-stream-service/internal/server"
	"github.com/streamloft/speech-stream-service/internal/vad"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "speech-stream-service"
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
		slog.String("bind_address", cfg.Server.BindAddress),
		slog.String("backend", cfg.Processor.Backend),
		slog.Float64("processing_interval", cfg.Audio.ProcessingInterval),
		slog.Float64("window_len", cfg.Audio.WindowLen),
		slog.Float64("matching_threshold", cfg.Processor.MatchingThreshold),
		slog.Bool("vad_enabled", cfg.Processor.VADEnabled),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Initialize Prometheus metrics
	appMetrics := metrics.NewMetrics()
	logger.Info("Prometheus metrics initialized")

	// Each accepted connection gets its own processing unit
	factory := unitFactory(cfg, logger, appMetrics)

	// Initialize streaming server
	wsServer := server.NewWSServer(
		cfg.Server, cfg.Audio.GetProcessingInterval(), factory, logger, appMetrics)
	logger.Info("Streaming server initialized")

	// Initialize HTTP API server (if enabled)
	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg.HTTP, logger, cfg, nil, appMetrics)
		logger.Info("HTTP API server initialized",
			slog.String("address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
		)
	}

	// Start streaming server
	if err := wsServer.Start(); err != nil {
		logger.Error("Failed to start streaming server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start HTTP server (if enabled)
	if httpServer != nil {
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("ws_address", fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.Port)),
	)

	sig := <-sigChan
	logger.Info("Received shutdown signal", slog.String("signal", sig.String()))

	logger.Info("Starting graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Stop HTTP server first (stop accepting new requests)
	if httpServer != nil {
		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	// Stop streaming server (closes the listener, connections drain)
	if err := wsServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping streaming server", slog.String("error", err.Error()))
	}

	logger.Info("Service stopped")
}

// unitFactory builds the per-connection processing unit constructor for
// the configured backend.
func unitFactory(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) processor.Factory {
	return func() (processor.Unit, error) {
		var unit processor.Unit

		switch cfg.Processor.Backend {
		case "remote":
			unit = remote.NewProxy(remote.ClientConfig{
				Host:    cfg.Processor.RemoteHost,
				Port:    cfg.Processor.RemotePort,
				Timeout: cfg.Recognition.GetTimeoutDuration(),
			}, logger)

		default:
			client, err := recognition.NewClient(recognition.Config{
				Endpoint:      cfg.Recognition.Endpoint,
				APIKey:        cfg.Recognition.APIKey,
				Timeout:       cfg.Recognition.GetTimeoutDuration(),
				MaxRetries:    cfg.Recognition.MaxRetries,
				MaxConcurrent: cfg.Recognition.MaxConcurrent,
			}, m)
			if err != nil {
				return nil, fmt.Errorf("failed to create recognition client: %w", err)
			}
			if cfg.Processor.SourceLanguage != "" {
				if err := client.SetSourceLanguage(cfg.Processor.SourceLanguage); err != nil {
					return nil, err
				}
			}
			if cfg.Processor.TargetLanguage != "" {
				if err := client.SetTargetLanguage(cfg.Processor.TargetLanguage); err != nil {
					return nil, err
				}
			}

			unit, err = processor.NewSlidingWindow(client, processor.SlidingWindowConfig{
				WindowLen:         cfg.Audio.GetWindowLen(),
				MatchingThreshold: cfg.Processor.MatchingThreshold,
				SpeechChunkSize:   cfg.Processor.SpeechChunkSize,
			}, logger)
			if err != nil {
				return nil, fmt.Errorf("failed to create processing unit: %w", err)
			}
		}

		if cfg.Processor.VADEnabled {
			detector, err := vad.NewProcessor(cfg.Processor.VADThreshold)
			if err != nil {
				return nil, fmt.Errorf("failed to create VAD detector: %w", err)
			}
			unit = processor.NewVADGate(unit, detector, logger)
		}

		return unit, nil
	}
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
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
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

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

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
