package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/streamloft/speech-stream-service/internal/config"
	"github.com/streamloft/speech-stream-service/internal/metrics"
	"github.com/streamloft/speech-stream-service/internal/pool"
	"github.com/streamloft/speech-stream-service/internal/processor"
	"github.com/streamloft/speech-stream-service/internal/recognition"
	"github.com/streamloft/speech-stream-service/internal/remote"
	"github.com/streamloft/speech-stream-service/internal/server"
	"github.com/streamloft/speech-stream-service/internal/vad"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "speech-unit-server"
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

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	logger.Info("Configuration loaded",
		slog.Int("port", cfg.Server.Port),
		slog.String("bind_address", cfg.Server.BindAddress),
		slog.Int("pool_capacity", cfg.Pool.Capacity),
		slog.Float64("pool_ttl_seconds", cfg.Pool.TTLSeconds),
		slog.Float64("window_len", cfg.Audio.WindowLen),
		slog.Float64("matching_threshold", cfg.Processor.MatchingThreshold),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Initialize Prometheus metrics
	appMetrics := metrics.NewMetrics()
	logger.Info("Prometheus metrics initialized")

	// Pre-build the unit pool; this is where models would load, so it
	// runs before any listener binds.
	buildStart := time.Now()
	unitPool, err := pool.New(localUnitFactory(cfg, logger, appMetrics), cfg.Pool.Capacity, cfg.Pool.GetTTL(), logger, appMetrics)
	if err != nil {
		logger.Error("Failed to build unit pool", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Unit pool ready",
		slog.Int("capacity", cfg.Pool.Capacity),
		slog.Duration("build_time", time.Since(buildStart)),
	)

	// Protocol server over the pool
	handler := remote.NewHandler(unitPool, logger, appMetrics)
	protocolServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	// Initialize HTTP API server (if enabled)
	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg.HTTP, logger, cfg, unitPool, appMetrics)
		logger.Info("HTTP API server initialized",
			slog.String("address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
		)
	}

	go func() {
		logger.Info("Serving remote processing protocol",
			slog.String("address", protocolServer.Addr),
		)
		if err := protocolServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Protocol server error", slog.String("error", err.Error()))
		}
	}()

	if httpServer != nil {
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...")

	sig := <-sigChan
	logger.Info("Received shutdown signal", slog.String("signal", sig.String()))

	logger.Info("Starting graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if httpServer != nil {
		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	if err := protocolServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error stopping protocol server", slog.String("error", err.Error()))
	}

	// Stop the pool last so in-flight requests keep their units
	unitPool.Stop()

	stats := unitPool.GetStats()
	logger.Info("Final pool statistics",
		slog.Int("capacity", stats.Capacity),
		slog.Uint64("evictions", stats.Evictions),
	)

	logger.Info("Service stopped")
}

// localUnitFactory builds pooled local processing units. The unit server
// always hosts units itself; delegation to yet another server is not
// supported.
func localUnitFactory(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) processor.Factory {
	return func() (processor.Unit, error) {
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

		var unit processor.Unit
		unit, err = processor.NewSlidingWindow(client, processor.SlidingWindowConfig{
			WindowLen:         cfg.Audio.GetWindowLen(),
			MatchingThreshold: cfg.Processor.MatchingThreshold,
			SpeechChunkSize:   cfg.Processor.SpeechChunkSize,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create processing unit: %w", err)
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
