package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	HTTP        HTTPConfig        `yaml:"http"`
	Audio       AudioConfig       `yaml:"audio"`
	Processor   ProcessorConfig   `yaml:"processor"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Pool        PoolConfig        `yaml:"pool"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// ServerConfig contains WebSocket streaming server configuration
type ServerConfig struct {
	Port        int    `yaml:"port"`
	BindAddress string `yaml:"bind_address"`
}

// HTTPConfig contains the monitoring HTTP API configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// AudioConfig contains audio handling parameters
type AudioConfig struct {
	ProcessingInterval float64 `yaml:"processing_interval"` // seconds of buffered audio per processing step
	WindowLen          float64 `yaml:"window_len"`          // seconds of audio kept in the sliding window
}

// ProcessorConfig selects and tunes the processing unit implementation
type ProcessorConfig struct {
	Backend           string  `yaml:"backend"` // "local" or "remote"
	MatchingThreshold float64 `yaml:"matching_threshold"`
	SourceLanguage    string  `yaml:"source_language"`
	TargetLanguage    string  `yaml:"target_language"`
	SpeechChunkSize   float64 `yaml:"speech_chunk_size"` // seconds, reported to pooled clients

	// VAD gating in front of the local unit
	VADEnabled   bool    `yaml:"vad_enabled"`
	VADThreshold float64 `yaml:"vad_threshold"`

	// Remote backend target (also the unitserver bind address)
	RemoteHost string `yaml:"remote_host"`
	RemotePort int    `yaml:"remote_port"`
}

// RecognitionConfig contains the recognition backend API configuration
type RecognitionConfig struct {
	Endpoint      string `yaml:"endpoint"`
	APIKey        string `yaml:"api_key"`
	Timeout       int    `yaml:"timeout"` // seconds
	MaxRetries    int    `yaml:"max_retries"`
	MaxConcurrent int    `yaml:"max_concurrent"`
}

// PoolConfig contains processing unit pool configuration
type PoolConfig struct {
	Capacity   int     `yaml:"capacity"`
	TTLSeconds float64 `yaml:"ttl_seconds"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate performs validation of the full configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}
	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}
	if err := c.Processor.Validate(); err != nil {
		return fmt.Errorf("processor config: %w", err)
	}
	if err := c.Recognition.Validate(); err != nil {
		return fmt.Errorf("recognition config: %w", err)
	}
	if err := c.Pool.Validate(); err != nil {
		return fmt.Errorf("pool config: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	return nil
}

// Validate validates streaming server configuration
func (s *ServerConfig) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", s.Port)
	}
	if s.BindAddress == "" {
		return fmt.Errorf("bind_address cannot be empty")
	}
	return nil
}

// Validate validates monitoring HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}
		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}
	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.ProcessingInterval <= 0 {
		return fmt.Errorf("processing_interval must be positive, got %f", a.ProcessingInterval)
	}
	if a.WindowLen <= 0 {
		return fmt.Errorf("window_len must be positive, got %f", a.WindowLen)
	}
	if a.WindowLen < a.ProcessingInterval {
		return fmt.Errorf("window_len (%f) must be at least processing_interval (%f)",
			a.WindowLen, a.ProcessingInterval)
	}
	return nil
}

// Validate validates processor configuration
func (p *ProcessorConfig) Validate() error {
	if p.Backend != "local" && p.Backend != "remote" {
		return fmt.Errorf("backend must be 'local' or 'remote', got '%s'", p.Backend)
	}
	if p.MatchingThreshold <= 0 || p.MatchingThreshold > 1 {
		return fmt.Errorf("matching_threshold must be in (0, 1], got %f", p.MatchingThreshold)
	}
	if p.SpeechChunkSize <= 0 {
		return fmt.Errorf("speech_chunk_size must be positive, got %f", p.SpeechChunkSize)
	}
	if p.VADEnabled && (p.VADThreshold <= 0 || p.VADThreshold >= 1) {
		return fmt.Errorf("vad_threshold must be in (0, 1), got %f", p.VADThreshold)
	}
	if p.Backend == "remote" {
		if p.RemoteHost == "" {
			return fmt.Errorf("remote_host cannot be empty for the remote backend")
		}
		if p.RemotePort < 1 || p.RemotePort > 65535 {
			return fmt.Errorf("remote_port must be between 1 and 65535, got %d", p.RemotePort)
		}
	}
	return nil
}

// Validate validates recognition backend configuration
func (r *RecognitionConfig) Validate() error {
	if r.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}
	if r.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", r.Timeout)
	}
	if r.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", r.MaxRetries)
	}
	if r.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", r.MaxConcurrent)
	}
	return nil
}

// Validate validates pool configuration
func (p *PoolConfig) Validate() error {
	if p.Capacity < 1 {
		return fmt.Errorf("capacity must be at least 1, got %d", p.Capacity)
	}
	if p.TTLSeconds <= 0 {
		return fmt.Errorf("ttl_seconds must be positive, got %f", p.TTLSeconds)
	}
	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}
	return nil
}

// GetProcessingInterval returns the processing interval as a time.Duration
func (a *AudioConfig) GetProcessingInterval() time.Duration {
	return time.Duration(a.ProcessingInterval * float64(time.Second))
}

// GetWindowLen returns the sliding window length as a time.Duration
func (a *AudioConfig) GetWindowLen() time.Duration {
	return time.Duration(a.WindowLen * float64(time.Second))
}

// GetTTL returns the session time-to-live as a time.Duration
func (p *PoolConfig) GetTTL() time.Duration {
	return time.Duration(p.TTLSeconds * float64(time.Second))
}

// GetTimeoutDuration returns the recognition request timeout as a time.Duration
func (r *RecognitionConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(r.Timeout) * time.Second
}
