package asyncbeats

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Myxogastria0808/asyncbeats/internal/audio"
	"github.com/Myxogastria0808/asyncbeats/internal/logging"
)

// Environment variables honored by LoadConfig
const (
	envConfigPath     = "ASYNCBEATS_CONFIG"
	envListenAddr     = "ASYNCBEATS_LISTEN"
	envPCMSocket      = "ASYNCBEATS_PCM_SOCKET"
	envLogLevel       = "LOG_LEVEL"
	envDelayThreshold = "DELAY_THRESHOLD"
)

// defaultDelayThreshold is the send count that flips the delay machine to
// enabled when DELAY_THRESHOLD is not configured
const defaultDelayThreshold = 3

// AudioFormatConfig is the stream format announced to listeners until the
// source announces its own
type AudioFormatConfig struct {
	SampleRate  int `yaml:"sample_rate"`
	Channels    int `yaml:"channels"`
	FrameSizeMs int `yaml:"frame_size_ms"`
}

// FrameSize returns the frame duration
func (a AudioFormatConfig) FrameSize() time.Duration {
	return time.Duration(a.FrameSizeMs) * time.Millisecond
}

// Config holds the middle server configuration
type Config struct {
	ListenAddr          string            `yaml:"listen_addr"`
	PCMSocketPath       string            `yaml:"pcm_socket_path"`
	LogLevel            string            `yaml:"log_level"`
	DelayThreshold      uint64            `yaml:"delay_threshold"`
	DelayCompensationMs int               `yaml:"delay_compensation_ms"`
	MetricsIntervalSec  int               `yaml:"metrics_interval_sec"`
	Audio               AudioFormatConfig `yaml:"audio"`
	ICEServers          []string          `yaml:"ice_servers"`
}

var config *Config

func defaultConfig() *Config {
	return &Config{
		ListenAddr:         ":8080",
		LogLevel:           "info",
		DelayThreshold:     defaultDelayThreshold,
		MetricsIntervalSec: 5,
		Audio: AudioFormatConfig{
			SampleRate:  48000,
			Channels:    2,
			FrameSizeMs: 20,
		},
	}
}

// LoadConfig resolves and installs the process configuration. Configuration
// errors are fatal; the server never runs with a partially applied config.
func LoadConfig() {
	cfg, err := resolveConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	config = cfg
	logging.SetLevel(cfg.LogLevel)

	// The ingest socket path travels through the environment so the audio
	// package and the source tooling resolve the same location
	if cfg.PCMSocketPath != "" {
		os.Setenv(envPCMSocket, cfg.PCMSocketPath)
	}

	logger.Info().
		Str("listen_addr", cfg.ListenAddr).
		Str("pcm_socket", audio.GetPCMSocketPath()).
		Uint64("delay_threshold", cfg.DelayThreshold).
		Msg("configuration loaded")
}

// resolveConfig layers defaults, the optional YAML file named by
// ASYNCBEATS_CONFIG, and environment overrides, then validates the result
func resolveConfig() (*Config, error) {
	cfg := defaultConfig()

	if path := os.Getenv(envConfigPath); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides lets single environment variables override file values
func applyEnvOverrides(cfg *Config) error {
	if addr := os.Getenv(envListenAddr); addr != "" {
		cfg.ListenAddr = addr
	}
	if path := os.Getenv(envPCMSocket); path != "" {
		cfg.PCMSocketPath = path
	}
	if level := os.Getenv(envLogLevel); level != "" {
		cfg.LogLevel = level
	}
	if raw := os.Getenv(envDelayThreshold); raw != "" {
		// Negative and non-numeric thresholds fail loudly, never clamped
		threshold, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("parse %s %q: %w", envDelayThreshold, raw, err)
		}
		cfg.DelayThreshold = threshold
	}
	return nil
}

// Validate rejects configurations the server cannot run with
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr must not be empty")
	}
	if c.DelayCompensationMs < 0 {
		return fmt.Errorf("delay_compensation_ms must not be negative")
	}
	if c.MetricsIntervalSec <= 0 {
		return fmt.Errorf("metrics_interval_sec must be positive")
	}
	if err := audio.ValidatePCMConfig(c.Audio.SampleRate, c.Audio.Channels, c.Audio.FrameSize()); err != nil {
		return fmt.Errorf("audio format: %w", err)
	}
	return nil
}

// PCMConfig converts the configured audio format for the audio package
func (c *Config) PCMConfig() audio.PCMConfig {
	return audio.PCMConfig{
		SampleRate: c.Audio.SampleRate,
		Channels:   c.Audio.Channels,
		FrameSize:  c.Audio.FrameSize(),
	}
}

// DelayCompensation returns the configured compensation pause. Zero keeps
// the relay default of one frame interval.
func (c *Config) DelayCompensation() time.Duration {
	return time.Duration(c.DelayCompensationMs) * time.Millisecond
}

// MetricsInterval returns the Prometheus update interval
func (c *Config) MetricsInterval() time.Duration {
	return time.Duration(c.MetricsIntervalSec) * time.Second
}

// RelayConfig builds the per-session relay parameters from the current
// stream format and the configured delay machine settings
func (c *Config) RelayConfig() audio.RelayConfig {
	return audio.RelayConfig{
		PCM:               audio.GetPCMConfig(),
		DelayThreshold:    c.DelayThreshold,
		DelayCompensation: c.DelayCompensation(),
	}
}
