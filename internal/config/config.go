// Package config loads the framewatch YAML configuration.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds runtime configuration. Fields are loaded from a YAML file
// and may be overridden by command-line flags.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Store    StoreConfig    `yaml:"store"`
	Capture  CaptureConfig  `yaml:"capture"`
	Detector DetectorConfig `yaml:"detector"`
	Scorer   ScorerConfig   `yaml:"scorer"`
	Loop     LoopConfig     `yaml:"loop"`
	Log      LogConfig      `yaml:"log"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
}

// ServerConfig contains HTTP settings
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	StaticDir       string        `yaml:"static_dir"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StoreConfig contains run history settings
type StoreConfig struct {
	Path         string `yaml:"path"`
	HistoryLimit int    `yaml:"history_limit"`
}

// CaptureConfig contains the requested capture size and frame rate
// (0 keeps the source default)
type CaptureConfig struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
	FPS    int `yaml:"fps"`
}

// DetectorConfig contains per-source detector settings
type DetectorConfig struct {
	Threshold         float64       `yaml:"threshold"`
	BufferSize        int           `yaml:"buffer_size"`
	BurstInterval     time.Duration `yaml:"burst_interval"`
	WindowSize        int           `yaml:"window_size"`
	MinDimension      int           `yaml:"min_dimension"`
	MaintenanceEvery  uint64        `yaml:"maintenance_every"`
	MaintenanceBudget time.Duration `yaml:"maintenance_budget"`
}

// ScorerConfig selects an external model process. An empty command uses
// the built-in placeholder scorer.
type ScorerConfig struct {
	Command     string        `yaml:"command"`
	Args        []string      `yaml:"args"`
	// Codec is the wire format spoken with the process: json or msgpack.
	Codec       string        `yaml:"codec"`
	IdleTimeout time.Duration `yaml:"idle_timeout"`
}

// LoopConfig contains capture loop timings
type LoopConfig struct {
	ProgressEvery   uint64        `yaml:"progress_every"`
	RetryDelay      time.Duration `yaml:"retry_delay"`
	MaxRetryDelay   time.Duration `yaml:"max_retry_delay"`
	MaxReadFailures int           `yaml:"max_read_failures"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// MQTTConfig contains MQTT broker settings. An empty broker disables MQTT.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
	QoS      byte   `yaml:"qos"`
}

// Default returns a Config populated with standard defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Store: StoreConfig{
			Path:         "framewatch.db",
			HistoryLimit: 100,
		},
		Detector: DetectorConfig{
			Threshold:         0.5,
			BufferSize:        30,
			BurstInterval:     16 * time.Millisecond,
			WindowSize:        3,
			MinDimension:      50,
			MaintenanceEvery:  100,
			MaintenanceBudget: 50 * time.Millisecond,
		},
		Scorer: ScorerConfig{
			Codec:       "json",
			IdleTimeout: 30 * time.Second,
		},
		Loop: LoopConfig{
			ProgressEvery:   50,
			RetryDelay:      10 * time.Millisecond,
			MaxRetryDelay:   time.Second,
			MaxReadFailures: 100,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		MQTT: MQTTConfig{
			Topic:    "framewatch/progress",
			ClientID: "framewatch",
		},
	}
}

// Validate clamps numeric values to safe ranges and rejects settings that
// cannot be repaired.
func (c *Config) Validate() error {
	d := Default()

	if c.Server.Addr == "" {
		c.Server.Addr = d.Server.Addr
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = d.Server.ShutdownTimeout
	}
	if c.Store.Path == "" {
		c.Store.Path = d.Store.Path
	}
	if c.Store.HistoryLimit <= 0 {
		c.Store.HistoryLimit = d.Store.HistoryLimit
	}
	if c.Capture.Width < 0 || c.Capture.Height < 0 {
		c.Capture.Width, c.Capture.Height = 0, 0
	}
	if c.Capture.FPS < 0 {
		c.Capture.FPS = 0
	}

	if c.Detector.Threshold <= 0 || c.Detector.Threshold > 1 {
		c.Detector.Threshold = d.Detector.Threshold
	}
	if c.Detector.BufferSize <= 0 {
		c.Detector.BufferSize = d.Detector.BufferSize
	}
	if c.Detector.BurstInterval <= 0 {
		c.Detector.BurstInterval = d.Detector.BurstInterval
	}
	if c.Detector.WindowSize < 1 {
		c.Detector.WindowSize = d.Detector.WindowSize
	}
	if c.Detector.MinDimension <= 0 {
		c.Detector.MinDimension = d.Detector.MinDimension
	}
	if c.Detector.MaintenanceEvery == 0 {
		c.Detector.MaintenanceEvery = d.Detector.MaintenanceEvery
	}
	if c.Detector.MaintenanceBudget <= 0 {
		c.Detector.MaintenanceBudget = d.Detector.MaintenanceBudget
	}
	if c.Scorer.IdleTimeout <= 0 {
		c.Scorer.IdleTimeout = d.Scorer.IdleTimeout
	}
	switch strings.ToLower(c.Scorer.Codec) {
	case "":
		c.Scorer.Codec = d.Scorer.Codec
	case "json", "msgpack":
		c.Scorer.Codec = strings.ToLower(c.Scorer.Codec)
	default:
		return fmt.Errorf("scorer.codec: unknown codec %q", c.Scorer.Codec)
	}

	if c.Loop.ProgressEvery == 0 {
		c.Loop.ProgressEvery = d.Loop.ProgressEvery
	}
	if c.Loop.RetryDelay <= 0 {
		c.Loop.RetryDelay = d.Loop.RetryDelay
	}
	if c.Loop.MaxRetryDelay < c.Loop.RetryDelay {
		c.Loop.MaxRetryDelay = max(d.Loop.MaxRetryDelay, c.Loop.RetryDelay)
	}
	if c.Loop.MaxReadFailures <= 0 {
		c.Loop.MaxReadFailures = d.Loop.MaxReadFailures
	}

	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	switch strings.ToLower(c.Log.Format) {
	case "":
		c.Log.Format = d.Log.Format
	case "text", "json":
	default:
		return fmt.Errorf("log.format: unknown format %q", c.Log.Format)
	}

	if c.MQTT.Topic == "" {
		c.MQTT.Topic = d.MQTT.Topic
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = d.MQTT.ClientID
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos: must be 0, 1 or 2, got %d", c.MQTT.QoS)
	}

	return nil
}

// Load reads configuration from the given YAML file path. If the file does
// not exist it returns Default().
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Logger builds a slog.Logger writing to w according to the log settings.
func (l LogConfig) Logger(w io.Writer) *slog.Logger {
	level, err := parseLevel(l.Level)
	if err != nil {
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(l.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}
