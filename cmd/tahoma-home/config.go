package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
	"gopkg.in/yaml.v3"

	"tahoma-go-home/internal/classifier"
	"tahoma-go-home/internal/coordinator"
	"tahoma-go-home/internal/influxdb"
)

type Config struct {
	Gateway struct {
		IP      string `yaml:"ip"` // ip[:port]
		Token   string `yaml:"token"`
		Timeout int    `yaml:"timeout"` // seconds
	} `yaml:"gateway"`
	PollingInterval int                `yaml:"polling_interval"` // seconds
	LogState        *bool              `yaml:"log_state"`
	LogInterval     int                `yaml:"log_interval"` // seconds
	NamePrefix      string             `yaml:"name_prefix"`
	DebugMode       bool               `yaml:"debug_mode"`
	Filters         classifier.Filters `yaml:"filters"`
	Web             struct {
		Listen         string   `yaml:"listen"`
		APIKey         string   `yaml:"api_key"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"web"`
	Store struct {
		Path string `yaml:"path"`
	} `yaml:"store"`
	MQTT struct {
		Enabled     bool   `yaml:"enabled"`
		Broker      string `yaml:"broker"`
		Username    string `yaml:"username"`
		Password    string `yaml:"password"`
		TopicPrefix string `yaml:"topic_prefix"`
		ClientID    string `yaml:"client_id"`
	} `yaml:"mqtt"`
	InfluxDB influxdb.Config `yaml:"influxdb"`
	Log      struct {
		Level      string `yaml:"level"`
		Format     string `yaml:"format"`
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		Compress   bool   `yaml:"compress"`
	} `yaml:"log"`
	ScriptsDir string `yaml:"scripts_dir"`
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.Gateway.IP) == "" {
		return fmt.Errorf("gateway.ip is required")
	}
	if strings.TrimSpace(c.Gateway.Token) == "" {
		return fmt.Errorf("gateway.token is required")
	}
	if c.PollingInterval <= 0 {
		return fmt.Errorf("polling_interval must be positive, got %d", c.PollingInterval)
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	return nil
}

// coordinatorConfig converts the file settings into coordinator units.
func (c *Config) coordinatorConfig() coordinator.Config {
	return coordinator.Config{
		PollInterval: time.Duration(c.PollingInterval) * time.Second,
		LogState:     *c.LogState,
		LogInterval:  coordinator.ClampLogInterval(time.Duration(c.LogInterval) * time.Second),
		NamePrefix:   c.NamePrefix,
		Filters:      c.Filters,
		Debug:        c.DebugMode,
	}
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return parseConfig(data)
}

func parseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.PollingInterval == 0 {
		c.PollingInterval = 10
	}
	if c.LogState == nil {
		enabled := true
		c.LogState = &enabled
	}
	if c.LogInterval == 0 {
		c.LogInterval = 30
	}
	if c.NamePrefix == "" {
		c.NamePrefix = coordinator.DefaultNamePrefix
	}
	if c.Web.Listen == "" {
		c.Web.Listen = "127.0.0.1:8080"
	}
	if c.Store.Path == "" {
		c.Store.Path = "tahoma-home.db"
	}
	if c.ScriptsDir == "" {
		c.ScriptsDir = "scripts"
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "tahoma"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.DebugMode {
		c.Log.Level = "debug"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = 10
	}
	if c.Log.MaxBackups == 0 {
		c.Log.MaxBackups = 3
	}
}

// newLogger builds the configured logger. When log.file is set, output goes
// to stdout and to a rotated file; the returned func releases the file.
func newLogger(cfg *Config) (*slog.Logger, func() error) {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var out io.Writer = os.Stdout
	closeLog := func() error { return nil }
	if cfg.Log.File != "" {
		rotated := &lumberjack.Logger{
			Filename:   filepath.Clean(cfg.Log.File),
			MaxSize:    cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			Compress:   cfg.Log.Compress,
		}
		out = io.MultiWriter(os.Stdout, rotated)
		closeLog = rotated.Close
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "json":
		handler = slog.NewJSONHandler(out, opts)
	default:
		handler = slog.NewTextHandler(out, opts)
	}
	return slog.New(handler), closeLog
}
