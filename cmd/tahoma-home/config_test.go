package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tahoma-go-home/internal/coordinator"
)

func TestParseConfigDefaults(t *testing.T) {
	cfg, err := parseConfig([]byte("gateway:\n  ip: 192.168.1.20\n  token: abc\n"))
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	if cfg.PollingInterval != 10 {
		t.Errorf("polling_interval = %d, want 10", cfg.PollingInterval)
	}
	if cfg.LogState == nil || !*cfg.LogState {
		t.Error("log_state should default to true")
	}
	if cfg.LogInterval != 30 {
		t.Errorf("log_interval = %d, want 30", cfg.LogInterval)
	}
	if cfg.NamePrefix != coordinator.DefaultNamePrefix {
		t.Errorf("name_prefix = %q", cfg.NamePrefix)
	}
	if cfg.Web.Listen != "127.0.0.1:8080" || cfg.Store.Path != "tahoma-home.db" || cfg.ScriptsDir != "scripts" {
		t.Errorf("listen/store/scripts = %q/%q/%q", cfg.Web.Listen, cfg.Store.Path, cfg.ScriptsDir)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Errorf("log = %q/%q", cfg.Log.Level, cfg.Log.Format)
	}
	if cfg.Filters.ExcludeKeywords != nil || cfg.Filters.MovementKeywords != nil {
		t.Error("unset keyword lists should stay nil so the classifier defaults apply")
	}
}

func TestParseConfigValues(t *testing.T) {
	data := `
gateway:
  ip: 10.0.0.5:8443
  token: secret
polling_interval: 3
log_state: false
log_interval: 1000
name_prefix: Store
debug_mode: true
filters:
  exclude_device_urls: ["io://1/9"]
  exclude_keywords: []
mqtt:
  enabled: true
  broker: tcp://localhost:1883
influxdb:
  enabled: true
  url: http://localhost:8086
  bucket: covers
`
	cfg, err := parseConfig([]byte(data))
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	cc := cfg.coordinatorConfig()
	if cc.PollInterval != 3*time.Second {
		t.Errorf("poll interval = %v", cc.PollInterval)
	}
	if cc.LogState {
		t.Error("log_state false was overridden")
	}
	if cc.LogInterval != coordinator.MaxLogInterval {
		t.Errorf("log interval = %v, want clamped to %v", cc.LogInterval, coordinator.MaxLogInterval)
	}
	if cc.NamePrefix != "Store" || !cc.Debug {
		t.Errorf("prefix/debug = %q/%v", cc.NamePrefix, cc.Debug)
	}
	if len(cc.Filters.ExcludeDeviceURLs) != 1 || cc.Filters.ExcludeKeywords == nil || len(cc.Filters.ExcludeKeywords) != 0 {
		t.Errorf("filters = %+v", cc.Filters)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("debug_mode should raise log level, got %q", cfg.Log.Level)
	}
	if !cfg.InfluxDB.Enabled || cfg.InfluxDB.Bucket != "covers" {
		t.Errorf("influxdb = %+v", cfg.InfluxDB)
	}
}

func TestLogIntervalClampLow(t *testing.T) {
	cfg, err := parseConfig([]byte("gateway: {ip: a, token: b}\nlog_interval: 1\n"))
	if err != nil {
		t.Fatal(err)
	}
	if got := cfg.coordinatorConfig().LogInterval; got != coordinator.MinLogInterval {
		t.Errorf("log interval = %v, want %v", got, coordinator.MinLogInterval)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"missing ip", "gateway: {token: b}", "gateway.ip"},
		{"missing token", "gateway: {ip: a}", "gateway.token"},
		{"blank token", "gateway: {ip: a, token: '  '}", "gateway.token"},
		{"negative polling", "gateway: {ip: a, token: b}\npolling_interval: -1", "polling_interval"},
		{"mqtt without broker", "gateway: {ip: a, token: b}\nmqtt: {enabled: true}", "mqtt.broker"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := parseConfig([]byte(tt.yaml))
			if err != nil {
				t.Fatal(err)
			}
			err = cfg.validate()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("validate() = %v, want error mentioning %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	if _, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for a missing file")
	}

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("gateway: [not, a, map]"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := loadConfig(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestNewLoggerWritesFile(t *testing.T) {
	cfg, err := parseConfig([]byte("gateway: {ip: a, token: b}"))
	if err != nil {
		t.Fatal(err)
	}
	cfg.Log.Format = "json"
	cfg.Log.File = filepath.Join(t.TempDir(), "bridge.log")

	logger, closeLog := newLogger(cfg)
	logger.Info("hello", "component", "test")
	if err := closeLog(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(cfg.Log.File)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"msg":"hello"`) {
		t.Errorf("log file = %s", data)
	}
}
