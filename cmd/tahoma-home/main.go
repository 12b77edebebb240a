package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v3"

	"tahoma-go-home/internal/coordinator"
	"tahoma-go-home/internal/gateway"
	"tahoma-go-home/internal/influxdb"
	"tahoma-go-home/internal/store"
	"tahoma-go-home/internal/web"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	// Temporary logger for config loading errors.
	bootLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	fs := flag.NewFlagSet("tahoma-home", flag.ExitOnError)
	cfgPath := fs.String("config", "config.yaml", "path to the YAML configuration file")
	if err := ff.Parse(fs, os.Args[1:], ff.WithEnvVarPrefix("TAHOMA")); err != nil {
		bootLogger.Error("parse arguments", "err", err)
		os.Exit(1)
	}

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		bootLogger.Error("load config", "err", err)
		os.Exit(1)
	}
	if err := cfg.validate(); err != nil {
		bootLogger.Error("invalid config", "err", err)
		os.Exit(1)
	}

	logger, closeLog := newLogger(cfg)
	defer closeLog()
	slog.SetDefault(logger)
	logger.Info("tahoma-go-home starting", "version", version, "gateway", cfg.Gateway.IP)

	db, err := store.NewBoltStore(cfg.Store.Path)
	if err != nil {
		logger.Error("open store", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	gw, err := gateway.NewClient(gateway.Config{
		Host:    cfg.Gateway.IP,
		Token:   cfg.Gateway.Token,
		Timeout: time.Duration(cfg.Gateway.Timeout) * time.Second,
	})
	if err != nil {
		logger.Error("create gateway client", "err", err)
		os.Exit(1)
	}

	events := coordinator.NewEventBus(logger)
	coord := coordinator.New(gw, db, events, cfg.coordinatorConfig(), logger)

	history, err := influxdb.Connect(cfg.InfluxDB, logger)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
	case err != nil:
		logger.Warn("position history disabled", "err", err)
	default:
		defer history.Close()
		coord.SetRecorder(history)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := coord.Start(ctx); err != nil {
		logger.Error("start coordinator", "err", err)
		cancel()
		os.Exit(1)
	}
	cancel()

	// Start automation engine (no-op when built with no_automation tag).
	auto, autoWebOpts := initAutomation(coord, cfg, logger)

	var webOpts []web.ServerOption
	if cfg.Web.APIKey != "" {
		webOpts = append(webOpts, web.WithAPIKey(cfg.Web.APIKey))
	}
	if len(cfg.Web.AllowedOrigins) > 0 {
		webOpts = append(webOpts, web.WithAllowedOrigins(cfg.Web.AllowedOrigins))
	}
	webOpts = append(webOpts, web.WithVersion(version))
	webOpts = append(webOpts, autoWebOpts...)

	webServer, err := web.NewServer(coord, logger, webOpts...)
	if err != nil {
		logger.Error("create web server", "err", err)
		os.Exit(1)
	}

	httpServer := &http.Server{
		Addr:         cfg.Web.Listen,
		Handler:      webServer,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("web server starting", "addr", cfg.Web.Listen)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", "err", err)
		}
	}()

	// Start MQTT bridge (no-op when built with no_mqtt tag).
	mqtt := initMQTT(coord, cfg, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	signal.Stop(sigCh)
	logger.Info("shutting down", "signal", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	auto.Stop()
	mqtt.Stop()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown", "err", err)
	}
	webServer.Stop()
	coord.Stop()

	logger.Info("goodbye")
}
