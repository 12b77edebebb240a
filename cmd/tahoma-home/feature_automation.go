//go:build !no_automation

package main

import (
	"log/slog"

	"tahoma-go-home/internal/automation"
	"tahoma-go-home/internal/coordinator"
	"tahoma-go-home/internal/web"
)

type autoStopper struct {
	engine *automation.Engine
}

func (a *autoStopper) Stop() {
	if a.engine != nil {
		a.engine.Stop()
	}
}

func initAutomation(coord *coordinator.Coordinator, cfg *Config, logger *slog.Logger) (*autoStopper, []web.ServerOption) {
	scriptMgr, err := automation.NewManager(cfg.ScriptsDir)
	if err != nil {
		logger.Error("create script manager", "dir", cfg.ScriptsDir, "err", err)
		return &autoStopper{}, nil
	}

	engine := automation.NewEngine(coord, scriptMgr, logger)
	engine.Start()

	return &autoStopper{engine: engine}, []web.ServerOption{
		web.WithAutomation(engine, scriptMgr),
	}
}
