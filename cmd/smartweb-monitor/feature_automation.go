//go:build !no_automation

package main

import (
	"log/slog"

	"smartweb-monitor/internal/automation"
	"smartweb-monitor/internal/monitor"
	"smartweb-monitor/internal/web"
)

type autoStopper struct {
	engine *automation.Engine
}

func (a *autoStopper) Stop() {
	if a.engine != nil {
		a.engine.Stop()
	}
}

func initAutomation(mon *monitor.Monitor, cfg *Config, logger *slog.Logger) (*autoStopper, []web.ServerOption) {
	scriptMgr, err := automation.NewManager(cfg.Automation.ScriptsDir)
	if err != nil {
		logger.Error("create script manager", "dir", cfg.Automation.ScriptsDir, "err", err)
		return &autoStopper{}, nil
	}

	engine := automation.NewEngine(mon, scriptMgr, logger, automation.Config{
		CommandRate:  cfg.Automation.CommandRate,
		CommandBurst: cfg.Automation.CommandBurst,
		RunTimeout:   cfg.runTimeout,
	})
	engine.Start()

	return &autoStopper{engine: engine}, []web.ServerOption{
		web.WithAutomation(engine, scriptMgr),
	}
}
