//go:build no_automation

package main

import (
	"log/slog"

	"smartweb-monitor/internal/monitor"
	"smartweb-monitor/internal/web"
)

type autoStopper struct{}

func (a *autoStopper) Stop() {}

func initAutomation(_ *monitor.Monitor, _ *Config, _ *slog.Logger) (*autoStopper, []web.ServerOption) {
	return &autoStopper{}, nil
}
