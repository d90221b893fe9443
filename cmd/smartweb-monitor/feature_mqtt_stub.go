//go:build no_mqtt

package main

import (
	"log/slog"

	"smartweb-monitor/internal/monitor"
)

type mqttStopper struct{}

func (m *mqttStopper) Stop() {}

func initMQTT(_ *monitor.Monitor, _ *Config, _ *slog.Logger) *mqttStopper {
	return &mqttStopper{}
}
