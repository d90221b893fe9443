package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig(writeConfig(t, "controller:\n  endpoint: ws://10.0.0.1/ws\n"))
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.validate(); err != nil {
		t.Fatal(err)
	}
	if cfg.Web.Listen != "127.0.0.1:8080" {
		t.Errorf("listen = %q", cfg.Web.Listen)
	}
	if cfg.MQTT.TopicPrefix != "smartweb" || cfg.Automation.ScriptsDir != "scripts" {
		t.Errorf("defaults = %q %q", cfg.MQTT.TopicPrefix, cfg.Automation.ScriptsDir)
	}
	if !cfg.autoMonitor() {
		t.Error("auto_monitor should default to true")
	}
	if cfg.reconnectInterval != 0 || cfg.ackTimeout != 0 {
		t.Error("unset durations should stay zero so package defaults apply")
	}
}

func TestLoadConfigDurations(t *testing.T) {
	cfg, err := loadConfig(writeConfig(t, `
controller:
  endpoint: wss://ecs.example/ws
  reconnect_interval: 1500ms
  ack_timeout: 8s
  auto_monitor: false
automation:
  run_timeout: 2s
`))
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.validate(); err != nil {
		t.Fatal(err)
	}
	if cfg.reconnectInterval != 1500*time.Millisecond || cfg.ackTimeout != 8*time.Second || cfg.runTimeout != 2*time.Second {
		t.Errorf("durations = %v %v %v", cfg.reconnectInterval, cfg.ackTimeout, cfg.runTimeout)
	}
	if cfg.autoMonitor() {
		t.Error("auto_monitor: false ignored")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"missing endpoint", "web:\n  listen: :9000\n", "controller.endpoint is required"},
		{"http endpoint", "controller:\n  endpoint: http://x/ws\n", "ws:// or wss://"},
		{"bad duration", "controller:\n  endpoint: ws://x/ws\n  ack_timeout: soon\n", "controller.ack_timeout"},
		{"negative duration", "controller:\n  endpoint: ws://x/ws\n  write_timeout: -1s\n", "controller.write_timeout"},
		{"mqtt without broker", "controller:\n  endpoint: ws://x/ws\nmqtt:\n  enabled: true\n", "mqtt.broker"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := loadConfig(writeConfig(t, tt.body))
			if err != nil {
				t.Fatal(err)
			}
			err = cfg.validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("validate() = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestLoadConfigErrors(t *testing.T) {
	if _, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected read error")
	}
	if _, err := loadConfig(writeConfig(t, "controller: [")); err == nil {
		t.Error("expected parse error")
	}
}
