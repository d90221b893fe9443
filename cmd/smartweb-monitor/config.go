package main

import (
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Controller struct {
		Endpoint             string `yaml:"endpoint"` // ws://host/ws
		Username             string `yaml:"username"`
		Password             string `yaml:"password"`
		ReconnectInterval    string `yaml:"reconnect_interval"`
		MaxReconnectAttempts int    `yaml:"max_reconnect_attempts"`
		WriteTimeout         string `yaml:"write_timeout"`
		AckTimeout           string `yaml:"ack_timeout"`
		ReadLimit            int64  `yaml:"read_limit"`
		// AutoMonitor starts camera and system monitoring after every login.
		AutoMonitor *bool `yaml:"auto_monitor"`
	} `yaml:"controller"`
	Web struct {
		Listen         string   `yaml:"listen"`
		APIKey         string   `yaml:"api_key"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"web"`
	Journal struct {
		Path      string `yaml:"path"` // empty disables the journal
		MaxFrames int    `yaml:"max_frames"`
	} `yaml:"journal"`
	MQTT struct {
		Enabled     bool   `yaml:"enabled"`
		Broker      string `yaml:"broker"`
		Username    string `yaml:"username"`
		Password    string `yaml:"password"`
		ClientID    string `yaml:"client_id"`
		TopicPrefix string `yaml:"topic_prefix"`
	} `yaml:"mqtt"`
	Automation struct {
		ScriptsDir   string  `yaml:"scripts_dir"`
		CommandRate  float64 `yaml:"command_rate"`
		CommandBurst int     `yaml:"command_burst"`
		RunTimeout   string  `yaml:"run_timeout"`
	} `yaml:"automation"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`

	reconnectInterval time.Duration
	writeTimeout      time.Duration
	ackTimeout        time.Duration
	runTimeout        time.Duration
}

func (c *Config) validate() error {
	if c.Controller.Endpoint == "" {
		return fmt.Errorf("controller.endpoint is required")
	}
	u, err := url.Parse(c.Controller.Endpoint)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return fmt.Errorf("controller.endpoint must be a ws:// or wss:// URL, got %q", c.Controller.Endpoint)
	}
	if c.Controller.MaxReconnectAttempts < 0 {
		return fmt.Errorf("controller.max_reconnect_attempts must not be negative")
	}
	if c.Journal.MaxFrames < 0 {
		return fmt.Errorf("journal.max_frames must not be negative")
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	if c.Automation.CommandRate < 0 {
		return fmt.Errorf("automation.command_rate must not be negative")
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"controller.reconnect_interval", c.Controller.ReconnectInterval, &c.reconnectInterval},
		{"controller.write_timeout", c.Controller.WriteTimeout, &c.writeTimeout},
		{"controller.ack_timeout", c.Controller.AckTimeout, &c.ackTimeout},
		{"automation.run_timeout", c.Automation.RunTimeout, &c.runTimeout},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil || v <= 0 {
			return fmt.Errorf("%s: invalid duration %q", d.key, d.raw)
		}
		*d.dst = v
	}
	return nil
}

func (c *Config) autoMonitor() bool {
	return c.Controller.AutoMonitor == nil || *c.Controller.AutoMonitor
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Web.Listen == "" {
		cfg.Web.Listen = "127.0.0.1:8080"
	}
	if cfg.Journal.MaxFrames == 0 {
		cfg.Journal.MaxFrames = 100000
	}
	if cfg.Automation.ScriptsDir == "" {
		cfg.Automation.ScriptsDir = "scripts"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "smartweb"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	return &cfg, nil
}

func newLogger(level, format string, w io.Writer) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}
