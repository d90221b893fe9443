//go:build !no_mqtt

// Package mqtt mirrors the camera tree to an MQTT broker and accepts a small
// set of commands back.
package mqtt

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/goccy/go-json"

	"smartweb-monitor/internal/conn"
	"smartweb-monitor/internal/ecs"
	"smartweb-monitor/internal/monitor"
)

// Config holds MQTT bridge configuration.
type Config struct {
	Broker      string
	Username    string
	Password    string
	ClientID    string
	TopicPrefix string
}

// Client is the part of the paho client the bridge talks to.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
	Subscribe(topic string, qos byte, callback pahomqtt.MessageHandler) pahomqtt.Token
	Disconnect(quiesce uint)
}

// Bridge publishes monitor state as retained topics under the prefix.
type Bridge struct {
	client Client
	mon    *monitor.Monitor
	prefix string
	logger *slog.Logger
	unsub  func()

	mu         sync.Mutex
	discovered map[string]bool // device id -> discovery sent
	cameras    map[string]bool // camera topics currently retained
}

// NewBridge creates and connects an MQTT bridge.
func NewBridge(mon *monitor.Monitor, cfg Config, logger *slog.Logger) (*Bridge, error) {
	if cfg.ClientID == "" {
		cfg.ClientID = "smartweb-monitor"
	}
	b := newBridge(mon, nil, cfg.TopicPrefix, logger)

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(cfg.TopicPrefix+"/bridge/state", "offline", 1, true).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			b.logger.Info("MQTT connected")
			b.onConnect()
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			b.logger.Warn("MQTT connection lost", "err", err)
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := pahomqtt.NewClient(opts)
	b.client = client
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return b, nil
}

func newBridge(mon *monitor.Monitor, client Client, prefix string, logger *slog.Logger) *Bridge {
	return &Bridge{
		client:     client,
		mon:        mon,
		prefix:     prefix,
		logger:     logger.With("component", "mqtt"),
		discovered: make(map[string]bool),
		cameras:    make(map[string]bool),
	}
}

// Start subscribes to monitor events.
func (b *Bridge) Start() {
	b.unsub = b.mon.Events().OnAll(b.handleEvent)
	b.logger.Info("MQTT bridge started", "prefix", b.prefix)
}

// Stop publishes offline state, unsubscribes and disconnects.
func (b *Bridge) Stop() {
	if b.unsub != nil {
		b.unsub()
	}
	token := b.client.Publish(b.prefix+"/bridge/state", 1, true, "offline")
	token.WaitTimeout(2 * time.Second)
	b.client.Disconnect(1000)
	b.logger.Info("MQTT bridge stopped")
}

// onConnect runs on every (re)connect: the broker may have lost retained
// state, so everything is sent again.
func (b *Bridge) onConnect() {
	b.publish(b.prefix+"/bridge/state", []byte("online"), true)

	b.mu.Lock()
	b.discovered = make(map[string]bool)
	b.mu.Unlock()

	for _, msg := range buildBridgeDiscovery(b.prefix) {
		b.publish(msg.Topic, msg.Payload, true)
	}
	engine := b.mon.Engine()
	for _, dev := range engine.Devices() {
		b.publishDevice(dev)
	}
	b.publishCameras(engine.UniqueCameras())
	if sys := b.mon.System.State(); !sys.LastUpdated.IsZero() {
		b.publish(b.prefix+"/system", mustJSON(sys.Info), true)
	}
	b.publishStatus()
	b.subscribeCommands()
}

func (b *Bridge) handleEvent(ev monitor.Event) {
	switch ev.Type {
	case monitor.EventStatusChanged, monitor.EventLogin, monitor.EventLogout, monitor.EventAutoScanChanged:
		b.publishStatus()
	case monitor.EventDeviceUpdated:
		if d, ok := ev.Data.(monitor.DeviceData); ok && d.Device != nil {
			b.publishDevice(d.Device)
		}
	case monitor.EventCamerasUpdated:
		if d, ok := ev.Data.(monitor.CamerasData); ok {
			b.publishCameras(d.Cameras)
		}
	case monitor.EventSystemSnapshot:
		if d, ok := ev.Data.(monitor.SystemData); ok {
			b.publish(b.prefix+"/system", mustJSON(d.Info), true)
		}
	case monitor.EventServerError:
		b.publish(b.prefix+"/events", mustJSON(ev), false)
	}
}

type statusPayload struct {
	Status    conn.Status `json:"status"`
	LoggedIn  bool        `json:"logged_in"`
	Username  string      `json:"username,omitempty"`
	AutoScan  bool        `json:"autoscan"`
	Devices   int         `json:"devices"`
	Reconnect int         `json:"reconnect_attempts"`
}

func (b *Bridge) publishStatus() {
	stats := b.mon.Conn().Stats()
	auth := b.mon.Auth.State()
	engine := b.mon.Engine()
	b.publish(b.prefix+"/status", mustJSON(statusPayload{
		Status:    stats.Status,
		LoggedIn:  auth.LoggedIn,
		Username:  auth.Username,
		AutoScan:  engine.AutoScan(),
		Devices:   engine.Len(),
		Reconnect: stats.Attempts,
	}), true)
}

func (b *Bridge) publishDevice(dev *ecs.Device) {
	b.mu.Lock()
	first := !b.discovered[dev.ID]
	b.discovered[dev.ID] = true
	b.mu.Unlock()

	if first {
		for _, msg := range buildDeviceDiscovery(dev, b.prefix) {
			b.publish(msg.Topic, msg.Payload, true)
		}
	}
	b.publish(deviceTopic(b.prefix, dev.ID), mustJSON(dev), true)
}

// publishCameras sends one retained topic per unique camera and clears the
// topics of cameras that are gone.
func (b *Bridge) publishCameras(cams []*ecs.Camera) {
	seen := make(map[string]bool, len(cams))
	for _, c := range cams {
		topic := cameraTopic(b.prefix, c.Name)
		seen[topic] = true
		b.publish(topic, mustJSON(c), true)
	}

	b.mu.Lock()
	var stale []string
	for topic := range b.cameras {
		if !seen[topic] {
			stale = append(stale, topic)
		}
	}
	b.cameras = seen
	b.mu.Unlock()

	for _, topic := range stale {
		b.publish(topic, []byte{}, true)
	}
}

func (b *Bridge) subscribeCommands() {
	topic := b.prefix + "/set"
	token := b.client.Subscribe(topic, 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		if err := b.handleCommand(msg.Payload()); err != nil {
			b.logger.Warn("MQTT command failed", "topic", msg.Topic(), "err", err)
		}
	})
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			b.logger.Warn("MQTT subscribe timeout", "topic", topic)
			return
		}
		if err := token.Error(); err != nil {
			b.logger.Error("MQTT subscribe failed", "topic", topic, "err", err)
		}
	}()
}

// setCommand is the payload accepted on <prefix>/set. Every present field
// is applied.
type setCommand struct {
	AutoScan *bool  `json:"autoscan"`
	Snapshot string `json:"snapshot"`
	Scan     bool   `json:"scan"`
	Fetch    bool   `json:"fetch"`
}

func (b *Bridge) handleCommand(payload []byte) error {
	var cmd setCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return fmt.Errorf("decode command: %w", err)
	}
	var errs []error
	if cmd.AutoScan != nil {
		errs = append(errs, b.mon.Cameras.SetAutoScan(*cmd.AutoScan))
	}
	if cmd.Snapshot != "" {
		errs = append(errs, b.mon.Cameras.TakeSnapshot(cmd.Snapshot))
	}
	if cmd.Scan {
		errs = append(errs, b.mon.Cameras.ScanCameras())
	}
	if cmd.Fetch {
		errs = append(errs, b.mon.Cameras.Fetch())
	}
	return errors.Join(errs...)
}

func (b *Bridge) publish(topic string, payload []byte, retained bool) {
	token := b.client.Publish(topic, 1, retained, payload)
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			b.logger.Warn("MQTT publish timeout", "topic", topic)
			return
		}
		if err := token.Error(); err != nil {
			b.logger.Error("MQTT publish failed", "topic", topic, "err", err)
		}
	}()
}
