// Package monitor holds the application state fed by the controller
// connection: login, the camera tree and system telemetry.
package monitor

import (
	"errors"
	"log/slog"
	"time"

	"smartweb-monitor/internal/conn"
	"smartweb-monitor/internal/ecs"
	"smartweb-monitor/internal/protocol"
)

var (
	// ErrNotOpen is returned by intents that need an open connection.
	ErrNotOpen = errors.New("websocket connection lost, please log in again")
	// ErrSendFailed is returned when the connection refused a command.
	ErrSendFailed = errors.New("command could not be sent")
)

// Options configures a Monitor.
type Options struct {
	// AckTimeout bounds how long Login waits for loginok.
	AckTimeout time.Duration
}

const DefaultAckTimeout = 5 * time.Second

// Monitor wires the connection manager, the sync engine and the feature
// stores together. Construct one per process.
type Monitor struct {
	conn   *conn.Manager
	engine *ecs.Engine
	events *EventBus
	logger *slog.Logger

	Auth    *AuthStore
	Cameras *CameraStore
	System  *SystemStore

	watcher *frameWatcher
}

// New creates a monitor and registers its status listener and frame
// watcher on mgr. Feature stores add their own listeners when monitoring
// starts.
func New(mgr *conn.Manager, engine *ecs.Engine, events *EventBus, opts Options, logger *slog.Logger) *Monitor {
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = DefaultAckTimeout
	}
	m := &Monitor{
		conn:   mgr,
		engine: engine,
		events: events,
		logger: logger.With("component", "monitor"),
	}
	m.Auth = &AuthStore{m: m, ackTimeout: opts.AckTimeout}
	m.Cameras = &CameraStore{m: m}
	m.System = &SystemStore{m: m}
	m.watcher = &frameWatcher{m: m}

	mgr.AddStatusListener(m)
	mgr.AddMessageListener(m.watcher)
	return m
}

func (m *Monitor) Conn() *conn.Manager  { return m.conn }
func (m *Monitor) Engine() *ecs.Engine  { return m.engine }
func (m *Monitor) Events() *EventBus    { return m.events }
func (m *Monitor) Logger() *slog.Logger { return m.logger }

// HandleStatus forwards connection transitions to the event bus.
func (m *Monitor) HandleStatus(s conn.Status) {
	m.events.Emit(Event{Type: EventStatusChanged, Data: StatusData{Status: s}})
	if s == conn.StatusClosed || s == conn.StatusError {
		m.Auth.connectionLost()
	}
}

// Send writes a raw command, reporting why it failed.
func (m *Monitor) Send(cmd string) error {
	if m.conn.Status() != conn.StatusOpen {
		return ErrNotOpen
	}
	if !m.conn.Send(cmd) {
		return ErrSendFailed
	}
	return nil
}

// Close detaches every listener from the connection.
func (m *Monitor) Close() {
	m.Cameras.StopMonitoring()
	m.System.StopMonitoring()
	m.conn.RemoveMessageListener(m.watcher)
	m.conn.RemoveStatusListener(m)
}

// frameWatcher logs undecodable frames and turns error-shaped frames into
// server_error events.
type frameWatcher struct {
	m *Monitor
}

func (w *frameWatcher) HandleMessage(frame string) {
	msg, err := protocol.Decode(frame)
	if err != nil {
		w.m.logger.Warn("dropping undecodable frame", "err", err, "len", len(frame))
		return
	}
	if u, ok := msg.(*protocol.Unknown); ok {
		w.m.logger.Debug("unknown frame", "tag", u.Discriminator)
	}
	if protocol.HasErrorSignal(msg) {
		text := protocol.MessageText(msg)
		w.m.logger.Warn("server reported error", "tag", msg.Tag(), "msg", text)
		w.m.events.Emit(Event{Type: EventServerError, Data: ServerErrorData{Tag: msg.Tag(), Message: text}})
	}
}
