package conn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"reflect"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"smartweb-monitor/internal/protocol"
)

// Status is the connection state.
type Status string

const (
	StatusClosed     Status = "closed"
	StatusConnecting Status = "connecting"
	StatusOpen       Status = "open"
	StatusClosing    Status = "closing"
	StatusError      Status = "error"
)

// ErrDisconnected is returned by a Connect call whose dial was abandoned by
// Disconnect.
var ErrDisconnected = errors.New("connection attempt cancelled by disconnect")

// ConnectError is returned when a connection attempt fails.
type ConnectError struct {
	Op   string
	Code int
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("%s: connection failed (code %d): %v", e.Op, e.Code, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// MessageListener receives every inbound frame as raw text.
type MessageListener interface {
	HandleMessage(frame string)
}

// StatusListener receives every status transition.
type StatusListener interface {
	HandleStatus(s Status)
}

type messageFunc struct{ fn func(string) }

func (f *messageFunc) HandleMessage(frame string) { f.fn(frame) }

type statusFunc struct{ fn func(Status) }

func (f *statusFunc) HandleStatus(s Status) { f.fn(s) }

// Options configures a Manager.
type Options struct {
	Endpoint             string
	Transport            Transport
	ReconnectInterval    time.Duration
	MaxReconnectAttempts int
	WriteTimeout         time.Duration
}

const (
	DefaultReconnectInterval    = 3 * time.Second
	DefaultMaxReconnectAttempts = 5
	DefaultWriteTimeout         = 10 * time.Second
)

// Stats is a point-in-time view of connection counters.
type Stats struct {
	Status       Status `json:"status"`
	Endpoint     string `json:"endpoint"`
	Attempts     int    `json:"reconnect_attempts"`
	MaxAttempts  int    `json:"max_reconnect_attempts"`
	FramesIn     uint64 `json:"frames_in"`
	FramesOut    uint64 `json:"frames_out"`
	SendFailures uint64 `json:"send_failures"`
	Reconnects   uint64 `json:"reconnects"`
}

type delivery struct {
	frame    string
	status   Status
	isStatus bool
}

// Manager owns the single connection to the controller. It reconnects after
// abnormal closes with a fixed interval until the attempt ceiling is hit.
//
// Frames and status changes are queued in arrival order and delivered by
// one goroutine at a time, so listeners never run concurrently with each
// other. Listeners may call back into the Manager.
type Manager struct {
	endpoint     string
	transport    Transport
	interval     time.Duration
	maxAttempts  int
	writeTimeout time.Duration
	logger       *slog.Logger

	mu       sync.Mutex
	status   Status
	socket   Socket
	dialing  bool
	gen      uint64
	cancel   context.CancelFunc
	attempts int
	timer    *time.Timer

	messageListeners []MessageListener
	statusListeners  []StatusListener
	queue            []delivery
	draining         bool

	framesIn     atomic.Uint64
	framesOut    atomic.Uint64
	sendFailures atomic.Uint64
	reconnects   atomic.Uint64
}

// NewManager creates a manager in the closed state. Nothing is dialed until
// Connect.
func NewManager(opts Options, logger *slog.Logger) *Manager {
	if opts.Transport == nil {
		opts.Transport = WebsocketTransport{}
	}
	if opts.ReconnectInterval <= 0 {
		opts.ReconnectInterval = DefaultReconnectInterval
	}
	if opts.MaxReconnectAttempts <= 0 {
		opts.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	return &Manager{
		endpoint:     opts.Endpoint,
		transport:    opts.Transport,
		interval:     opts.ReconnectInterval,
		maxAttempts:  opts.MaxReconnectAttempts,
		writeTimeout: opts.WriteTimeout,
		logger:       logger.With("component", "conn"),
		status:       StatusClosed,
	}
}

// Endpoint returns the configured URL.
func (m *Manager) Endpoint() string { return m.endpoint }

// Status returns the current connection state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Stats returns connection counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	st := Stats{
		Status:      m.status,
		Endpoint:    m.endpoint,
		Attempts:    m.attempts,
		MaxAttempts: m.maxAttempts,
	}
	m.mu.Unlock()
	st.FramesIn = m.framesIn.Load()
	st.FramesOut = m.framesOut.Load()
	st.SendFailures = m.sendFailures.Load()
	st.Reconnects = m.reconnects.Load()
	return st
}

// Connect opens the connection and waits until it is open or has failed.
// It returns nil immediately when a connection is already open or being
// dialed. ctx bounds only the wait; the dial itself carries on and is
// cancelled by Disconnect.
func (m *Manager) Connect(ctx context.Context) error {
	return m.connect(ctx, nil)
}

// connect is Connect for a reconnect timer: when expectGen is set, the
// attempt is abandoned unless the generation is still the one the timer
// was scheduled under.
func (m *Manager) connect(ctx context.Context, expectGen *uint64) error {
	m.mu.Lock()
	if expectGen != nil && m.gen != *expectGen {
		m.mu.Unlock()
		return ErrDisconnected
	}
	if m.dialing || (m.status == StatusOpen && m.socket != nil) {
		m.mu.Unlock()
		return nil
	}
	if err := validateEndpoint(m.endpoint); err != nil {
		m.setStatusLocked(StatusError)
		m.scheduleReconnectLocked()
		m.mu.Unlock()
		m.flush()
		m.logger.Error("invalid endpoint", "endpoint", m.endpoint, "err", err)
		return &ConnectError{Op: "connect", Code: CloseAbnormal, Err: err}
	}
	m.stopTimerLocked()
	m.gen++
	gen := m.gen
	dialCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.dialing = true
	m.setStatusLocked(StatusConnecting)
	m.mu.Unlock()
	m.flush()

	m.logger.Debug("connecting", "endpoint", m.endpoint)
	result := make(chan error, 1)
	go m.run(dialCtx, gen, result)

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) run(ctx context.Context, gen uint64, result chan<- error) {
	sock, err := m.transport.Dial(ctx, m.endpoint)

	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		if sock != nil {
			_ = sock.Close(CloseNormal, "superseded")
		}
		result <- ErrDisconnected
		return
	}
	m.dialing = false
	if err != nil {
		code := CloseCode(err)
		// A failed dial surfaces as an error event followed by a close.
		m.setStatusLocked(StatusError)
		m.closedLocked(code)
		m.mu.Unlock()
		m.flush()
		m.logger.Warn("connect failed", "endpoint", m.endpoint, "code", code, "err", err)
		result <- &ConnectError{Op: "dial", Code: code, Err: err}
		return
	}
	m.socket = sock
	m.attempts = 0
	m.setStatusLocked(StatusOpen)
	m.mu.Unlock()
	m.flush()
	m.logger.Info("connected", "endpoint", m.endpoint)
	result <- nil

	m.readLoop(ctx, gen, sock)
}

func (m *Manager) readLoop(ctx context.Context, gen uint64, sock Socket) {
	for {
		frame, err := sock.Read(ctx)
		m.mu.Lock()
		if m.gen != gen {
			m.mu.Unlock()
			return
		}
		if err != nil {
			code := CloseCode(err)
			m.socket = nil
			m.closedLocked(code)
			m.mu.Unlock()
			m.flush()
			if code == CloseNormal {
				m.logger.Info("connection closed", "code", code)
			} else {
				m.logger.Warn("connection lost", "code", code, "err", err)
			}
			return
		}
		m.framesIn.Add(1)
		m.queue = append(m.queue, delivery{frame: frame})
		m.mu.Unlock()
		m.flush()
	}
}

// closedLocked moves to closed and schedules a reconnect unless the close
// was normal.
func (m *Manager) closedLocked(code int) {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.setStatusLocked(StatusClosed)
	if code != CloseNormal {
		m.scheduleReconnectLocked()
	}
}

func (m *Manager) scheduleReconnectLocked() {
	m.stopTimerLocked()
	if m.attempts >= m.maxAttempts {
		m.logger.Warn("reconnect attempts exhausted", "attempts", m.attempts)
		m.setStatusLocked(StatusError)
		return
	}
	gen := m.gen
	var t *time.Timer
	t = time.AfterFunc(m.interval, func() {
		m.mu.Lock()
		if m.gen != gen || m.timer != t {
			m.mu.Unlock()
			return
		}
		m.timer = nil
		m.attempts++
		attempt := m.attempts
		m.mu.Unlock()

		m.reconnects.Add(1)
		m.logger.Info("reconnecting", "attempt", attempt, "max", m.maxAttempts)
		if err := m.connect(context.Background(), &gen); err != nil {
			m.logger.Debug("reconnect attempt failed", "attempt", attempt, "err", err)
		}
	})
	m.timer = t
}

func (m *Manager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// Disconnect closes the connection with a normal close code and cancels any
// pending reconnect. A dial in flight is abandoned and can never bring the
// connection back up. Safe to call repeatedly.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.gen++
	gen := m.gen
	sock := m.socket
	cancel := m.cancel
	m.socket = nil
	m.cancel = nil
	m.dialing = false
	m.stopTimerLocked()
	m.attempts = 0
	if sock != nil {
		m.setStatusLocked(StatusClosing)
	}
	m.mu.Unlock()
	m.flush()

	if sock != nil {
		if err := sock.Close(CloseNormal, "client disconnect"); err != nil {
			m.logger.Debug("close socket", "err", err)
		}
	}
	if cancel != nil {
		cancel()
	}

	m.mu.Lock()
	if m.gen == gen {
		m.setStatusLocked(StatusClosed)
	}
	m.mu.Unlock()
	m.flush()
}

// Send writes one text frame. It returns false, without queueing, when the
// connection is not open or the write fails.
func (m *Manager) Send(text string) bool {
	m.mu.Lock()
	sock := m.socket
	status := m.status
	m.mu.Unlock()

	if status != StatusOpen || sock == nil {
		m.sendFailures.Add(1)
		m.logger.Warn("send while not connected", "status", status, "cmd", protocol.Redact(text))
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.writeTimeout)
	defer cancel()
	if err := sock.Write(ctx, text); err != nil {
		m.sendFailures.Add(1)
		m.logger.Warn("send failed", "cmd", protocol.Redact(text), "err", err)
		return false
	}
	m.framesOut.Add(1)
	m.logger.Debug("sent", "cmd", protocol.Redact(text))
	return true
}

// Login sends the LOGIN command. The result only says whether the frame was
// written; the server answers asynchronously.
func (m *Manager) Login(username, password string) bool {
	return m.Send(protocol.LoginCommand(username, password))
}

func (m *Manager) Logout() bool {
	return m.Send(protocol.Logout())
}

// AddMessageListener registers l. Adding the same listener twice delivers
// each frame to it twice.
func (m *Manager) AddMessageListener(l MessageListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messageListeners = append(m.messageListeners, l)
}

// RemoveMessageListener removes every registration of l.
func (m *Manager) RemoveMessageListener(l MessageListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messageListeners = slices.DeleteFunc(m.messageListeners, func(x MessageListener) bool {
		return sameListener(x, l)
	})
}

func (m *Manager) AddStatusListener(l StatusListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statusListeners = append(m.statusListeners, l)
}

func (m *Manager) RemoveStatusListener(l StatusListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statusListeners = slices.DeleteFunc(m.statusListeners, func(x StatusListener) bool {
		return sameListener(x, l)
	})
}

// OnMessage registers fn and returns a function that removes it.
func (m *Manager) OnMessage(fn func(frame string)) func() {
	l := &messageFunc{fn: fn}
	m.AddMessageListener(l)
	return func() { m.RemoveMessageListener(l) }
}

// OnStatus registers fn and returns a function that removes it.
func (m *Manager) OnStatus(fn func(Status)) func() {
	l := &statusFunc{fn: fn}
	m.AddStatusListener(l)
	return func() { m.RemoveStatusListener(l) }
}

// sameListener compares by identity. Non-comparable dynamic types (such as
// func-backed values) never match.
func sameListener(a, b any) bool {
	if a == nil || b == nil {
		return a == b
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || !ta.Comparable() {
		return false
	}
	return a == b
}

func (m *Manager) setStatusLocked(s Status) {
	if m.status == s {
		return
	}
	prev := m.status
	m.status = s
	m.queue = append(m.queue, delivery{status: s, isStatus: true})
	m.logger.Debug("status", "from", prev, "to", s)
}

// flush drains the delivery queue unless another goroutine already is.
func (m *Manager) flush() {
	m.mu.Lock()
	if m.draining {
		m.mu.Unlock()
		return
	}
	m.draining = true
	for len(m.queue) > 0 {
		d := m.queue[0]
		m.queue = m.queue[1:]
		var (
			msgs     []MessageListener
			statuses []StatusListener
		)
		if d.isStatus {
			statuses = slices.Clone(m.statusListeners)
		} else {
			msgs = slices.Clone(m.messageListeners)
		}
		m.mu.Unlock()

		for _, l := range statuses {
			m.safeCall("status", func() { l.HandleStatus(d.status) })
		}
		for _, l := range msgs {
			m.safeCall("message", func() { l.HandleMessage(d.frame) })
		}

		m.mu.Lock()
	}
	m.queue = nil
	m.draining = false
	m.mu.Unlock()
}

func (m *Manager) safeCall(kind string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("listener panic", "kind", kind, "panic", r)
		}
	}()
	fn()
}

func validateEndpoint(endpoint string) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("parse endpoint: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("endpoint scheme must be ws or wss, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("endpoint %q has no host", endpoint)
	}
	return nil
}
