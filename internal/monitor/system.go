package monitor

import (
	"maps"
	"sync"
	"time"

	"smartweb-monitor/internal/conn"
	"smartweb-monitor/internal/protocol"
)

// SystemState is the host telemetry slice of application state.
type SystemState struct {
	Monitoring  bool                `json:"monitoring"`
	Info        protocol.SystemInfo `json:"info"`
	Raw         map[string]any      `json:"raw,omitempty"`
	LastUpdated time.Time           `json:"last_updated"`
	LastError   string              `json:"last_error,omitempty"`
}

// SystemStore keeps the latest host controller snapshot.
type SystemStore struct {
	m *Monitor

	mu          sync.Mutex
	monitoring  bool
	info        protocol.SystemInfo
	raw         map[string]any
	lastUpdated time.Time
	lastError   string
}

func (s *SystemStore) HandleMessage(frame string) {
	msg, err := protocol.Decode(frame)
	if err != nil {
		return
	}
	snap, ok := msg.(*protocol.SystemSnapshot)
	if !ok {
		return
	}
	info := protocol.ParseSystemInfo(snap.Fields)
	s.mu.Lock()
	s.info = info
	s.raw = snap.Fields
	s.lastUpdated = time.Now()
	s.mu.Unlock()
	s.m.events.Emit(Event{Type: EventSystemSnapshot, Data: SystemData{Info: info}})
}

// StartMonitoring subscribes to the system topic.
func (s *SystemStore) StartMonitoring() error {
	mgr := s.m.conn
	if mgr.Status() != conn.StatusOpen {
		s.setError(ErrNotOpen)
		return ErrNotOpen
	}
	mgr.RemoveMessageListener(s)
	mgr.AddMessageListener(s)
	if !mgr.Send(protocol.Monitor(protocol.TopicSystem)) {
		s.setError(ErrSendFailed)
		return ErrSendFailed
	}
	s.mu.Lock()
	s.monitoring = true
	s.lastError = ""
	s.mu.Unlock()
	return nil
}

func (s *SystemStore) StopMonitoring() {
	s.m.conn.RemoveMessageListener(s)
	s.mu.Lock()
	s.monitoring = false
	s.mu.Unlock()
}

// Fetch requests a fresh snapshot.
func (s *SystemStore) Fetch() error {
	if err := s.m.Send(protocol.Monitor(protocol.TopicSystem)); err != nil {
		s.setError(err)
		return err
	}
	return nil
}

func (s *SystemStore) setError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastError = err.Error()
}

func (s *SystemStore) ClearError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastError = ""
}

func (s *SystemStore) State() SystemState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SystemState{
		Monitoring:  s.monitoring,
		Info:        s.info,
		Raw:         maps.Clone(s.raw),
		LastUpdated: s.lastUpdated,
		LastError:   s.lastError,
	}
}
