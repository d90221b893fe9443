package monitor

import (
	"sync"
	"time"

	"smartweb-monitor/internal/conn"
	"smartweb-monitor/internal/ecs"
	"smartweb-monitor/internal/protocol"
)

// CameraState is the camera slice of application state.
type CameraState struct {
	Monitoring  bool                        `json:"monitoring"`
	LastError   string                      `json:"last_error,omitempty"`
	LastUpdated time.Time                   `json:"last_updated"`
	AutoScan    bool                        `json:"autoscan"`
	Devices     int                         `json:"devices"`
	Listing     []protocol.CameraDescriptor `json:"listing,omitempty"`
}

// CameraStore mirrors the slave tree into the engine and issues camera
// commands.
type CameraStore struct {
	m *Monitor

	mu         sync.Mutex
	monitoring bool
	lastError  string
	listing    []protocol.CameraDescriptor
}

// HandleMessage applies changed frames to the engine.
func (s *CameraStore) HandleMessage(frame string) {
	msg, err := protocol.Decode(frame)
	if err != nil {
		return
	}
	switch v := msg.(type) {
	case *protocol.Changed:
		s.apply(v)
	case *protocol.Cameras:
		s.mu.Lock()
		s.listing = v.Cameras
		s.mu.Unlock()
		s.m.events.Emit(Event{Type: EventCameraList, Data: CameraListData{Cameras: v.Cameras}})
	}
}

func (s *CameraStore) apply(ch *protocol.Changed) {
	engine := s.m.engine
	res := engine.Apply(ch)
	switch res.Outcome {
	case ecs.DeviceUpdated:
		if !res.Known && !res.Created && !res.Grew {
			return
		}
		dev, _ := engine.Device(res.DeviceID)
		s.m.events.Emit(Event{Type: EventDeviceUpdated, Data: DeviceData{
			Device:      dev,
			Property:    res.Property,
			CameraIndex: res.CameraIndex,
			Created:     res.Created,
		}})
		// Only camera writes and last-seen changes can move the unique view.
		if res.CameraIndex >= 0 || res.Property == "last_seen_at" {
			s.m.events.Emit(Event{Type: EventCamerasUpdated, Data: CamerasData{Cameras: engine.UniqueCameras()}})
		}
	case ecs.FlagUpdated:
		s.m.events.Emit(Event{Type: EventAutoScanChanged, Data: AutoScanData{AutoScan: engine.AutoScan()}})
	}
}

// StartMonitoring subscribes to the slave tree and the configuration topic.
// Calling it again re-registers the listener once.
func (s *CameraStore) StartMonitoring() error {
	mgr := s.m.conn
	if mgr.Status() != conn.StatusOpen {
		s.setError(ErrNotOpen)
		return ErrNotOpen
	}
	mgr.RemoveMessageListener(s)
	mgr.AddMessageListener(s)

	ok := mgr.Send(protocol.MonitorECS())
	mgr.Send(protocol.Monitor(protocol.TopicConfiguration))
	if !ok {
		s.setError(ErrSendFailed)
		return ErrSendFailed
	}
	s.mu.Lock()
	s.monitoring = true
	s.lastError = ""
	s.mu.Unlock()
	return nil
}

func (s *CameraStore) StopMonitoring() {
	s.m.conn.RemoveMessageListener(s)
	s.mu.Lock()
	s.monitoring = false
	s.mu.Unlock()
}

// Fetch asks the controller to resend the slave tree and autoscan flag.
func (s *CameraStore) Fetch() error {
	if err := s.m.Send(protocol.MonitorECS()); err != nil {
		s.setError(err)
		return err
	}
	_ = s.m.Send(protocol.Monitor(protocol.TopicConfiguration))
	return nil
}

// SetAutoScan writes configuration.autoscan and mirrors it locally once
// the command is sent.
func (s *CameraStore) SetAutoScan(enabled bool) error {
	if err := s.m.Send(protocol.SetBool(ecs.PathAutoScan, enabled)); err != nil {
		s.setError(err)
		return err
	}
	s.m.engine.SetAutoScan(enabled)
	s.m.events.Emit(Event{Type: EventAutoScanChanged, Data: AutoScanData{AutoScan: enabled}})
	return nil
}

func (s *CameraStore) TakeSnapshot(camera string) error {
	return s.command(protocol.TakeSnapshot(camera))
}

func (s *CameraStore) ScanCameras() error {
	return s.command(protocol.ScanCameras())
}

func (s *CameraStore) AddGroup(group string) error {
	return s.command(protocol.AddCameraGroup(group))
}

func (s *CameraStore) RemoveGroup(group string) error {
	return s.command(protocol.RemoveCameraGroup(group))
}

func (s *CameraStore) AddGroupToCamera(camera, group string) error {
	return s.command(protocol.AddGroupToCamera(camera, group))
}

func (s *CameraStore) command(cmd string) error {
	if err := s.m.Send(cmd); err != nil {
		s.setError(err)
		return err
	}
	return nil
}

func (s *CameraStore) setError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastError = err.Error()
}

func (s *CameraStore) ClearError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastError = ""
}

// State returns the camera slice; device data comes from the engine.
func (s *CameraStore) State() CameraState {
	s.mu.Lock()
	st := CameraState{
		Monitoring: s.monitoring,
		LastError:  s.lastError,
		Listing:    append([]protocol.CameraDescriptor(nil), s.listing...),
	}
	s.mu.Unlock()
	st.LastUpdated = s.m.engine.LastUpdated()
	st.AutoScan = s.m.engine.AutoScan()
	st.Devices = s.m.engine.Len()
	return st
}
