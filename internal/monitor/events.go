package monitor

import (
	"log/slog"
	"sort"
	"sync"

	"smartweb-monitor/internal/conn"
	"smartweb-monitor/internal/ecs"
	"smartweb-monitor/internal/protocol"
)

// Event types
const (
	EventStatusChanged   = "status_changed"
	EventLogin           = "login"
	EventLogout          = "logout"
	EventDeviceUpdated   = "device_updated"
	EventCamerasUpdated  = "cameras_updated"
	EventAutoScanChanged = "autoscan_changed"
	EventSystemSnapshot  = "system_snapshot"
	EventServerError     = "server_error"
	EventCameraList      = "camera_list"
)

// Event represents a monitor event.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type StatusData struct {
	Status conn.Status `json:"status"`
}

type LoginData struct {
	Username string             `json:"username"`
	Version  string             `json:"version,omitempty"`
	User     *protocol.UserInfo `json:"user,omitempty"`
}

type LogoutData struct {
	Reason string `json:"reason"`
}

type DeviceData struct {
	Device      *ecs.Device `json:"device"`
	Property    string      `json:"property"`
	CameraIndex int         `json:"camera_index"`
	Created     bool        `json:"created"`
}

type CamerasData struct {
	Cameras []*ecs.Camera `json:"cameras"`
}

type AutoScanData struct {
	AutoScan bool `json:"autoscan"`
}

type SystemData struct {
	Info protocol.SystemInfo `json:"info"`
}

type ServerErrorData struct {
	Tag     string `json:"tag"`
	Message string `json:"message"`
}

type CameraListData struct {
	Cameras []protocol.CameraDescriptor `json:"cameras"`
}

// EventHandler is a callback for events.
type EventHandler func(Event)

// EventBus provides pub/sub for monitor events. Handlers run in the order
// they subscribed.
type EventBus struct {
	mu          sync.RWMutex
	handlers    map[string]map[uint64]EventHandler
	allHandlers map[uint64]EventHandler
	nextID      uint64
	logger      *slog.Logger
}

// NewEventBus creates a new event bus.
func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{
		handlers:    make(map[string]map[uint64]EventHandler),
		allHandlers: make(map[uint64]EventHandler),
		logger:      logger,
	}
}

// On registers a handler for a specific event type.
// Returns an unsubscribe function.
func (eb *EventBus) On(eventType string, handler EventHandler) func() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	id := eb.nextID
	eb.nextID++
	if eb.handlers[eventType] == nil {
		eb.handlers[eventType] = make(map[uint64]EventHandler)
	}
	eb.handlers[eventType][id] = handler
	return func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()
		delete(eb.handlers[eventType], id)
	}
}

// OnAll registers a handler that receives all events.
// Returns an unsubscribe function.
func (eb *EventBus) OnAll(handler EventHandler) func() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	id := eb.nextID
	eb.nextID++
	eb.allHandlers[id] = handler
	return func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()
		delete(eb.allHandlers, id)
	}
}

// Emit sends an event to all matching handlers.
// Handlers are called synchronously; a panicking handler is recovered.
func (eb *EventBus) Emit(event Event) {
	type entry struct {
		id uint64
		h  EventHandler
	}
	eb.mu.RLock()
	entries := make([]entry, 0, len(eb.handlers[event.Type])+len(eb.allHandlers))
	for id, h := range eb.handlers[event.Type] {
		entries = append(entries, entry{id, h})
	}
	for id, h := range eb.allHandlers {
		entries = append(entries, entry{id, h})
	}
	eb.mu.RUnlock()
	sort.Slice(entries, func(i, j int) bool { return entries[i].id < entries[j].id })

	for _, e := range entries {
		func() {
			defer func() {
				if r := recover(); r != nil {
					eb.logger.Error("event handler panic", "type", event.Type, "panic", r)
				}
			}()
			e.h(event)
		}()
	}
}
