package ecs

import (
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"smartweb-monitor/internal/protocol"
)

// Path roots understood by the engine.
const (
	SlavesPrefix = "ecs.slaves."
	PathAutoScan = "configuration.autoscan"
)

// MaxCameraIndex bounds the camera index a path may address. Larger indexes
// are ignored so one corrupt frame cannot allocate unbounded placeholders.
const MaxCameraIndex = 255

// Outcome classifies what an applied event touched.
type Outcome int

const (
	Ignored Outcome = iota
	DeviceUpdated
	FlagUpdated
)

func (o Outcome) String() string {
	switch o {
	case DeviceUpdated:
		return "device_updated"
	case FlagUpdated:
		return "flag_updated"
	default:
		return "ignored"
	}
}

// Result describes the effect of one changed event.
type Result struct {
	Outcome  Outcome
	DeviceID string
	// Property is the path suffix after the device id, or the flag path.
	Property string
	// CameraIndex is the addressed camera, or -1.
	CameraIndex int
	// Created is set when the event introduced a new device.
	Created bool
	// Known is false when the property matched nothing in the dispatch
	// tables and was dropped.
	Known bool
	// Grew is set when placeholder cameras were added, which happens for
	// any well-formed camera path even if the field itself is unknown.
	Grew bool
}

type deviceSetter func(d *Device, v any)

var deviceFields = map[string]deviceSetter{
	"connected":        func(d *Device, v any) { d.Connected = protocol.AsInt(v) },
	"ipv4":             func(d *Device, v any) { d.IPv4 = protocol.AsString(v) },
	"ipv6":             func(d *Device, v any) { d.IPv6 = protocol.AsString(v) },
	"last_seen_at":     func(d *Device, v any) { d.LastSeenAt = protocol.AsString(v) },
	"test.uptime":      func(d *Device, v any) { d.Uptime = protocol.AsString(v) },
	"test.is_error":    func(d *Device, v any) { d.IsError = protocol.AsInt(v) },
	"test.finished":    func(d *Device, v any) { d.TestFinished = protocol.AsInt(v) },
	"test.finished_at": func(d *Device, v any) { d.TestFinishedAt = protocol.AsString(v) },
}

type cameraSetter func(c *Camera, v any)

var cameraFields = map[string]cameraSetter{
	"name":         func(c *Camera, v any) { c.Name = protocol.AsString(v) },
	"cameraIp":     func(c *Camera, v any) { c.CameraIP = protocol.AsString(v) },
	"username":     func(c *Camera, v any) { c.Username = protocol.AsString(v) },
	"password":     func(c *Camera, v any) { c.Password = protocol.AsString(v) },
	"mediaUri":     func(c *Camera, v any) { c.MediaURI = protocol.AsString(v) },
	"subUri":       func(c *Camera, v any) { c.SubURI = protocol.AsString(v) },
	"recordUri":    func(c *Camera, v any) { c.RecordURI = protocol.AsString(v) },
	"mainSnapShot": func(c *Camera, v any) { c.MainSnapshot = protocol.AsString(v) },
	"subSnapShot":  func(c *Camera, v any) { c.SubSnapshot = protocol.AsString(v) },
	"soundRec":     func(c *Camera, v any) { c.SoundRec = protocol.AsBool(v) },
	"status":       func(c *Camera, v any) { c.Connected = protocol.AsBool(v) },
	"recordcodec":  func(c *Camera, v any) { c.RecordCodec = protocol.AsString(v) },
	"recordwidth":  func(c *Camera, v any) { c.RecordWidth = protocol.AsInt(v) },
	"recordheight": func(c *Camera, v any) { c.RecordHeight = protocol.AsInt(v) },
	"subcodec":     func(c *Camera, v any) { c.SubCodec = protocol.AsString(v) },
	"subwidth":     func(c *Camera, v any) { c.SubWidth = protocol.AsInt(v) },
	"subheight":    func(c *Camera, v any) { c.SubHeight = protocol.AsInt(v) },
}

var cameraPath = regexp.MustCompile(`^cam\[(\d+)\]\.(.+)$`)

// Engine folds changed events into the device tree. Applying the same
// ordered events to a fresh Engine always yields the same tree and view.
type Engine struct {
	mu          sync.RWMutex
	devices     []*Device
	index       map[string]*Device
	unique      []*Camera
	all         []*Camera
	autoScan    bool
	lastUpdated time.Time
	now         func() time.Time
	logger      *slog.Logger
}

// NewEngine returns an empty engine. Autoscan defaults to on until the
// controller reports otherwise.
func NewEngine(logger *slog.Logger) *Engine {
	return &Engine{
		index:    make(map[string]*Device),
		autoScan: true,
		now:      time.Now,
		logger:   logger.With("component", "ecs"),
	}
}

// Apply folds one changed message into the tree.
func (e *Engine) Apply(m *protocol.Changed) Result {
	if m == nil {
		return Result{CameraIndex: -1}
	}
	return e.ApplyPath(m.Path, m.Value)
}

// ApplyAll folds events in order.
func (e *Engine) ApplyAll(msgs []*protocol.Changed) {
	for _, m := range msgs {
		e.Apply(m)
	}
}

// ApplyPath is Apply without the message wrapper.
func (e *Engine) ApplyPath(path string, value any) Result {
	res := Result{CameraIndex: -1}

	if !strings.HasPrefix(path, SlavesPrefix) {
		return e.applyFlag(path, value)
	}

	parts := strings.Split(path, ".")
	if len(parts) < 3 || parts[2] == "" {
		e.logger.Debug("ignoring path without device id", "path", path)
		return res
	}
	id := parts[2]
	property := strings.Join(parts[3:], ".")

	e.mu.Lock()
	defer e.mu.Unlock()

	dev, ok := e.index[id]
	if !ok {
		dev = &Device{ID: id}
		e.devices = append(e.devices, dev)
		e.index[id] = dev
		res.Created = true
	}
	res.Outcome = DeviceUpdated
	res.DeviceID = id
	res.Property = property
	res.Known, res.CameraIndex, res.Grew = e.setPropertyLocked(dev, property, value)
	if !res.Known {
		e.logger.Debug("ignoring unknown property", "device", id, "property", property)
	}
	if res.Known || res.Created || res.Grew {
		e.rebuildLocked()
	}
	return res
}

func (e *Engine) applyFlag(path string, value any) Result {
	res := Result{CameraIndex: -1}
	switch path {
	case PathAutoScan:
		e.mu.Lock()
		e.autoScan = protocol.AsBool(value)
		e.mu.Unlock()
		res.Outcome = FlagUpdated
		res.Property = path
		res.Known = true
	}
	return res
}

// setPropertyLocked resolves the property against the dispatch tables.
// It returns whether the field was written, the camera index touched and
// whether the camera list was extended.
func (e *Engine) setPropertyLocked(dev *Device, property string, value any) (known bool, idx int, grew bool) {
	if set, ok := deviceFields[property]; ok {
		set(dev, value)
		return true, -1, false
	}

	m := cameraPath.FindStringSubmatch(property)
	if m == nil {
		return false, -1, false
	}
	idx, err := strconv.Atoi(m[1])
	if err != nil || idx > MaxCameraIndex {
		e.logger.Warn("camera index out of range", "device", dev.ID, "index", m[1])
		return false, -1, false
	}
	for len(dev.Cameras) <= idx {
		dev.Cameras = append(dev.Cameras, placeholderCamera(dev.ID, len(dev.Cameras)))
		grew = true
	}
	set, ok := cameraFields[m[2]]
	if !ok {
		return false, idx, grew
	}
	set(dev.Cameras[idx], value)
	return true, idx, grew
}

// rebuildLocked recomputes the flat and unique camera views from scratch.
func (e *Engine) rebuildLocked() {
	all := make([]*Camera, 0, len(e.all))
	for _, d := range e.devices {
		all = append(all, d.Cameras...)
	}

	// Most recently seen first; devices never seen go last. The stable sort
	// keeps insertion order among equals.
	order := make([]*Device, len(e.devices))
	copy(order, e.devices)
	sort.SliceStable(order, func(i, j int) bool {
		a, b := order[i].LastSeenAt, order[j].LastSeenAt
		if a == "" || b == "" {
			return a != "" && b == ""
		}
		return a > b
	})

	seen := make(map[string]bool)
	unique := make([]*Camera, 0, len(all))
	for _, d := range order {
		for _, c := range d.Cameras {
			if seen[c.Name] {
				continue
			}
			seen[c.Name] = true
			unique = append(unique, c)
		}
	}

	e.all = all
	e.unique = unique
	e.lastUpdated = e.now()
}

// Devices returns deep copies of all devices in insertion order.
func (e *Engine) Devices() []*Device {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Device, len(e.devices))
	for i, d := range e.devices {
		out[i] = d.clone()
	}
	return out
}

// Device returns a copy of one device.
func (e *Engine) Device(id string) (*Device, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	d, ok := e.index[id]
	if !ok {
		return nil, false
	}
	return d.clone(), true
}

// UniqueCameras returns one camera per distinct name, taken from the most
// recently seen device that has it.
func (e *Engine) UniqueCameras() []*Camera {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return cloneCameras(e.unique)
}

// AllCameras returns every camera of every device.
func (e *Engine) AllCameras() []*Camera {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return cloneCameras(e.all)
}

// Camera finds a camera in the unique view by name.
func (e *Engine) Camera(name string) (*Camera, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, c := range e.unique {
		if c.Name == name {
			cc := *c
			return &cc, true
		}
	}
	return nil, false
}

func (e *Engine) AutoScan() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.autoScan
}

// SetAutoScan records a locally requested autoscan value. The controller's
// own changed event overwrites it when it arrives.
func (e *Engine) SetAutoScan(v bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.autoScan = v
}

// LastUpdated is the time of the last tree mutation, zero before the first.
func (e *Engine) LastUpdated() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastUpdated
}

// Len returns the number of known devices.
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.devices)
}

// Snapshot returns a consistent copy of the tree and derived view.
func (e *Engine) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s := Snapshot{
		Devices:       make([]*Device, len(e.devices)),
		UniqueCameras: cloneCameras(e.unique),
		AutoScan:      e.autoScan,
		LastUpdated:   e.lastUpdated,
	}
	for i, d := range e.devices {
		s.Devices[i] = d.clone()
	}
	return s
}

func cloneCameras(in []*Camera) []*Camera {
	out := make([]*Camera, len(in))
	for i, c := range in {
		cc := *c
		out[i] = &cc
	}
	return out
}
