//go:build !no_automation

package automation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"
	"golang.org/x/time/rate"

	"smartweb-monitor/internal/monitor"
)

// ErrRateLimited is reported to a script that exceeded its command budget.
var ErrRateLimited = errors.New("command rate limit exceeded")

// Config tunes the engine.
type Config struct {
	// CommandRate is the sustained number of controller commands per
	// second a script may issue; CommandBurst is the bucket size.
	CommandRate  float64
	CommandBurst int
	// RunTimeout bounds one-shot runs started from the API.
	RunTimeout time.Duration
}

const (
	DefaultCommandRate  = 2.0
	DefaultCommandBurst = 5
	DefaultRunTimeout   = 5 * time.Second

	maxHandlersPerScript = 100
	commandQueueSize     = 64
)

// RunResult is the result of a one-shot script execution.
type RunResult struct {
	OK       bool     `json:"ok"`
	Error    string   `json:"error,omitempty"`
	Logs     []string `json:"logs"`
	Duration string   `json:"duration"`
}

// luaEventHandler is a callback registered with smartweb.on. Every filter
// entry must equal the event field of the same name.
type luaEventHandler struct {
	eventType string
	filter    map[string]string
	fn        *lua.LFunction
}

// scriptVM owns one Lua state. All access to the state goes through the
// commands channel once the script is running.
type scriptVM struct {
	id       string
	state    *lua.LState
	commands chan func(*lua.LState)
	limiter  *rate.Limiter
	ctx      context.Context
	cancel   context.CancelFunc

	mu       sync.Mutex
	handlers []luaEventHandler

	// capture receives smartweb.log output during one-shot runs.
	capture func(string)
}

func (vm *scriptVM) snapshotHandlers() []luaEventHandler {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return append([]luaEventHandler(nil), vm.handlers...)
}

// Engine runs Lua scripts against monitor events.
type Engine struct {
	mon     *monitor.Monitor
	manager *Manager
	logger  *slog.Logger
	cfg     Config

	mu    sync.Mutex
	vms   map[string]*scriptVM
	unsub func()
}

func NewEngine(mon *monitor.Monitor, mgr *Manager, logger *slog.Logger, cfg Config) *Engine {
	if cfg.CommandRate <= 0 {
		cfg.CommandRate = DefaultCommandRate
	}
	if cfg.CommandBurst <= 0 {
		cfg.CommandBurst = DefaultCommandBurst
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = DefaultRunTimeout
	}
	return &Engine{
		mon:     mon,
		manager: mgr,
		logger:  logger.With("component", "automation"),
		cfg:     cfg,
		vms:     make(map[string]*scriptVM),
	}
}

// Start subscribes to monitor events and starts every enabled script.
func (e *Engine) Start() {
	e.unsub = e.mon.Events().OnAll(e.dispatchEvent)

	scripts, err := e.manager.List()
	if err != nil {
		e.logger.Error("load scripts", "err", err)
		return
	}
	for _, s := range scripts {
		if !s.Meta.Enabled {
			continue
		}
		if err := e.startScript(s); err != nil {
			e.logger.Error("start script", "id", s.ID, "err", err)
		}
	}
	e.logger.Info("automation engine started", "scripts", len(e.Running()))
}

func (e *Engine) Stop() {
	if e.unsub != nil {
		e.unsub()
		e.unsub = nil
	}
	e.mu.Lock()
	for id, vm := range e.vms {
		vm.cancel()
		delete(e.vms, id)
	}
	e.mu.Unlock()
	e.logger.Info("automation engine stopped")
}

// Running returns the ids of scripts with a live VM.
func (e *Engine) Running() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.vms))
	for id := range e.vms {
		ids = append(ids, id)
	}
	return ids
}

// ReloadScript restarts a script from disk; a disabled script is only stopped.
func (e *Engine) ReloadScript(id string) error {
	e.StopScript(id)
	s, err := e.manager.Get(id)
	if err != nil {
		return fmt.Errorf("get script: %w", err)
	}
	if !s.Meta.Enabled {
		return nil
	}
	return e.startScript(s)
}

func (e *Engine) StopScript(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if vm, ok := e.vms[id]; ok {
		vm.cancel()
		delete(e.vms, id)
		e.logger.Info("script stopped", "id", id)
	}
}

// RunScript executes a saved script once in a throwaway VM.
func (e *Engine) RunScript(id string) *RunResult {
	s, err := e.manager.Get(id)
	if err != nil {
		return &RunResult{Error: err.Error(), Duration: "0s"}
	}
	return e.RunLuaCode(s.LuaCode)
}

// RunLuaCode executes code once in a throwaway VM, then calls every handler
// it registered with a synthetic event so their actions run too.
func (e *Engine) RunLuaCode(code string) *RunResult {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.RunTimeout)
	defer cancel()

	vm := e.newVM(ctx, cancel, "_run", e.cfg.CommandRate)
	L := vm.state
	defer L.Close()
	L.SetContext(ctx)

	var (
		logMu sync.Mutex
		logs  []string
	)
	vm.capture = func(msg string) {
		logMu.Lock()
		logs = append(logs, msg)
		logMu.Unlock()
	}
	result := func(err error) *RunResult {
		logMu.Lock()
		defer logMu.Unlock()
		r := &RunResult{OK: err == nil, Logs: append([]string{}, logs...), Duration: time.Since(start).String()}
		if err != nil {
			r.Error = e.describeRunError(err)
		}
		return r
	}

	if err := L.DoString(code); err != nil {
		return result(err)
	}
	for _, h := range vm.snapshotHandlers() {
		fields := map[string]any{"type": h.eventType, "synthetic": true}
		for k, v := range h.filter {
			fields[k] = v
		}
		if err := L.CallByParam(lua.P{Fn: h.fn, NRet: 0, Protect: true}, goToLua(L, fields)); err != nil {
			return result(err)
		}
	}
	return result(nil)
}

func (e *Engine) describeRunError(err error) string {
	msg := err.Error()
	if strings.Contains(msg, context.DeadlineExceeded.Error()) {
		return fmt.Sprintf("timeout (%s)", e.cfg.RunTimeout)
	}
	return msg
}

func (e *Engine) newVM(ctx context.Context, cancel context.CancelFunc, id string, ratePerSec float64) *scriptVM {
	L := lua.NewState(lua.Options{SkipOpenLibs: false})
	sandbox(L)
	vm := &scriptVM{
		id:       id,
		state:    L,
		commands: make(chan func(*lua.LState), commandQueueSize),
		limiter:  rate.NewLimiter(rate.Limit(ratePerSec), e.cfg.CommandBurst),
		ctx:      ctx,
		cancel:   cancel,
	}
	registerSmartwebModule(L, vm, e)
	return vm
}

// sandbox removes globals that reach the filesystem, the process or the
// loader.
func sandbox(L *lua.LState) {
	for _, name := range []string{"os", "io", "loadfile", "dofile", "require", "load", "loadstring", "debug", "package", "module"} {
		L.SetGlobal(name, lua.LNil)
	}
}

func (e *Engine) startScript(s *Script) error {
	ctx, cancel := context.WithCancel(context.Background())
	ratePerSec := e.cfg.CommandRate
	if s.Meta.CommandRate > 0 {
		ratePerSec = s.Meta.CommandRate
	}
	vm := e.newVM(ctx, cancel, s.ID, ratePerSec)
	L := vm.state

	if err := L.DoString(s.LuaCode); err != nil {
		cancel()
		L.Close()
		return fmt.Errorf("execute script %s: %w", s.ID, err)
	}

	e.mu.Lock()
	if old, ok := e.vms[s.ID]; ok {
		old.cancel()
	}
	e.vms[s.ID] = vm
	e.mu.Unlock()

	go func() {
		defer L.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case fn := <-vm.commands:
				fn(L)
			}
		}
	}()

	e.logger.Info("script started", "id", s.ID, "name", s.Meta.Name, "handlers", len(vm.snapshotHandlers()))
	return nil
}

// dispatchEvent queues matching handlers on their VMs. It runs on the
// event bus goroutine and never blocks.
func (e *Engine) dispatchEvent(ev monitor.Event) {
	fields := eventFields(ev)

	e.mu.Lock()
	vms := make([]*scriptVM, 0, len(e.vms))
	for _, vm := range e.vms {
		vms = append(vms, vm)
	}
	e.mu.Unlock()

	for _, vm := range vms {
		for _, h := range vm.snapshotHandlers() {
			if !matchesHandler(h, ev.Type, fields) {
				continue
			}
			fn := h.fn
			select {
			case <-vm.ctx.Done():
			case vm.commands <- func(L *lua.LState) { e.callHandler(L, vm, fn, fields) }:
			default:
				e.logger.Warn("script queue full, dropping event", "script", vm.id, "type", ev.Type)
			}
		}
	}
}

func matchesHandler(h luaEventHandler, eventType string, fields map[string]any) bool {
	if h.eventType != "*" && h.eventType != eventType {
		return false
	}
	for k, want := range h.filter {
		got, ok := fields[k]
		if !ok || !strings.EqualFold(fmt.Sprint(got), want) {
			return false
		}
	}
	return true
}

func (e *Engine) callHandler(L *lua.LState, vm *scriptVM, fn *lua.LFunction, fields map[string]any) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("lua handler panic", "script", vm.id, "panic", r)
		}
	}()
	if err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, goToLua(L, fields)); err != nil {
		e.logger.Error("lua handler error", "script", vm.id, "err", err)
	}
}

// eventFields flattens a monitor event into the table handlers receive.
func eventFields(ev monitor.Event) map[string]any {
	f := map[string]any{"type": ev.Type}
	switch d := ev.Data.(type) {
	case monitor.StatusData:
		f["status"] = string(d.Status)
	case monitor.LoginData:
		f["username"] = d.Username
		f["version"] = d.Version
	case monitor.LogoutData:
		f["reason"] = d.Reason
	case monitor.DeviceData:
		f["property"] = d.Property
		f["camera_index"] = d.CameraIndex
		f["created"] = d.Created
		if dev := d.Device; dev != nil {
			maps.Copy(f, deviceFields(dev))
			f["device"] = dev.ID
			if d.CameraIndex >= 0 && d.CameraIndex < len(dev.Cameras) {
				f["camera"] = dev.Cameras[d.CameraIndex].Name
			}
		}
	case monitor.CamerasData:
		f["count"] = len(d.Cameras)
	case monitor.AutoScanData:
		f["autoscan"] = d.AutoScan
	case monitor.SystemData:
		f["cpu_temp"] = d.Info.CPUTemp
		f["memory_usage"] = d.Info.MemoryUsage()
		f["uptime"] = d.Info.UptimeSeconds
		f["sessions"] = d.Info.Sessions
	case monitor.ServerErrorData:
		f["tag"] = d.Tag
		f["message"] = d.Message
	case monitor.CameraListData:
		f["count"] = len(d.Cameras)
	}
	return f
}

// goToLua converts decoded values and event fields into Lua values.
func goToLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case lua.LValue:
		return val
	case bool:
		return lua.LBool(val)
	case string:
		return lua.LString(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case map[string]any:
		t := L.NewTable()
		for k, vv := range val {
			t.RawSetString(k, goToLua(L, vv))
		}
		return t
	case []any:
		t := L.NewTable()
		for i, vv := range val {
			t.RawSetInt(i+1, goToLua(L, vv))
		}
		return t
	case map[string]string:
		t := L.NewTable()
		for k, vv := range val {
			t.RawSetString(k, lua.LString(vv))
		}
		return t
	default:
		return lua.LString(fmt.Sprint(val))
	}
}
