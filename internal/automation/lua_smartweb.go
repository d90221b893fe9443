//go:build !no_automation

package automation

import (
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"

	"smartweb-monitor/internal/ecs"
	"smartweb-monitor/internal/protocol"
)

// registerSmartwebModule installs the `smartweb` global table.
func registerSmartwebModule(L *lua.LState, vm *scriptVM, e *Engine) {
	fns := map[string]lua.LGFunction{
		"on":     func(L *lua.LState) int { return swOn(L, vm) },
		"after":  func(L *lua.LState) int { return swAfter(L, vm, e) },
		"log":    func(L *lua.LState) int { return swLog(L, vm, e) },
		"status": func(L *lua.LState) int { L.Push(lua.LString(e.mon.Conn().Status())); return 1 },

		"device":  func(L *lua.LState) int { return swDevice(L, e) },
		"devices": func(L *lua.LState) int { return swDevices(L, e) },
		"cameras": func(L *lua.LState) int { return swCameras(L, e) },
		"autoscan": func(L *lua.LState) int {
			L.Push(lua.LBool(e.mon.Engine().AutoScan()))
			return 1
		},

		"send": func(L *lua.LState) int {
			cmd := L.CheckString(1)
			return swCommand(L, vm, e, cmd)
		},
		"snapshot": func(L *lua.LState) int {
			return swCommand(L, vm, e, protocol.TakeSnapshot(L.CheckString(1)))
		},
		"set_bool": func(L *lua.LState) int {
			return swCommand(L, vm, e, protocol.SetBool(L.CheckString(1), L.ToBool(2)))
		},
		"set_int": func(L *lua.LState) int {
			return swCommand(L, vm, e, protocol.SetInt(L.CheckString(1), int64(L.CheckNumber(2))))
		},
		"set_str": func(L *lua.LState) int {
			return swCommand(L, vm, e, protocol.SetStr(L.CheckString(1), L.CheckString(2)))
		},
		"script": func(L *lua.LState) int {
			name := L.CheckString(1)
			var args []string
			for i := 2; i <= L.GetTop(); i++ {
				args = append(args, L.CheckString(i))
			}
			return swCommand(L, vm, e, protocol.Script(name, args...))
		},

		"time_between": swTimeBetween,
	}
	L.SetGlobal("smartweb", L.SetFuncs(L.NewTable(), fns))
}

// smartweb.on(type, [filter], fn). type "*" matches every event.
func swOn(L *lua.LState, vm *scriptVM) int {
	h := luaEventHandler{eventType: L.CheckString(1)}
	switch L.GetTop() {
	case 2:
		h.fn = L.CheckFunction(2)
	default:
		filter := L.CheckTable(2)
		h.fn = L.CheckFunction(3)
		filter.ForEach(func(k, v lua.LValue) {
			if h.filter == nil {
				h.filter = make(map[string]string)
			}
			h.filter[k.String()] = v.String()
		})
	}

	vm.mu.Lock()
	defer vm.mu.Unlock()
	if len(vm.handlers) >= maxHandlersPerScript {
		L.RaiseError("too many handlers (max %d)", maxHandlersPerScript)
		return 0
	}
	vm.handlers = append(vm.handlers, h)
	return 0
}

// swCommand sends cmd within the script's rate budget. It returns true, or
// false plus a reason.
func swCommand(L *lua.LState, vm *scriptVM, e *Engine, cmd string) int {
	if !vm.limiter.Allow() {
		e.logger.Warn("script command dropped", "script", vm.id, "cmd", protocol.Redact(cmd), "err", ErrRateLimited)
		L.Push(lua.LFalse)
		L.Push(lua.LString(ErrRateLimited.Error()))
		return 2
	}
	if err := e.mon.Send(cmd); err != nil {
		L.Push(lua.LFalse)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LTrue)
	return 1
}

// smartweb.after(seconds, fn)
func swAfter(L *lua.LState, vm *scriptVM, e *Engine) int {
	delay := time.Duration(float64(L.CheckNumber(1)) * float64(time.Second))
	fn := L.CheckFunction(2)

	go func() {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-vm.ctx.Done():
			return
		}
		select {
		case vm.commands <- func(L *lua.LState) {
			if err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}); err != nil {
				e.logger.Error("after callback error", "script", vm.id, "err", err)
			}
		}:
		case <-vm.ctx.Done():
		default:
			e.logger.Warn("after: script queue full", "script", vm.id)
		}
	}()
	return 0
}

func swLog(L *lua.LState, vm *scriptVM, e *Engine) int {
	msg := L.CheckString(1)
	e.logger.Info("script log", "script", vm.id, "msg", msg)
	if vm.capture != nil {
		vm.capture(msg)
	}
	return 0
}

// smartweb.device(id) accepts the raw key or the MAC form.
func swDevice(L *lua.LState, e *Engine) int {
	target := L.CheckString(1)
	engine := e.mon.Engine()
	if d, ok := engine.Device(target); ok {
		L.Push(goToLua(L, deviceFields(d)))
		return 1
	}
	for _, d := range engine.Devices() {
		if strings.EqualFold(d.DisplayID(), target) {
			L.Push(goToLua(L, deviceFields(d)))
			return 1
		}
	}
	L.Push(lua.LNil)
	return 1
}

func swDevices(L *lua.LState, e *Engine) int {
	tbl := L.NewTable()
	for i, d := range e.mon.Engine().Devices() {
		tbl.RawSetInt(i+1, goToLua(L, deviceFields(d)))
	}
	L.Push(tbl)
	return 1
}

// smartweb.cameras() returns the de-duplicated camera list.
func swCameras(L *lua.LState, e *Engine) int {
	tbl := L.NewTable()
	for i, c := range e.mon.Engine().UniqueCameras() {
		tbl.RawSetInt(i+1, goToLua(L, cameraFields(c)))
	}
	L.Push(tbl)
	return 1
}

// smartweb.time_between(from_hour, to_hour) wraps past midnight when
// from > to.
func swTimeBetween(L *lua.LState) int {
	from, to := L.CheckInt(1), L.CheckInt(2)
	L.Push(lua.LBool(hourBetween(time.Now().Hour(), from, to)))
	return 1
}

func hourBetween(hour, from, to int) bool {
	if from <= to {
		return hour >= from && hour < to
	}
	return hour >= from || hour < to
}

func deviceFields(d *ecs.Device) map[string]any {
	return map[string]any{
		"id":           d.ID,
		"mac":          d.DisplayID(),
		"connected":    d.Connected,
		"ipv4":         d.IPv4,
		"ipv6":         d.IPv6,
		"last_seen_at": d.LastSeenAt,
		"uptime":       d.Uptime,
		"is_error":     d.IsError,
		"cameras":      len(d.Cameras),
	}
}

func cameraFields(c *ecs.Camera) map[string]any {
	return map[string]any{
		"name":      c.Name,
		"device":    c.DeviceID,
		"index":     c.Index,
		"ip":        c.CameraIP,
		"media_uri": c.MediaURI,
		"connected": c.Connected,
		"sound_rec": c.SoundRec,
	}
}
