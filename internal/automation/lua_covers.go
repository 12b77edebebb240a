//go:build !no_automation

package automation

import (
	"context"
	"time"

	lua "github.com/yuin/gopher-lua"
)

const (
	maxHandlersPerScript = 100
	commandTimeout       = 15 * time.Second
)

// registerCoversModule installs the `covers` global table.
func registerCoversModule(L *lua.LState, vm *scriptVM, e *Engine) {
	mod := L.NewTable()
	fns := map[string]lua.LGFunction{
		"on":           func(L *lua.LState) int { return coversOn(L, vm) },
		"set_position": func(L *lua.LState) int { return coversSetPosition(L, vm, e, -1) },
		"open":         func(L *lua.LState) int { return coversSetPosition(L, vm, e, 100) },
		"close":        func(L *lua.LState) int { return coversSetPosition(L, vm, e, 0) },
		"get_position": func(L *lua.LState) int { return coversGetPosition(L, e) },
		"list":         func(L *lua.LState) int { return coversList(L, e) },
		"after":        func(L *lua.LState) int { return coversAfter(L, vm, e) },
		"log":          func(L *lua.LState) int { return coversLog(L, e) },
	}
	for name, fn := range fns {
		mod.RawSetString(name, L.NewFunction(fn))
	}
	L.SetGlobal("covers", mod)
}

// covers.on(type, [filter], callback). Filter keys: id (accessory ID or
// device URL), name.
func coversOn(L *lua.LState, vm *scriptVM) int {
	h := luaEventHandler{eventType: L.CheckString(1)}
	if L.GetTop() >= 3 {
		if filter := L.OptTable(2, nil); filter != nil {
			if v := filter.RawGetString("id"); v != lua.LNil {
				h.id = v.String()
			}
			if v := filter.RawGetString("name"); v != lua.LNil {
				h.name = v.String()
			}
		}
		h.fn = L.CheckFunction(3)
	} else {
		h.fn = L.CheckFunction(2)
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

// covers.set_position(target, pos), covers.open(target), covers.close(target).
// Returns true, or false and an error message.
func coversSetPosition(L *lua.LState, vm *scriptVM, e *Engine, fixed int) int {
	target := L.CheckString(1)
	pos := fixed
	if pos < 0 {
		pos = L.CheckInt(2)
	}

	ctx, cancel := context.WithTimeout(vm.ctx, commandTimeout)
	defer cancel()
	if _, err := e.host.SetPosition(ctx, target, pos); err != nil {
		e.logger.Warn("script set position failed", "target", target, "position", pos, "err", err)
		L.Push(lua.LFalse)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LTrue)
	return 1
}

// covers.get_position(target) returns the last polled position, or nil when
// the accessory is unknown or not observed yet.
func coversGetPosition(L *lua.LState, e *Engine) int {
	acc, err := e.host.Registry().Resolve(L.CheckString(1))
	if err != nil || acc.LastKnownPosition == nil {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(lua.LNumber(*acc.LastKnownPosition))
	return 1
}

// covers.list() returns an array of accessory tables.
func coversList(L *lua.LState, e *Engine) int {
	tbl := L.NewTable()
	for i, acc := range e.host.Registry().List() {
		t := L.NewTable()
		t.RawSetString("id", lua.LString(acc.ID))
		t.RawSetString("name", lua.LString(acc.DisplayName))
		t.RawSetString("device_url", lua.LString(acc.DeviceURL))
		t.RawSetString("model", lua.LString(acc.Model))
		t.RawSetString("current", lua.LNumber(acc.Cover.Current))
		t.RawSetString("target", lua.LNumber(acc.Cover.Target))
		t.RawSetString("state", lua.LString(acc.Cover.State))
		tbl.RawSetInt(i+1, t)
	}
	L.Push(tbl)
	return 1
}

// covers.after(seconds, callback) runs callback on the script's VM later.
func coversAfter(L *lua.LState, vm *scriptVM, e *Engine) int {
	delay := time.Duration(float64(L.CheckNumber(1)) * float64(time.Second))
	fn := L.CheckFunction(2)

	go func() {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-vm.ctx.Done():
			return
		}

		select {
		case vm.commands <- func(L *lua.LState) {
			if err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}); err != nil {
				e.logger.Error("after callback error", "err", err)
			}
		}:
		default:
			e.logger.Warn("after: command queue full")
		}
	}()
	return 0
}

// covers.log(msg, [level])
func coversLog(L *lua.LState, e *Engine) int {
	msg := L.CheckString(1)
	switch L.OptString(2, "info") {
	case "debug":
		e.logger.Debug("script log", "msg", msg)
	case "warn":
		e.logger.Warn("script log", "msg", msg)
	case "error":
		e.logger.Error("script log", "msg", msg)
	default:
		e.logger.Info("script log", "msg", msg)
	}
	return 0
}
