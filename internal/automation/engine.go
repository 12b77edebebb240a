//go:build !no_automation

package automation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"tahoma-go-home/internal/coordinator"

	lua "github.com/yuin/gopher-lua"
)

const runTimeout = 5 * time.Second

// luaEventHandler is a Lua callback registered with covers.on.
type luaEventHandler struct {
	eventType string
	id        string // accessory ID or device URL; empty matches any
	name      string // display name, case-insensitive; empty matches any
	fn        *lua.LFunction
}

// scriptVM is a running Lua VM for a single script. All access to the
// state goes through the commands channel.
type scriptVM struct {
	state    *lua.LState
	commands chan func(*lua.LState)
	handlers []luaEventHandler
	ctx      context.Context
	cancel   context.CancelFunc
	mu       sync.Mutex // protects handlers
}

// Engine runs enabled scripts and feeds them coordinator events.
type Engine struct {
	host    Host
	manager *Manager
	logger  *slog.Logger

	mu    sync.Mutex
	vms   map[string]*scriptVM
	unsub func()
}

// NewEngine creates an automation engine.
func NewEngine(host Host, mgr *Manager, logger *slog.Logger) *Engine {
	return &Engine{
		host:    host,
		manager: mgr,
		logger:  logger.With("component", "automation"),
		vms:     make(map[string]*scriptVM),
	}
}

// Start subscribes to the event bus and starts every enabled script.
func (e *Engine) Start() {
	e.unsub = e.host.Events().OnAll(e.dispatchEvent)

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
	e.logger.Info("automation engine started", "scripts", e.Running())
}

// Stop cancels every VM and unsubscribes from the event bus.
func (e *Engine) Stop() {
	if e.unsub != nil {
		e.unsub()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for id, vm := range e.vms {
		vm.cancel()
		delete(e.vms, id)
	}
	e.logger.Info("automation engine stopped")
}

// Running returns the number of running scripts.
func (e *Engine) Running() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.vms)
}

// ReloadScript restarts a script from disk. A disabled script is only stopped.
func (e *Engine) ReloadScript(id string) error {
	e.stopScript(id)

	s, err := e.manager.Get(id)
	if err != nil {
		return fmt.Errorf("get script: %w", err)
	}
	if !s.Meta.Enabled {
		return nil
	}
	return e.startScript(s)
}

// StopScript stops a running script.
func (e *Engine) StopScript(id string) {
	e.stopScript(id)
}

// RunScript executes a saved script once in a throwaway VM.
func (e *Engine) RunScript(id string) *RunResult {
	s, err := e.manager.Get(id)
	if err != nil {
		return &RunResult{Error: err.Error(), Duration: "0s"}
	}
	return e.RunLuaCode(s.LuaCode)
}

// RunLuaCode executes code once in a throwaway VM, then invokes every
// handler it registered with a synthetic event carrying the handler's
// filter. Log output is captured in the result.
func (e *Engine) RunLuaCode(code string) *RunResult {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	L := newSandbox()
	defer L.Close()
	L.SetContext(ctx)

	vm := &scriptVM{
		state:    L,
		commands: make(chan func(*lua.LState), 64),
		ctx:      ctx,
		cancel:   cancel,
	}
	registerCoversModule(L, vm, e)
	registerClockModule(L)

	var (
		logs  []string
		logMu sync.Mutex
	)
	if tbl, ok := L.GetGlobal("covers").(*lua.LTable); ok {
		tbl.RawSetString("log", L.NewFunction(func(L *lua.LState) int {
			msg := L.CheckString(1)
			logMu.Lock()
			logs = append(logs, msg)
			logMu.Unlock()
			e.logger.Info("script run log", "msg", msg)
			return 0
		}))
	}

	result := func(err error) *RunResult {
		logMu.Lock()
		defer logMu.Unlock()
		r := &RunResult{OK: err == nil, Logs: logs, Duration: time.Since(start).String()}
		if err != nil {
			r.Error = runError(err)
		}
		return r
	}

	if err := L.DoString(code); err != nil {
		e.logger.Warn("run script failed", "err", err)
		return result(err)
	}

	vm.mu.Lock()
	handlers := append([]luaEventHandler(nil), vm.handlers...)
	vm.mu.Unlock()

	for _, h := range handlers {
		ev := L.NewTable()
		ev.RawSetString("type", lua.LString(h.eventType))
		if h.id != "" {
			ev.RawSetString("id", lua.LString(h.id))
		}
		if h.name != "" {
			ev.RawSetString("name", lua.LString(h.name))
		}
		if err := L.CallByParam(lua.P{Fn: h.fn, NRet: 0, Protect: true}, ev); err != nil {
			e.logger.Warn("run handler failed", "event_type", h.eventType, "err", err)
			return result(err)
		}
	}
	return result(nil)
}

func runError(err error) string {
	msg := err.Error()
	if strings.Contains(msg, context.DeadlineExceeded.Error()) {
		return fmt.Sprintf("timeout (%s)", runTimeout)
	}
	return msg
}

// newSandbox returns a Lua state without file, OS or module loading access.
func newSandbox() *lua.LState {
	L := lua.NewState()
	for _, name := range []string{"os", "io", "loadfile", "dofile", "require", "load", "debug", "package"} {
		L.SetGlobal(name, lua.LNil)
	}
	return L
}

func (e *Engine) stopScript(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if vm, ok := e.vms[id]; ok {
		vm.cancel()
		delete(e.vms, id)
		e.logger.Info("script stopped", "id", id)
	}
}

func (e *Engine) startScript(s *Script) error {
	ctx, cancel := context.WithCancel(context.Background())
	L := newSandbox()

	vm := &scriptVM{
		state:    L,
		commands: make(chan func(*lua.LState), 64),
		ctx:      ctx,
		cancel:   cancel,
	}
	registerCoversModule(L, vm, e)
	registerClockModule(L)

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

	e.logger.Info("script started", "id", s.ID, "name", s.Meta.Name)
	return nil
}

// dispatchEvent queues matching handlers on their VM's command loop. A full
// queue drops the event rather than blocking the event bus.
func (e *Engine) dispatchEvent(event coordinator.Event) {
	e.mu.Lock()
	vms := make([]*scriptVM, 0, len(e.vms))
	for _, vm := range e.vms {
		vms = append(vms, vm)
	}
	e.mu.Unlock()

	for _, vm := range vms {
		if vm.ctx.Err() != nil {
			continue
		}
		vm.mu.Lock()
		handlers := append([]luaEventHandler(nil), vm.handlers...)
		vm.mu.Unlock()

		for _, h := range handlers {
			if !matchesHandler(h, event) {
				continue
			}
			fn := h.fn
			select {
			case vm.commands <- func(L *lua.LState) { e.callHandler(L, fn, event) }:
			default:
				e.logger.Warn("script command queue full, dropping event", "type", event.Type)
			}
		}
	}
}

func matchesHandler(h luaEventHandler, event coordinator.Event) bool {
	if h.eventType != "*" && h.eventType != event.Type {
		return false
	}
	data, ok := event.Data.(map[string]interface{})
	if !ok {
		return h.id == "" && h.name == ""
	}
	if h.id != "" {
		id, _ := data["id"].(string)
		url, _ := data["device_url"].(string)
		if h.id != id && h.id != url {
			return false
		}
	}
	if h.name != "" {
		name, _ := data["name"].(string)
		if !strings.EqualFold(h.name, name) {
			return false
		}
	}
	return true
}

func (e *Engine) callHandler(L *lua.LState, fn *lua.LFunction, event coordinator.Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("lua handler panic", "err", r)
		}
	}()

	ev := L.NewTable()
	ev.RawSetString("type", lua.LString(event.Type))
	if data, ok := event.Data.(map[string]interface{}); ok {
		for k, v := range data {
			ev.RawSetString(k, goToLua(L, v))
		}
	}
	if err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, ev); err != nil {
		e.logger.Error("lua handler error", "type", event.Type, "err", err)
	}
}

// goToLua converts event payload values to Lua values.
func goToLua(L *lua.LState, v interface{}) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
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
	case map[string]interface{}:
		t := L.NewTable()
		for k, vv := range val {
			t.RawSetString(k, goToLua(L, vv))
		}
		return t
	case []interface{}:
		t := L.NewTable()
		for i, vv := range val {
			t.RawSetInt(i+1, goToLua(L, vv))
		}
		return t
	case []string:
		t := L.NewTable()
		for i, s := range val {
			t.RawSetInt(i+1, lua.LString(s))
		}
		return t
	case fmt.Stringer:
		return lua.LString(val.String())
	default:
		return lua.LString(fmt.Sprintf("%v", val))
	}
}
