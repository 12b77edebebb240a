//go:build no_automation

package automation

import "log/slog"

const disabledMsg = "automation disabled"

// Manager is a no-op stand-in; NewManager returns nil so callers treat
// automations as unavailable.
type Manager struct{}

func NewManager(_ string) (*Manager, error)        { return nil, nil }
func (m *Manager) Dir() string                     { return "" }
func (m *Manager) List() ([]*Script, error)        { return nil, nil }
func (m *Manager) Get(_ string) (*Script, error)   { return nil, ErrScriptNotFound }
func (m *Manager) Save(s *Script) (*Script, error) { return s, nil }
func (m *Manager) Delete(_ string) error           { return ErrScriptNotFound }

// Engine runs nothing; every run reports that automations are disabled.
type Engine struct{}

func NewEngine(_ Host, _ *Manager, _ *slog.Logger) *Engine { return &Engine{} }
func (e *Engine) Start()                                   {}
func (e *Engine) Stop()                                    {}
func (e *Engine) Running() int                             { return 0 }
func (e *Engine) ReloadScript(_ string) error              { return nil }
func (e *Engine) StopScript(_ string)                      {}
func (e *Engine) RunScript(_ string) *RunResult            { return &RunResult{Error: disabledMsg} }
func (e *Engine) RunLuaCode(_ string) *RunResult           { return &RunResult{Error: disabledMsg} }
