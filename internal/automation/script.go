package automation

import (
	"context"
	"errors"

	"tahoma-go-home/internal/coordinator"
)

// ErrScriptNotFound is returned when no script file exists for an ID.
var ErrScriptNotFound = errors.New("script not found")

// ScriptMeta holds user-editable metadata for a script.
type ScriptMeta struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Enabled     bool   `json:"enabled"`
}

// Script is one automation stored as <dir>/<id>.lua.
type Script struct {
	ID       string     `json:"id"` // filename stem
	Meta     ScriptMeta `json:"meta"`
	LuaCode  string     `json:"lua_code"`
	FilePath string     `json:"-"`
}

// RunResult is the result of a one-shot script execution.
type RunResult struct {
	OK       bool     `json:"ok"`
	Error    string   `json:"error,omitempty"`
	Logs     []string `json:"logs"`
	Duration string   `json:"duration"`
}

// Host is what scripts can see of the bridge. *coordinator.Coordinator
// satisfies it.
type Host interface {
	Events() *coordinator.EventBus
	Registry() *coordinator.Registry
	SetPosition(ctx context.Context, ref string, target int) (string, error)
}

var _ Host = (*coordinator.Coordinator)(nil)
