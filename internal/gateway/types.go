package gateway

import "strings"

// Device is a single entry of the gateway's setup/devices listing.
// The gateway does not publish a stable schema, so only the fields the
// bridge relies on are decoded; everything else is ignored.
type Device struct {
	DeviceURL  string      `json:"deviceURL"`
	Label      string      `json:"label,omitempty"`
	Definition Definition  `json:"definition"`
	States     []State     `json:"states,omitempty"`
	Executions []Execution `json:"executions,omitempty"`
}

// Definition carries the device's widget classification hints.
type Definition struct {
	WidgetName string `json:"widgetName,omitempty"`
	UIClass    string `json:"uiClass,omitempty"`
	Label      string `json:"label,omitempty"`
}

// State is one name/value pair of a device's state list. Value is whatever
// the gateway sent: float64, string, bool or nil after JSON decoding.
type State struct {
	Name  string `json:"name"`
	Type  int    `json:"type,omitempty"`
	Value any    `json:"value"`
}

// Execution is a command record attached to a device.
type Execution struct {
	ExecID string `json:"execId"`
	Status string `json:"status,omitempty"`
}

// ExecutionInProgress is the status the gateway reports for running commands.
const ExecutionInProgress = "IN_PROGRESS"

// Widget returns the lower-cased widget name, or "" when absent.
func (d *Device) Widget() string {
	return strings.ToLower(d.Definition.WidgetName)
}

// ClassifierLabel returns the lower-cased label used for filtering. The
// definition label wins over the top-level label.
func (d *Device) ClassifierLabel() string {
	if d.Definition.Label != "" {
		return strings.ToLower(d.Definition.Label)
	}
	return strings.ToLower(d.Label)
}

// DisplayLabel returns the trimmed human name for the device: label, then
// definition label, then widget name. Empty when none is set.
func (d *Device) DisplayLabel() string {
	for _, s := range []string{d.Label, d.Definition.Label, d.Definition.WidgetName} {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

// Model returns the widget name or "RollerShutter" when the device has none.
func (d *Device) Model() string {
	if d.Definition.WidgetName != "" {
		return d.Definition.WidgetName
	}
	return "RollerShutter"
}

// FindDevice returns the device with the given URL, or nil.
func FindDevice(devices []Device, deviceURL string) *Device {
	for i := range devices {
		if devices[i].DeviceURL == deviceURL {
			return &devices[i]
		}
	}
	return nil
}

// execRequest is the body of exec/apply.
type execRequest struct {
	Actions []execAction `json:"actions"`
}

type execAction struct {
	DeviceURL string        `json:"deviceURL"`
	Commands  []execCommand `json:"commands"`
}

type execCommand struct {
	Name       string `json:"name"`
	Parameters []any  `json:"parameters"`
}
