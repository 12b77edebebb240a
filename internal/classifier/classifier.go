// Package classifier decides which gateway devices are motorised coverings
// worth exposing as accessories.
package classifier

import (
	"slices"
	"strings"

	"tahoma-go-home/internal/gateway"
)

// DefaultExcludeKeywords name device categories that are never coverings.
var DefaultExcludeKeywords = []string{
	"garage", "gate", "portail", "awning", "light", "switch",
	"remote", "sensor", "alarm", "plug", "heating", "thermostat",
}

// DefaultMovementKeywords identify coverings by widget or label.
var DefaultMovementKeywords = []string{"roller", "shutter", "blind", "curtain", "volet"}

// Filters configures the classification. Nil keyword lists fall back to the
// defaults; an explicitly empty list disables that check.
type Filters struct {
	ExcludeDeviceURLs []string `yaml:"exclude_device_urls" json:"exclude_device_urls"`
	ExcludeLabels     []string `yaml:"exclude_labels" json:"exclude_labels"`
	ExcludeKeywords   []string `yaml:"exclude_keywords" json:"exclude_keywords"`
	MovementKeywords  []string `yaml:"movement_keywords" json:"movement_keywords"`
}

func (f Filters) excludeKeywords() []string {
	if f.ExcludeKeywords == nil {
		return DefaultExcludeKeywords
	}
	return f.ExcludeKeywords
}

func (f Filters) movementKeywords() []string {
	if f.MovementKeywords == nil {
		return DefaultMovementKeywords
	}
	return f.MovementKeywords
}

// Verdict explains the classification of a single device.
type Verdict struct {
	Candidate bool   `json:"candidate"`
	Reason    string `json:"reason"`
}

// Classify returns the devices that survive the filters, in input order.
func Classify(devices []gateway.Device, f Filters) []gateway.Device {
	var out []gateway.Device
	for i := range devices {
		if Explain(&devices[i], f).Candidate {
			out = append(out, devices[i])
		}
	}
	return out
}

// Explain runs the exclusion checks in order and stops at the first hit.
// Only a device that passes every exclusion is tested for movement keywords.
func Explain(d *gateway.Device, f Filters) Verdict {
	widget := d.Widget()
	label := d.ClassifierLabel()

	if slices.Contains(f.ExcludeDeviceURLs, d.DeviceURL) {
		return Verdict{Reason: "excluded device url"}
	}
	if kw, ok := containsAny(label, f.ExcludeLabels); ok {
		return Verdict{Reason: "excluded label " + kw}
	}
	if kw, ok := containsAny(widget, f.excludeKeywords()); ok {
		return Verdict{Reason: "excluded keyword " + kw + " in widget"}
	}
	if kw, ok := containsAny(label, f.excludeKeywords()); ok {
		return Verdict{Reason: "excluded keyword " + kw + " in label"}
	}
	if kw, ok := containsAny(widget, f.movementKeywords()); ok {
		return Verdict{Candidate: true, Reason: "movement keyword " + kw + " in widget"}
	}
	if kw, ok := containsAny(label, f.movementKeywords()); ok {
		return Verdict{Candidate: true, Reason: "movement keyword " + kw + " in label"}
	}
	return Verdict{Reason: "no movement keyword"}
}

func containsAny(s string, keywords []string) (string, bool) {
	if s == "" {
		return "", false
	}
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" && strings.Contains(s, kw) {
			return kw, true
		}
	}
	return "", false
}
