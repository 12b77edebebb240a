//go:build !no_mqtt

package mqtt

import (
	"fmt"
	"strings"

	"tahoma-go-home/internal/coordinator"
)

// Manufacturer reported in the HA device registry.
const manufacturer = "Somfy/Tahoma"

// discoveryMsg is a Home Assistant MQTT discovery payload.
type discoveryMsg struct {
	Topic   string // e.g. "homeassistant/cover/tahoma_6f1c.../cover/config"
	Payload []byte // JSON, empty means delete
}

// haDevice is the "device" block in HA discovery.
type haDevice struct {
	Identifiers  []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
	Name         string   `json:"name"`
	SerialNumber string   `json:"serial_number,omitempty"`
}

// haCover is the discovery payload of a cover entity.
type haCover struct {
	Name              string   `json:"name"`
	UniqueID          string   `json:"unique_id"`
	DeviceClass       string   `json:"device_class,omitempty"`
	StateTopic        string   `json:"state_topic"`
	ValueTemplate     string   `json:"value_template"`
	CommandTopic      string   `json:"command_topic"`
	PositionTopic     string   `json:"position_topic"`
	PositionTemplate  string   `json:"position_template"`
	SetPositionTopic  string   `json:"set_position_topic"`
	AvailabilityTopic string   `json:"availability_topic"`
	PayloadOpen       string   `json:"payload_open"`
	PayloadClose      string   `json:"payload_close"`
	PayloadStop       *string  `json:"payload_stop"`
	StateOpen         string   `json:"state_open"`
	StateOpening      string   `json:"state_opening"`
	StateClosed       string   `json:"state_closed"`
	StateClosing      string   `json:"state_closing"`
	PositionOpen      int      `json:"position_open"`
	PositionClosed    int      `json:"position_closed"`
	Optimistic        bool     `json:"optimistic"`
	Device            haDevice `json:"device"`
}

// coverState is the retained JSON published on an accessory's state topic.
type coverState struct {
	Position int    `json:"position"`
	Target   int    `json:"target"`
	State    string `json:"state"`
}

// nodeID returns the unique identifier for HA device registry.
func nodeID(accessoryID string) string {
	return "tahoma_" + strings.ReplaceAll(accessoryID, "-", "")
}

// stateTopic returns the topic an accessory's state is published on.
func stateTopic(prefix, accessoryID string) string {
	return prefix + "/" + nodeID(accessoryID)
}

// deviceClass picks the HA cover class from the widget name.
func deviceClass(model string) string {
	m := strings.ToLower(model)
	switch {
	case strings.Contains(m, "curtain"):
		return "curtain"
	case strings.Contains(m, "blind"):
		return "blind"
	case strings.Contains(m, "awning"):
		return "awning"
	default:
		return "shutter"
	}
}

// haState maps the movement state to the HA cover state vocabulary.
func haState(state string, current int) string {
	switch coordinator.PositionState(state) {
	case coordinator.StateIncreasing:
		return "opening"
	case coordinator.StateDecreasing:
		return "closing"
	}
	if current == 0 {
		return "closed"
	}
	return "open"
}

// buildCoverDiscovery generates the HA discovery message for an accessory.
func buildCoverDiscovery(acc coordinator.Accessory, prefix string) discoveryMsg {
	node := nodeID(acc.ID)
	state := stateTopic(prefix, acc.ID)

	payload := haCover{
		Name:              acc.DisplayName,
		UniqueID:          node + "_cover",
		DeviceClass:       deviceClass(acc.Model),
		StateTopic:        state,
		ValueTemplate:     "{{ value_json.state }}",
		CommandTopic:      state + "/set",
		PositionTopic:     state,
		PositionTemplate:  "{{ value_json.position }}",
		SetPositionTopic:  state + "/set_position",
		AvailabilityTopic: prefix + "/bridge/state",
		PayloadOpen:       "OPEN",
		PayloadClose:      "CLOSE",
		StateOpen:         "open",
		StateOpening:      "opening",
		StateClosed:       "closed",
		StateClosing:      "closing",
		PositionOpen:      100,
		PositionClosed:    0,
		Device: haDevice{
			Identifiers:  []string{node},
			Manufacturer: manufacturer,
			Model:        acc.Model,
			Name:         acc.DisplayName,
			SerialNumber: acc.DeviceURL,
		},
	}
	return discoveryMsg{
		Topic:   fmt.Sprintf("homeassistant/cover/%s/cover/config", node),
		Payload: mustJSON(payload),
	}
}

// buildRemoveDiscovery generates the empty retained message that removes an
// accessory from HA.
func buildRemoveDiscovery(accessoryID string) discoveryMsg {
	return discoveryMsg{
		Topic:   fmt.Sprintf("homeassistant/cover/%s/cover/config", nodeID(accessoryID)),
		Payload: nil, // empty retained = delete
	}
}

// buildState renders the state payload of an accessory.
func buildState(cover coordinator.Cover) []byte {
	return mustJSON(coverState{
		Position: cover.Current,
		Target:   cover.Target,
		State:    haState(string(cover.State), cover.Current),
	})
}
