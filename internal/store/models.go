package store

import "time"

// Accessory is the persisted record of an exposed covering. Runtime state
// (positions, stability counters, pending executions) is never stored.
type Accessory struct {
	ID          string    `json:"id"`
	DeviceURL   string    `json:"device_url"`
	DisplayName string    `json:"display_name"`
	Model       string    `json:"model,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// DiscoveryState records the outcome of the most recent discovery pass.
type DiscoveryState struct {
	LastRun    time.Time `json:"last_run"`
	Devices    int       `json:"devices"`
	Candidates int       `json:"candidates"`
	Created    int       `json:"created"`
	Updated    int       `json:"updated"`
	Removed    int       `json:"removed"`
}
