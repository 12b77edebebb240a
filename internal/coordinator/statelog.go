package coordinator

import (
	"context"
	"log/slog"
	"time"

	"tahoma-go-home/internal/gateway"
	"tahoma-go-home/internal/position"
)

// Bounds of the state logging interval.
const (
	DefaultLogInterval = 30 * time.Second
	MinLogInterval     = 5 * time.Second
	MaxLogInterval     = 300 * time.Second
)

// ClampLogInterval bounds d to [MinLogInterval, MaxLogInterval]. Zero
// selects the default.
func ClampLogInterval(d time.Duration) time.Duration {
	switch {
	case d == 0:
		return DefaultLogInterval
	case d < MinLogInterval:
		return MinLogInterval
	case d > MaxLogInterval:
		return MaxLogInterval
	}
	return d
}

// PositionRecorder stores decoded positions, e.g. in a time series DB.
type PositionRecorder interface {
	RecordPosition(id, deviceURL, name string, position int) error
}

// StateLogger periodically logs the raw position state of every accessory.
// It does its own device fetch and shares nothing with the poller.
type StateLogger struct {
	gw       GatewayAPI
	registry *Registry
	recorder PositionRecorder
	interval time.Duration
	logger   *slog.Logger
}

// NewStateLogger creates a state logger. recorder may be nil.
func NewStateLogger(gw GatewayAPI, registry *Registry, recorder PositionRecorder, interval time.Duration, logger *slog.Logger) *StateLogger {
	return &StateLogger{
		gw:       gw,
		registry: registry,
		recorder: recorder,
		interval: ClampLogInterval(interval),
		logger:   logger.With("component", "state_log"),
	}
}

// Run logs once per interval until ctx is cancelled.
func (s *StateLogger) Run(ctx context.Context) {
	s.logger.Info("state logging started", "interval", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.LogOnce(ctx)
		}
	}
}

// LogOnce fetches the device list and logs one line per accessory.
func (s *StateLogger) LogOnce(ctx context.Context) {
	devices, err := s.gw.ListDevices(ctx)
	if err != nil {
		s.logger.Warn("state log fetch failed", "err", err)
		return
	}
	for _, acc := range s.registry.List() {
		dev := gateway.FindDevice(devices, acc.DeviceURL)
		if dev == nil {
			s.logger.Info("accessory state", "name", acc.DisplayName, "device", acc.DeviceURL, "present", false)
			continue
		}
		raw, _ := position.Raw(dev)
		pos := position.Decode(dev)
		s.logger.Info("accessory state", "name", acc.DisplayName, "device", acc.DeviceURL, "raw", raw, "position", pos)

		if s.recorder != nil {
			if err := s.recorder.RecordPosition(acc.ID, acc.DeviceURL, acc.DisplayName, pos); err != nil {
				s.logger.Warn("record position", "id", acc.ID, "err", err)
			}
		}
	}
}
