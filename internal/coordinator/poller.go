package coordinator

import (
	"context"
	"log/slog"
	"time"
)

// DefaultPollInterval is used when no interval is configured.
const DefaultPollInterval = 10 * time.Second

// Poller periodically fetches the device list and advances every
// accessory's state machine.
type Poller struct {
	gw       GatewayAPI
	registry *Registry
	metrics  *Metrics
	interval time.Duration
	logger   *slog.Logger
}

// NewPoller creates a poller. A non-positive interval uses the default.
func NewPoller(gw GatewayAPI, registry *Registry, metrics *Metrics, interval time.Duration, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		gw:       gw,
		registry: registry,
		metrics:  metrics,
		interval: interval,
		logger:   logger.With("component", "poller"),
	}
}

// Run ticks until ctx is cancelled. A failed tick never stops the loop.
func (p *Poller) Run(ctx context.Context) {
	p.logger.Info("polling started", "interval", p.interval)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("polling stopped")
			return
		case <-ticker.C:
			_ = p.Tick(ctx)
		}
	}
}

// Tick runs one polling cycle. Fetch errors are logged and returned; no
// accessory is touched in that case.
func (p *Poller) Tick(ctx context.Context) error {
	devices, err := p.gw.ListDevices(ctx)
	p.metrics.observePoll(err, float64(time.Now().Unix()))
	if err != nil {
		p.logger.Warn("poll failed", "err", err)
		return err
	}
	p.registry.ApplyDevices(devices)
	return nil
}
