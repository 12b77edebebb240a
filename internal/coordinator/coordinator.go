package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tahoma-go-home/internal/classifier"
	"tahoma-go-home/internal/gateway"
	"tahoma-go-home/internal/position"
	"tahoma-go-home/internal/store"
)

// DefaultNamePrefix names accessories whose device has no label.
const DefaultNamePrefix = "Volet"

// Config holds coordinator configuration.
type Config struct {
	PollInterval time.Duration
	LogState     bool
	LogInterval  time.Duration
	NamePrefix   string
	Filters      classifier.Filters
	Debug        bool
}

// DeviceVerdict pairs a gateway device with its classification.
type DeviceVerdict struct {
	DeviceURL string             `json:"device_url"`
	Label     string             `json:"label"`
	Widget    string             `json:"widget"`
	Position  int                `json:"position"`
	Verdict   classifier.Verdict `json:"verdict"`
	Accessory string             `json:"accessory_id,omitempty"`
}

// Coordinator ties the gateway, the registry and the periodic tasks together.
type Coordinator struct {
	gw         GatewayAPI
	store      store.Store
	events     *EventBus
	metrics    *Metrics
	registry   *Registry
	dispatcher *Dispatcher
	poller     *Poller
	recorder   PositionRecorder
	config     Config
	logger     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu            sync.Mutex
	pollerRunning bool
	discoveryMu   sync.Mutex
	filtersMu     sync.RWMutex
}

// New creates a coordinator.
func New(gw GatewayAPI, st store.Store, events *EventBus, cfg Config, logger *slog.Logger) *Coordinator {
	if cfg.NamePrefix == "" {
		cfg.NamePrefix = DefaultNamePrefix
	}
	ctx, cancel := context.WithCancel(context.Background())
	metrics := NewMetrics()
	dispatcher := NewDispatcher(gw, metrics, logger)
	registry := NewRegistry(st, events, dispatcher, metrics, cfg.NamePrefix, logger)
	return &Coordinator{
		gw:         gw,
		store:      st,
		events:     events,
		metrics:    metrics,
		registry:   registry,
		dispatcher: dispatcher,
		poller:     NewPoller(gw, registry, metrics, cfg.PollInterval, logger),
		config:     cfg,
		logger:     logger.With("component", "coordinator"),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// SetRecorder attaches a position recorder to the state logger. Call
// before Start.
func (c *Coordinator) SetRecorder(r PositionRecorder) {
	c.recorder = r
}

// Context returns the coordinator's context, which is cancelled on Stop().
func (c *Coordinator) Context() context.Context {
	return c.ctx
}

// Start restores persisted accessories, runs the initial discovery and
// starts the periodic tasks. A failed initial discovery aborts startup.
func (c *Coordinator) Start(ctx context.Context) error {
	if err := c.registry.Load(); err != nil {
		return err
	}
	if _, err := c.discover(ctx); err != nil {
		return err
	}

	c.startPoller()
	if c.config.LogState {
		sl := NewStateLogger(c.gw, c.registry, c.recorder, c.config.LogInterval, c.logger)
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			sl.Run(c.ctx)
		}()
	}
	return nil
}

// Rediscover runs another discovery pass, including the purge of vanished
// or filtered-out accessories.
func (c *Coordinator) Rediscover(ctx context.Context) (ReconcileResult, error) {
	res, err := c.discover(ctx)
	if err != nil {
		return res, err
	}
	c.startPoller()
	return res, nil
}

// Stop cancels the periodic tasks and waits for them to exit.
func (c *Coordinator) Stop() {
	c.cancel()
	c.wg.Wait()
}

// startPoller launches the polling loop once, and only when there is at
// least one accessory to poll.
func (c *Coordinator) startPoller() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pollerRunning || c.ctx.Err() != nil {
		return
	}
	if c.registry.Len() == 0 {
		c.logger.Info("no accessories, polling not started")
		return
	}
	c.pollerRunning = true
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.poller.Run(c.ctx)
	}()
}

func (c *Coordinator) discover(ctx context.Context) (ReconcileResult, error) {
	c.discoveryMu.Lock()
	defer c.discoveryMu.Unlock()

	devices, err := c.gw.ListDevices(ctx)
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("discover devices: %w", err)
	}

	filters := c.Filters()
	if c.config.Debug {
		for i := range devices {
			v := classifier.Explain(&devices[i], filters)
			c.logger.Debug("classification", "device", devices[i].DeviceURL,
				"label", devices[i].DisplayLabel(), "widget", devices[i].Definition.WidgetName,
				"candidate", v.Candidate, "reason", v.Reason)
		}
	}

	candidates := classifier.Classify(devices, filters)
	res := c.registry.Reconcile(devices, candidates)
	c.metrics.discoveries.Inc()
	c.logger.Info("discovery complete", "devices", len(devices), "candidates", len(candidates),
		"created", len(res.Created), "updated", len(res.Updated), "removed", len(res.Removed))

	state := &store.DiscoveryState{
		LastRun:    time.Now(),
		Devices:    len(devices),
		Candidates: len(candidates),
		Created:    len(res.Created),
		Updated:    len(res.Updated),
		Removed:    len(res.Removed),
	}
	if err := c.store.SaveDiscoveryState(state); err != nil {
		c.logger.Error("save discovery state", "err", err)
	}
	c.events.Emit(Event{Type: EventDiscovery, Data: map[string]interface{}{
		"devices":    len(devices),
		"candidates": len(candidates),
		"created":    len(res.Created),
		"updated":    len(res.Updated),
		"removed":    len(res.Removed),
	}})
	return res, nil
}

// Filters returns the active classification filters.
func (c *Coordinator) Filters() classifier.Filters {
	c.filtersMu.RLock()
	defer c.filtersMu.RUnlock()
	return c.config.Filters
}

// SetFilters replaces the classification filters. The next discovery pass
// applies them.
func (c *Coordinator) SetFilters(f classifier.Filters) {
	c.filtersMu.Lock()
	c.config.Filters = f
	c.filtersMu.Unlock()
}

// GatewayDevices fetches the device list and explains the classification
// of every device.
func (c *Coordinator) GatewayDevices(ctx context.Context) ([]DeviceVerdict, error) {
	devices, err := c.gw.ListDevices(ctx)
	if err != nil {
		return nil, err
	}
	filters := c.Filters()
	out := make([]DeviceVerdict, 0, len(devices))
	for i := range devices {
		dev := &devices[i]
		v := DeviceVerdict{
			DeviceURL: dev.DeviceURL,
			Label:     dev.DisplayLabel(),
			Widget:    dev.Definition.WidgetName,
			Position:  position.Decode(dev),
			Verdict:   classifier.Explain(dev, filters),
		}
		if acc, err := c.registry.Resolve(dev.DeviceURL); err == nil {
			v.Accessory = acc.ID
		}
		out = append(out, v)
	}
	return out, nil
}

// SetPosition resolves ref (ID, device URL or name) and writes the target.
func (c *Coordinator) SetPosition(ctx context.Context, ref string, target int) (string, error) {
	acc, err := c.registry.Resolve(ref)
	if err != nil {
		return "", err
	}
	return c.registry.OnWriteTargetPosition(ctx, acc.ID, target)
}

// PollNow runs one polling cycle outside the ticker.
func (c *Coordinator) PollNow(ctx context.Context) error {
	return c.poller.Tick(ctx)
}

// Store returns the store.
func (c *Coordinator) Store() store.Store {
	return c.store
}

// Events returns the event bus.
func (c *Coordinator) Events() *EventBus {
	return c.events
}

// Registry returns the accessory registry.
func (c *Coordinator) Registry() *Registry {
	return c.registry
}

// Metrics returns the coordinator metrics.
func (c *Coordinator) Metrics() *Metrics {
	return c.metrics
}

// Gateway returns the gateway client.
func (c *Coordinator) Gateway() GatewayAPI {
	return c.gw
}

var _ GatewayAPI = (*gateway.Client)(nil)
