package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"tahoma-go-home/internal/gateway"
	"tahoma-go-home/internal/position"
	"tahoma-go-home/internal/store"
)

// ErrUnknownAccessory is returned for IDs not in the working set.
var ErrUnknownAccessory = errors.New("unknown accessory")

// ErrInvalidPosition is returned for targets outside 0..100.
var ErrInvalidPosition = errors.New("position must be between 0 and 100")

// accessoryNamespace seeds the deterministic accessory IDs.
var accessoryNamespace = uuid.MustParse("3f6c2b0e-8a4d-4c1e-9b7a-52d1f0e6a9c4")

// AccessoryID derives the stable accessory identifier from a device URL.
func AccessoryID(deviceURL string) string {
	return uuid.NewSHA1(accessoryNamespace, []byte(deviceURL)).String()
}

// PositionState is the movement state of a covering.
type PositionState string

const (
	StateStopped    PositionState = "stopped"
	StateIncreasing PositionState = "increasing"
	StateDecreasing PositionState = "decreasing"
)

// Cover holds the observable characteristics of a covering, in presentation
// units (100 = open).
type Cover struct {
	Current int           `json:"current"`
	Target  int           `json:"target"`
	State   PositionState `json:"state"`
}

// Accessory is one exposed covering and its polling state.
type Accessory struct {
	ID          string    `json:"id"`
	DeviceURL   string    `json:"device_url"`
	DisplayName string    `json:"name"`
	Model       string    `json:"model"`
	CreatedAt   time.Time `json:"created_at"`
	Cover       Cover     `json:"cover"`

	// LastKnownPosition is nil until the first poll observes the device.
	LastKnownPosition *int   `json:"last_known_position"`
	StableCycles      int    `json:"stable_cycles"`
	PendingExecID     string `json:"pending_exec_id,omitempty"`
}

func (a *Accessory) clone() Accessory {
	c := *a
	if a.LastKnownPosition != nil {
		p := *a.LastKnownPosition
		c.LastKnownPosition = &p
	}
	return c
}

func (a *Accessory) record() *store.Accessory {
	return &store.Accessory{
		ID:          a.ID,
		DeviceURL:   a.DeviceURL,
		DisplayName: a.DisplayName,
		Model:       a.Model,
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   time.Now(),
	}
}

// ReconcileResult lists the accessory IDs touched by a reconcile pass.
type ReconcileResult struct {
	Created []string `json:"created"`
	Updated []string `json:"updated"`
	Removed []string `json:"removed"`
}

// Changed reports whether the pass touched anything.
func (r ReconcileResult) Changed() bool {
	return len(r.Created)+len(r.Updated)+len(r.Removed) > 0
}

// Registry owns the working set of accessories. One mutex guards every
// accessory and its polling state; events are emitted after it is released.
type Registry struct {
	mu          sync.Mutex
	accessories map[string]*Accessory // by ID
	byURL       map[string]string     // deviceURL -> ID

	store      store.Store
	events     *EventBus
	dispatcher *Dispatcher
	metrics    *Metrics
	namePrefix string
	logger     *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(st store.Store, events *EventBus, dispatcher *Dispatcher, metrics *Metrics, namePrefix string, logger *slog.Logger) *Registry {
	return &Registry{
		accessories: make(map[string]*Accessory),
		byURL:       make(map[string]string),
		store:       st,
		events:      events,
		dispatcher:  dispatcher,
		metrics:     metrics,
		namePrefix:  namePrefix,
		logger:      logger.With("component", "registry"),
	}
}

// Load restores the persisted accessory records into the working set.
// Restored accessories start without a known position.
func (r *Registry) Load() error {
	records, err := r.store.ListAccessories()
	if err != nil {
		return fmt.Errorf("list accessories: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range records {
		if _, dup := r.byURL[rec.DeviceURL]; dup {
			r.logger.Warn("duplicate accessory record", "id", rec.ID, "device", rec.DeviceURL)
			continue
		}
		acc := &Accessory{
			ID:          rec.ID,
			DeviceURL:   rec.DeviceURL,
			DisplayName: rec.DisplayName,
			Model:       rec.Model,
			CreatedAt:   rec.CreatedAt,
			Cover:       Cover{State: StateStopped},
		}
		r.accessories[acc.ID] = acc
		r.byURL[acc.DeviceURL] = acc.ID
		r.logger.Debug("restored accessory", "id", acc.ID, "name", acc.DisplayName)
	}
	r.metrics.accessoryCount.Set(float64(len(r.accessories)))
	return nil
}

// Reconcile creates accessories for new candidates, renames existing ones
// whose label changed, then removes every accessory whose device is gone
// from either list. Running it twice with the same input is a no-op.
func (r *Registry) Reconcile(all, candidates []gateway.Device) ReconcileResult {
	var (
		res    ReconcileResult
		events []Event
	)

	r.mu.Lock()
	for i := range candidates {
		dev := &candidates[i]
		if id, ok := r.byURL[dev.DeviceURL]; ok {
			acc := r.accessories[id]
			name := dev.DisplayLabel()
			if name == "" || name == acc.DisplayName {
				continue
			}
			old := acc.DisplayName
			acc.DisplayName = name
			acc.Model = dev.Model()
			if err := r.store.UpdateAccessory(acc.ID, func(rec *store.Accessory) error {
				rec.DisplayName = acc.DisplayName
				rec.Model = acc.Model
				return nil
			}); err != nil {
				r.logger.Error("persist rename", "id", acc.ID, "err", err)
			}
			r.logger.Info("accessory renamed", "id", acc.ID, "from", old, "to", name)
			res.Updated = append(res.Updated, acc.ID)
			events = append(events, Event{Type: EventAccessoryRenamed, Data: accessoryEventData(acc)})
			continue
		}

		name := dev.DisplayLabel()
		if name == "" {
			name = fmt.Sprintf("%s %d", r.namePrefix, len(r.accessories)+1)
		}
		acc := &Accessory{
			ID:          AccessoryID(dev.DeviceURL),
			DeviceURL:   dev.DeviceURL,
			DisplayName: name,
			Model:       dev.Model(),
			CreatedAt:   time.Now(),
			Cover:       Cover{State: StateStopped},
		}
		r.accessories[acc.ID] = acc
		r.byURL[acc.DeviceURL] = acc.ID
		if err := r.store.SaveAccessory(acc.record()); err != nil {
			r.logger.Error("persist accessory", "id", acc.ID, "err", err)
		}
		r.logger.Info("accessory added", "id", acc.ID, "name", acc.DisplayName, "device", acc.DeviceURL)
		res.Created = append(res.Created, acc.ID)
		events = append(events, Event{Type: EventAccessoryAdded, Data: accessoryEventData(acc)})
	}

	present := urlSet(all)
	eligible := urlSet(candidates)
	for id, acc := range r.accessories {
		if present[acc.DeviceURL] && eligible[acc.DeviceURL] {
			continue
		}
		delete(r.accessories, id)
		delete(r.byURL, acc.DeviceURL)
		if err := r.store.DeleteAccessory(id); err != nil {
			r.logger.Error("delete accessory", "id", id, "err", err)
		}
		r.metrics.forget(id, acc.DeviceURL)
		r.logger.Info("accessory removed", "id", id, "name", acc.DisplayName, "device", acc.DeviceURL, "device_present", present[acc.DeviceURL])
		res.Removed = append(res.Removed, id)
		events = append(events, Event{Type: EventAccessoryRemoved, Data: accessoryEventData(acc)})
	}
	r.metrics.accessoryCount.Set(float64(len(r.accessories)))
	r.mu.Unlock()

	r.events.emitAll(events)
	return res
}

func urlSet(devices []gateway.Device) map[string]bool {
	set := make(map[string]bool, len(devices))
	for i := range devices {
		set[devices[i].DeviceURL] = true
	}
	return set
}

// Len returns the number of accessories in the working set.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.accessories)
}

// List returns snapshots of all accessories sorted by name.
func (r *Registry) List() []Accessory {
	r.mu.Lock()
	out := make([]Accessory, 0, len(r.accessories))
	for _, acc := range r.accessories {
		out = append(out, acc.clone())
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayName != out[j].DisplayName {
			return out[i].DisplayName < out[j].DisplayName
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Get returns a snapshot of one accessory.
func (r *Registry) Get(id string) (Accessory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	acc, ok := r.accessories[id]
	if !ok {
		return Accessory{}, fmt.Errorf("accessory %s: %w", id, ErrUnknownAccessory)
	}
	return acc.clone(), nil
}

// Resolve finds an accessory by ID, device URL or display name
// (case-insensitive), in that order.
func (r *Registry) Resolve(ref string) (Accessory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if acc, ok := r.accessories[ref]; ok {
		return acc.clone(), nil
	}
	if id, ok := r.byURL[ref]; ok {
		return r.accessories[id].clone(), nil
	}
	for _, acc := range r.accessories {
		if strings.EqualFold(acc.DisplayName, ref) {
			return acc.clone(), nil
		}
	}
	return Accessory{}, fmt.Errorf("accessory %q: %w", ref, ErrUnknownAccessory)
}

// OnReadCurrentPosition returns the last polled position, or 0 when the
// accessory has not been observed yet.
func (r *Registry) OnReadCurrentPosition(id string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	acc, ok := r.accessories[id]
	if !ok {
		return 0, fmt.Errorf("accessory %s: %w", id, ErrUnknownAccessory)
	}
	if acc.LastKnownPosition == nil {
		return 0, nil
	}
	return *acc.LastKnownPosition, nil
}

// OnWriteTargetPosition echoes the requested target to the accessory's
// target characteristic and forwards the command to the gateway. The current
// position is left to the poller. The echo is not reverted if the command
// fails; the error is returned to the caller.
func (r *Registry) OnWriteTargetPosition(ctx context.Context, id string, target int) (string, error) {
	if target < 0 || target > 100 {
		return "", ErrInvalidPosition
	}

	r.mu.Lock()
	acc, ok := r.accessories[id]
	if !ok {
		r.mu.Unlock()
		return "", fmt.Errorf("accessory %s: %w", id, ErrUnknownAccessory)
	}
	acc.Cover.Target = target
	deviceURL := acc.DeviceURL
	update := Event{Type: EventCoverUpdate, Data: coverEventData(acc)}
	base := accessoryEventData(acc)
	r.mu.Unlock()

	r.events.Emit(update)

	execID, err := r.dispatcher.SetPosition(ctx, deviceURL, target)
	base["target"] = target
	if err != nil {
		r.logger.Error("set position failed", "id", id, "device", deviceURL, "target", target, "err", err)
		base["error"] = err.Error()
		r.events.Emit(Event{Type: EventCommandFailed, Data: base})
		return "", err
	}

	if execID != "" {
		r.mu.Lock()
		if acc, ok := r.accessories[id]; ok {
			acc.PendingExecID = execID
		}
		r.mu.Unlock()
	}
	base["exec_id"] = execID
	r.events.Emit(Event{Type: EventCommandSent, Data: base})
	return execID, nil
}

// ApplyDevices runs one polling step for every accessory against a freshly
// fetched device list. Accessories whose device is missing are skipped.
func (r *Registry) ApplyDevices(devices []gateway.Device) {
	var events []Event

	r.mu.Lock()
	for _, acc := range r.accessories {
		dev := gateway.FindDevice(devices, acc.DeviceURL)
		if dev == nil {
			continue
		}
		if advance(acc, position.Decode(dev)) {
			r.logger.Debug("cover update", "id", acc.ID, "current", acc.Cover.Current,
				"target", acc.Cover.Target, "state", acc.Cover.State)
			events = append(events, Event{Type: EventCoverUpdate, Data: coverEventData(acc)})
		}
		r.metrics.setPosition(acc.ID, acc.DeviceURL, acc.Cover.Current)

		if acc.PendingExecID != "" && gateway.ExecutionFinishedIn(devices, acc.DeviceURL, acc.PendingExecID) {
			r.logger.Debug("execution finished", "id", acc.ID, "exec_id", acc.PendingExecID)
			acc.PendingExecID = ""
		}
	}
	r.mu.Unlock()

	r.events.emitAll(events)
}

// stableThreshold is the number of unchanged polls after which a covering
// is considered stopped.
const stableThreshold = 2

// advance runs the per-accessory polling state machine and reports whether
// any observable characteristic changed.
func advance(acc *Accessory, pos int) bool {
	if acc.LastKnownPosition == nil {
		acc.Cover = Cover{Current: pos, Target: pos, State: StateStopped}
		acc.LastKnownPosition = &pos
		acc.StableCycles = 0
		return true
	}

	last := *acc.LastKnownPosition
	if pos != last {
		acc.Cover.Current = pos
		if pos > last {
			acc.Cover.State = StateIncreasing
		} else {
			acc.Cover.State = StateDecreasing
		}
		acc.StableCycles = 0
		acc.LastKnownPosition = &pos
		return true
	}

	acc.StableCycles++
	if acc.StableCycles < stableThreshold {
		return false
	}
	if acc.Cover.State == StateStopped && acc.Cover.Target == acc.Cover.Current {
		return false
	}
	acc.Cover.State = StateStopped
	acc.Cover.Target = acc.Cover.Current
	return true
}
