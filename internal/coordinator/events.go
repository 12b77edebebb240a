package coordinator

import (
	"log/slog"
	"sync"
)

// Event types emitted by the registry and the discovery pass.
const (
	EventAccessoryAdded   = "accessory_added"
	EventAccessoryRenamed = "accessory_renamed"
	EventAccessoryRemoved = "accessory_removed"
	EventCoverUpdate      = "cover_update"
	EventCommandSent      = "command_sent"
	EventCommandFailed    = "command_failed"
	EventDiscovery        = "discovery"
)

// Event is a coordinator notification. Data is a map with at least
// "id", "device_url", "name" and "model" for accessory events.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// EventHandler is a callback for events.
type EventHandler func(Event)

// subscription is one registered handler. An empty eventType receives
// every event.
type subscription struct {
	id        uint64
	eventType string
	handler   EventHandler
}

// EventBus fans registry and discovery events out to the web feed, the
// MQTT bridge and automations. Handlers run synchronously on the emitting
// goroutine, in registration order.
type EventBus struct {
	mu     sync.RWMutex
	subs   []subscription
	nextID uint64
	logger *slog.Logger
}

// NewEventBus creates a new event bus.
func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{logger: logger.With("component", "events")}
}

// On registers a handler for one event type and returns its unsubscribe
// function.
func (eb *EventBus) On(eventType string, handler EventHandler) func() {
	return eb.subscribe(eventType, handler)
}

// OnAll registers a handler for every event type.
func (eb *EventBus) OnAll(handler EventHandler) func() {
	return eb.subscribe("", handler)
}

func (eb *EventBus) subscribe(eventType string, handler EventHandler) func() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.nextID++
	id := eb.nextID
	eb.subs = append(eb.subs, subscription{id: id, eventType: eventType, handler: handler})

	var once sync.Once
	return func() {
		once.Do(func() { eb.unsubscribe(id) })
	}
}

func (eb *EventBus) unsubscribe(id uint64) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	for i, sub := range eb.subs {
		if sub.id == id {
			eb.subs = append(eb.subs[:i:i], eb.subs[i+1:]...)
			return
		}
	}
}

// Subscribers returns the number of registered handlers.
func (eb *EventBus) Subscribers() int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.subs)
}

// Emit delivers event to every matching handler. A panicking handler is
// logged and does not affect the others.
func (eb *EventBus) Emit(event Event) {
	eb.mu.RLock()
	matched := make([]EventHandler, 0, len(eb.subs))
	for _, sub := range eb.subs {
		if sub.eventType == "" || sub.eventType == event.Type {
			matched = append(matched, sub.handler)
		}
	}
	eb.mu.RUnlock()

	for _, h := range matched {
		eb.deliver(h, event)
	}
}

func (eb *EventBus) deliver(h EventHandler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			eb.logger.Error("event handler panic", "type", event.Type, "panic", r)
		}
	}()
	h(event)
}

func (eb *EventBus) emitAll(events []Event) {
	for _, e := range events {
		eb.Emit(e)
	}
}

func accessoryEventData(acc *Accessory) map[string]interface{} {
	return map[string]interface{}{
		"id":         acc.ID,
		"device_url": acc.DeviceURL,
		"name":       acc.DisplayName,
		"model":      acc.Model,
	}
}

func coverEventData(acc *Accessory) map[string]interface{} {
	data := accessoryEventData(acc)
	data["current"] = acc.Cover.Current
	data["target"] = acc.Cover.Target
	data["state"] = string(acc.Cover.State)
	return data
}
