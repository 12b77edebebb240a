//go:build !no_mqtt

package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"tahoma-go-home/internal/coordinator"
)

// Config holds MQTT bridge configuration.
type Config struct {
	Broker      string
	Username    string
	Password    string
	TopicPrefix string
	ClientID    string
}

// commandTimeout bounds a set-position request coming from MQTT. Primary
// and fallback commands each get the gateway's own timeout.
const commandTimeout = 15 * time.Second

// Bridge exposes the registry's accessories to Home Assistant as MQTT
// covers and routes HA commands back to the registry.
type Bridge struct {
	client pahomqtt.Client
	coord  *coordinator.Coordinator
	prefix string
	logger *slog.Logger
	unsub  func()

	mu         sync.Mutex
	subscribed map[string]bool // accessory ID -> command topics subscribed
}

// NewBridge creates and connects an MQTT bridge.
func NewBridge(coord *coordinator.Coordinator, cfg Config, logger *slog.Logger) (*Bridge, error) {
	b := newBridge(coord, cfg.TopicPrefix, logger)

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "tahoma-go-home"
	}
	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetWill(cfg.TopicPrefix+"/bridge/state", "offline", 1, true).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			b.logger.Info("MQTT connected")
			b.resync()
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			b.logger.Warn("MQTT connection lost", "err", err)
			b.mu.Lock()
			clear(b.subscribed)
			b.mu.Unlock()
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	// The on-connect handler may fire before Connect returns.
	b.client = pahomqtt.NewClient(opts)
	token := b.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return b, nil
}

func newBridge(coord *coordinator.Coordinator, prefix string, logger *slog.Logger) *Bridge {
	return &Bridge{
		coord:      coord,
		prefix:     prefix,
		logger:     logger.With("component", "mqtt"),
		subscribed: make(map[string]bool),
	}
}

// Start subscribes to coordinator events and begins MQTT publishing.
func (b *Bridge) Start() {
	b.unsub = b.coord.Events().OnAll(b.handleEvent)
	b.logger.Info("MQTT bridge started", "prefix", b.prefix)
}

// Stop publishes offline state, unsubscribes, and disconnects.
func (b *Bridge) Stop() {
	if b.unsub != nil {
		b.unsub()
	}
	b.publishBridgeState("offline")
	b.client.Disconnect(1000)
	b.logger.Info("MQTT bridge stopped")
}

// resync publishes availability, discovery and state of every accessory
// and subscribes their command topics.
func (b *Bridge) resync() {
	b.publishBridgeState("online")
	for _, acc := range b.coord.Registry().List() {
		b.publishAccessory(acc)
	}
}

func (b *Bridge) handleEvent(event coordinator.Event) {
	data, ok := event.Data.(map[string]interface{})
	if !ok {
		return
	}
	id, _ := data["id"].(string)

	switch event.Type {
	case coordinator.EventAccessoryAdded, coordinator.EventAccessoryRenamed:
		acc, err := b.coord.Registry().Get(id)
		if err != nil {
			return
		}
		b.publishAccessory(acc)
	case coordinator.EventAccessoryRemoved:
		b.removeAccessory(id)
	case coordinator.EventCoverUpdate:
		current, _ := data["current"].(int)
		target, _ := data["target"].(int)
		state, _ := data["state"].(string)
		cover := coordinator.Cover{Current: current, Target: target, State: coordinator.PositionState(state)}
		b.publish(stateTopic(b.prefix, id), buildState(cover), true)
	}
}

func (b *Bridge) publishAccessory(acc coordinator.Accessory) {
	msg := buildCoverDiscovery(acc, b.prefix)
	b.publish(msg.Topic, msg.Payload, true)
	b.subscribeCommands(acc.ID)
	if acc.LastKnownPosition != nil {
		b.publish(stateTopic(b.prefix, acc.ID), buildState(acc.Cover), true)
	}
	b.logger.Info("published HA discovery", "id", acc.ID, "name", acc.DisplayName)
}

func (b *Bridge) removeAccessory(id string) {
	if id == "" {
		return
	}
	msg := buildRemoveDiscovery(id)
	b.publish(msg.Topic, msg.Payload, true)
	b.publish(stateTopic(b.prefix, id), nil, true)

	b.mu.Lock()
	wasSubscribed := b.subscribed[id]
	delete(b.subscribed, id)
	b.mu.Unlock()
	if wasSubscribed {
		base := stateTopic(b.prefix, id)
		b.client.Unsubscribe(base+"/set", base+"/set_position")
	}
	b.logger.Info("removed HA discovery", "id", id)
}

func (b *Bridge) subscribeCommands(id string) {
	b.mu.Lock()
	if b.subscribed[id] {
		b.mu.Unlock()
		return
	}
	b.subscribed[id] = true
	b.mu.Unlock()

	base := stateTopic(b.prefix, id)
	b.client.Subscribe(base+"/set", 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		b.handleCommand(id, msg.Payload())
	})
	b.client.Subscribe(base+"/set_position", 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		b.handleSetPosition(id, msg.Payload())
	})
}

// parseCommand maps an HA cover command to a target position. ok is false
// for commands that do not move the cover.
func parseCommand(payload []byte) (target int, ok bool, err error) {
	switch strings.ToUpper(strings.TrimSpace(string(payload))) {
	case "OPEN":
		return 100, true, nil
	case "CLOSE":
		return 0, true, nil
	case "STOP":
		return 0, false, nil
	default:
		return 0, false, fmt.Errorf("unknown cover command %q", payload)
	}
}

// parsePosition accepts a bare number or a JSON object with "position".
func parsePosition(payload []byte) (int, error) {
	s := strings.TrimSpace(string(payload))
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return clampPosition(n), nil
	}
	var cmd map[string]interface{}
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return 0, fmt.Errorf("invalid position %q", s)
	}
	n, ok := toFloat64(cmd["position"])
	if !ok {
		return 0, fmt.Errorf("invalid position %q", s)
	}
	return clampPosition(n), nil
}

func clampPosition(n float64) int {
	switch {
	case n < 0:
		return 0
	case n > 100:
		return 100
	}
	return int(n + 0.5)
}

func (b *Bridge) handleCommand(id string, payload []byte) {
	target, move, err := parseCommand(payload)
	if err != nil {
		b.logger.Warn("invalid cover command", "id", id, "err", err)
		return
	}
	if !move {
		b.logger.Warn("stop is not supported by the gateway, ignoring", "id", id)
		return
	}
	b.setPosition(id, target)
}

func (b *Bridge) handleSetPosition(id string, payload []byte) {
	target, err := parsePosition(payload)
	if err != nil {
		b.logger.Warn("invalid set_position payload", "id", id, "err", err)
		return
	}
	b.setPosition(id, target)
}

func (b *Bridge) setPosition(id string, target int) {
	ctx, cancel := context.WithTimeout(b.coord.Context(), commandTimeout)
	defer cancel()
	if _, err := b.coord.Registry().OnWriteTargetPosition(ctx, id, target); err != nil {
		b.logger.Warn("set position failed", "id", id, "target", target, "err", err)
	}
}

func (b *Bridge) publishBridgeState(state string) {
	b.publish(b.prefix+"/bridge/state", []byte(state), true)
}

func (b *Bridge) publish(topic string, payload []byte, retained bool) {
	token := b.client.Publish(topic, 1, retained, payload)
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			b.logger.Warn("MQTT publish timeout", "topic", topic)
		} else if err := token.Error(); err != nil {
			b.logger.Warn("MQTT publish error", "topic", topic, "err", err)
		}
	}()
}

func toFloat64(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func mustJSON(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
