//go:build !no_mqtt

package main

import (
	"log/slog"

	mqttbridge "tahoma-go-home/internal/mqtt"

	"tahoma-go-home/internal/coordinator"
)

type mqttStopper struct {
	bridge *mqttbridge.Bridge
}

func (m *mqttStopper) Stop() {
	if m.bridge != nil {
		m.bridge.Stop()
	}
}

// initMQTT exposes the accessories to Home Assistant. A broker that cannot
// be reached is logged and the bridge keeps running without MQTT.
func initMQTT(coord *coordinator.Coordinator, cfg *Config, logger *slog.Logger) *mqttStopper {
	if !cfg.MQTT.Enabled {
		return &mqttStopper{}
	}
	bridge, err := mqttbridge.NewBridge(coord, mqttbridge.Config{
		Broker:      cfg.MQTT.Broker,
		Username:    cfg.MQTT.Username,
		Password:    cfg.MQTT.Password,
		TopicPrefix: cfg.MQTT.TopicPrefix,
		ClientID:    cfg.MQTT.ClientID,
	}, logger)
	if err != nil {
		logger.Error("mqtt bridge", "broker", cfg.MQTT.Broker, "err", err)
		return &mqttStopper{}
	}
	bridge.Start()
	return &mqttStopper{bridge: bridge}
}
