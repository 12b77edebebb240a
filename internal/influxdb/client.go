// Package influxdb records cover positions into an InfluxDB v2 bucket.
package influxdb

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultBatchSize      = 100
	defaultFlushInterval  = 10 // seconds

	measurement = "cover_position"
)

// Config holds the InfluxDB connection settings.
type Config struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"` // seconds
}

// Client writes position points through the non-blocking, batching write API.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	logger   *slog.Logger

	mu        sync.RWMutex
	connected bool
}

// Connect creates the client and verifies the server answers a ping.
func Connect(cfg Config, logger *slog.Logger) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = defaultFlushInterval
	}

	client := influxdb2.NewClientWithOptions(
		cfg.URL,
		cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(uint(batchSize)).
			SetFlushInterval(uint(flushInterval)*1000),
	)

	ctx, cancel := context.WithTimeout(context.Background(), defaultConnectTimeout)
	defer cancel()
	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	c := &Client{
		client:    client,
		writeAPI:  client.WriteAPI(cfg.Org, cfg.Bucket),
		logger:    logger.With("component", "influxdb"),
		connected: true,
	}
	go c.logWriteErrors(c.writeAPI.Errors())
	return c, nil
}

func (c *Client) logWriteErrors(errs <-chan error) {
	for err := range errs {
		c.logger.Warn("async write failed", "err", err)
	}
}

// RecordPosition queues one position point for an accessory.
func (c *Client) RecordPosition(id, deviceURL, name string, position int) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.connected {
		return ErrNotConnected
	}
	c.writeAPI.WritePoint(newPositionPoint(id, deviceURL, name, position, time.Now()))
	return nil
}

func newPositionPoint(id, deviceURL, name string, position int, ts time.Time) *write.Point {
	return write.NewPoint(
		measurement,
		map[string]string{
			"accessory_id": id,
			"device_url":   deviceURL,
			"name":         name,
		},
		map[string]interface{}{
			"position": position,
		},
		ts,
	)
}

// Close flushes pending points and closes the client.
func (c *Client) Close() error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return nil
	}
	c.connected = false
	c.mu.Unlock()

	c.writeAPI.Flush()
	c.client.Close()
	return nil
}
