package influxdb

import "errors"

var (
	// ErrDisabled indicates the position history sink is not enabled.
	ErrDisabled = errors.New("influxdb: disabled in configuration")

	// ErrConnectionFailed indicates the initial connection attempt failed.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrNotConnected is returned by writes after Close.
	ErrNotConnected = errors.New("influxdb: not connected")
)
