package coordinator

import (
	"context"
	"fmt"
	"log/slog"

	"tahoma-go-home/internal/gateway"
	"tahoma-go-home/internal/position"
)

// Gateway command verbs for moving a covering.
const (
	CommandSetClosure  = "setClosure"
	CommandSetPosition = "setPosition"
)

// GatewayAPI is the subset of the gateway client the coordinator needs.
type GatewayAPI interface {
	ListDevices(ctx context.Context) ([]gateway.Device, error)
	Execute(ctx context.Context, deviceURL, command string, params ...any) (gateway.ExecResult, error)
}

// CommandError is returned when both the primary and the fallback command
// failed. Unwrap yields the primary failure.
type CommandError struct {
	DeviceURL string
	Primary   error
	Fallback  error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("set position on %s: %v (fallback: %v)", e.DeviceURL, e.Primary, e.Fallback)
}

func (e *CommandError) Unwrap() error { return e.Primary }

// Dispatcher sends position commands to the gateway.
type Dispatcher struct {
	gw      GatewayAPI
	metrics *Metrics
	logger  *slog.Logger
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(gw GatewayAPI, metrics *Metrics, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		gw:      gw,
		metrics: metrics,
		logger:  logger.With("component", "dispatcher"),
	}
}

// SetPosition moves the device to a presentation position. It tries
// setClosure first and setPosition on any error, with the same value.
// The returned execution ID is empty when the gateway accepted the command
// without one.
func (d *Dispatcher) SetPosition(ctx context.Context, deviceURL string, target int) (string, error) {
	value := position.ToDeviceUnits(target)

	res, err := d.gw.Execute(ctx, deviceURL, CommandSetClosure, value)
	d.metrics.observeCommand(CommandSetClosure, err)
	if err == nil {
		d.logger.Info("command sent", "device", deviceURL, "command", CommandSetClosure, "value", value, "exec_id", res.ExecID)
		return res.ExecID, nil
	}

	d.logger.Warn("primary command failed, trying fallback", "device", deviceURL, "command", CommandSetClosure, "err", err)
	fres, ferr := d.gw.Execute(ctx, deviceURL, CommandSetPosition, value)
	d.metrics.observeCommand(CommandSetPosition, ferr)
	if ferr != nil {
		return "", &CommandError{DeviceURL: deviceURL, Primary: err, Fallback: ferr}
	}
	d.logger.Info("command sent", "device", deviceURL, "command", CommandSetPosition, "value", value, "exec_id", fres.ExecID)
	return fres.ExecID, nil
}
