package gateway

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const (
	// DefaultTimeout bounds every gateway call.
	DefaultTimeout = 5 * time.Second
	defaultPort    = 443

	devicesPath = "/enduser-mobile-web/1/enduserAPI/setup/devices"
	execPath    = "/enduser-mobile-web/1/enduserAPI/exec/apply"
)

// Config holds the connection parameters of the local gateway.
type Config struct {
	Host    string // ip[:port]
	Token   string
	Timeout time.Duration
}

// ExecResult is the outcome of an exec/apply call. ExecID is empty when the
// gateway answered 2xx without an identifier; Raw always holds the body.
type ExecResult struct {
	ExecID string
	Raw    string
}

// Client talks to the gateway's local end-user API. Each call uses a fresh
// connection; certificate validation is disabled because the gateway serves
// a self-signed certificate on the local network.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient validates cfg and builds a client.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, fmt.Errorf("gateway ip is required")
	}
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("gateway token is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	host, port := SplitHostPort(cfg.Host)
	return &Client{
		baseURL: "https://" + net.JoinHostPort(host, strconv.Itoa(port)),
		token:   cfg.Token,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				TLSClientConfig:   &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // self-signed local gateway
				DisableKeepAlives: true,
			},
		},
	}, nil
}

// SplitHostPort splits an "ip[:port]" value. A missing or invalid port
// falls back to 443.
func SplitHostPort(value string) (string, int) {
	host, portPart, found := strings.Cut(strings.TrimSpace(value), ":")
	if !found {
		return host, defaultPort
	}
	port, err := strconv.Atoi(portPart)
	if err != nil || port <= 0 || port > 65535 {
		return host, defaultPort
	}
	return host, port
}

// BaseURL returns the scheme://host:port the client targets.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ListDevices fetches the full device list.
func (c *Client) ListDevices(ctx context.Context) ([]Device, error) {
	payload, err := c.do(ctx, "list devices", http.MethodGet, devicesPath, nil)
	if err != nil {
		return nil, err
	}
	var devices []Device
	if err := json.Unmarshal(payload, &devices); err != nil {
		return nil, &ParseError{Op: "list devices", Body: string(payload), Err: err}
	}
	return devices, nil
}

// Execute applies a single command with parameters to one device.
func (c *Client) Execute(ctx context.Context, deviceURL, command string, params ...any) (ExecResult, error) {
	if params == nil {
		params = []any{}
	}
	body, err := json.Marshal(execRequest{
		Actions: []execAction{{
			DeviceURL: deviceURL,
			Commands:  []execCommand{{Name: command, Parameters: params}},
		}},
	})
	if err != nil {
		return ExecResult{}, fmt.Errorf("encode exec request: %w", err)
	}

	payload, err := c.do(ctx, "exec "+command, http.MethodPost, execPath, body)
	if err != nil {
		return ExecResult{}, err
	}

	res := ExecResult{Raw: string(payload)}
	if gjson.ValidBytes(payload) {
		res.ExecID = gjson.GetBytes(payload, "execId").String()
	}
	return res, nil
}

// ExecutionFinished reports whether execID is no longer running on the
// device. Missing devices, missing executions and lookup failures all
// count as finished.
func (c *Client) ExecutionFinished(ctx context.Context, deviceURL, execID string) bool {
	devices, err := c.ListDevices(ctx)
	if err != nil {
		return true
	}
	return ExecutionFinishedIn(devices, deviceURL, execID)
}

// ExecutionFinishedIn is ExecutionFinished over an already fetched list.
func ExecutionFinishedIn(devices []Device, deviceURL, execID string) bool {
	dev := FindDevice(devices, deviceURL)
	if dev == nil {
		return true
	}
	for _, e := range dev.Executions {
		if e.ExecID == execID {
			return e.Status != ExecutionInProgress
		}
	}
	return true
}

func (c *Client) do(ctx context.Context, op, method, path string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, wrapRequestErr(op, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, wrapRequestErr(op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Op: op, Code: resp.StatusCode, Body: strings.TrimSpace(string(payload))}
	}
	return payload, nil
}

func wrapRequestErr(op string, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("gateway %s: %w", op, ErrTimeout)
	}
	return &TransportError{Op: op, Err: err}
}
