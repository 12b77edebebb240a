package gateway

import (
	"errors"
	"fmt"
)

// ErrTimeout is wrapped by every error caused by the request deadline.
var ErrTimeout = errors.New("gateway did not respond in time")

// TransportError reports a connection level failure (DNS, refused, TLS).
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("gateway %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// StatusError reports a non-2xx response.
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gateway %s: HTTP %d: %s", e.Op, e.Code, e.Body)
}

// ParseError reports a 2xx response whose body is not the expected structure.
type ParseError struct {
	Op   string
	Body string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("gateway %s: parse response: %v", e.Op, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
