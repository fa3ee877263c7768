package emias

import (
	"errors"
	"fmt"
	"strconv"
)

// ErrIncompleteRecord marks an attempt to query the API for a record missing
// its insurance number or birth date.
var ErrIncompleteRecord = errors.New("record is missing insurance number or birth date")

// TransportError is a failed HTTP exchange: no response or a non-2xx status.
// StatusCode is zero when no response was received.
type TransportError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("request %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("request %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Reason is a short label for user-facing notifications: the status code
// when known, otherwise the underlying error.
func (e *TransportError) Reason() string {
	if e.StatusCode != 0 {
		return strconv.Itoa(e.StatusCode)
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "unknown"
}

// RPCError is the error member of a JSON-RPC response.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Reason describes any API failure for notifications, preferring the HTTP
// status when one was received.
func Reason(err error) string {
	var transport *TransportError
	if errors.As(err, &transport) {
		return transport.Reason()
	}
	var rpc *RPCError
	if errors.As(err, &rpc) {
		return rpc.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
