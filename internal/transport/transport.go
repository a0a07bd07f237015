// Package transport performs the network call against a resolved function
// address. It knows nothing about envelopes or tenants; it moves bytes in one
// of two modes and reports the remote status.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
)

// Mode selects the invocation style.
type Mode string

const (
	// ModeEvent is fire-and-forget: the transport returns as soon as the
	// platform accepted the invocation.
	ModeEvent Mode = "Event"

	// ModeRequestResponse waits for the target to finish and carries its
	// response payload back.
	ModeRequestResponse Mode = "RequestResponse"
)

// Response is the remote's answer to a single invocation.
type Response struct {
	StatusCode    int             `json:"statusCode"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	FunctionError string          `json:"functionError,omitempty"`
}

// Failed reports whether the remote signalled a failure status. The call
// itself completed; compare with Error for calls that never did.
func (r *Response) Failed() bool {
	return r.StatusCode >= 400 || r.FunctionError != ""
}

// Transport abstracts the invocation backend.
type Transport interface {
	// Invoke calls the function at address. payload may be nil, in which
	// case the invocation carries no payload field at all.
	Invoke(ctx context.Context, address string, mode Mode, payload []byte) (*Response, error)
}

// Error wraps a network call that failed to complete.
type Error struct {
	Address string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transport: invoke %s: %v", e.Address, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// RemoteStatusError reports a call that completed but whose remote status
// indicates failure. The safe call variants convert this into a normal
// return value instead of raising it.
type RemoteStatusError struct {
	Address  string
	Response *Response
}

func (e *RemoteStatusError) Error() string {
	if e.Response.FunctionError != "" {
		return fmt.Sprintf("transport: %s returned status %d (%s)", e.Address, e.Response.StatusCode, e.Response.FunctionError)
	}
	return fmt.Sprintf("transport: %s returned status %d", e.Address, e.Response.StatusCode)
}
