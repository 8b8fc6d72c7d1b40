package mumble

import (
	"errors"
	"fmt"
)

var (
	// ErrConfig indicates an invalid Config at construction time.
	ErrConfig = errors.New("invalid config")
	// ErrAlreadyConnected is returned when a data channel is attached to
	// a client that already has one.
	ErrAlreadyConnected = errors.New("already connected")
	// ErrProtocolViolation indicates a malformed message where no safe
	// default exists, such as an unrecognized PermissionDenied kind.
	ErrProtocolViolation = errors.New("protocol violation")
	// ErrTimeout indicates the server stopped answering pings.
	ErrTimeout = errors.New("timeout")
	// ErrServerClosed indicates the data channel ended cleanly.
	ErrServerClosed = errors.New("server closed connection")
	// ErrDisconnected is returned by commands issued after teardown.
	ErrDisconnected = errors.New("not connected")
)

// RejectError carries the server's Reject payload; it fails the Connect
// call and is delivered to OnReject listeners.
type RejectError struct {
	Type   int32
	Reason string
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("connection rejected: %s (type %d)", e.Reason, e.Type)
}
