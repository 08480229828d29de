package transport

import (
	"errors"
	"fmt"

	"github.com/rmacdonaldsmith/pldm-agent-go/pkg/link"
	"github.com/rmacdonaldsmith/pldm-agent-go/pkg/pldm"
)

var (
	// ErrInvalidArgument is returned for requests rejected before registration
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrSendFailure is returned when the link rejected the request bytes
	ErrSendFailure = errors.New("send failed")
	// ErrTimeout is returned when no reply arrived before the deadline
	ErrTimeout = errors.New("request timeout")
	// ErrTransportClosing is returned to every outstanding request at shutdown
	ErrTransportClosing = errors.New("transport closing")
	// ErrUnknownIdentifier marks a reply that matched no pending request.
	// It is logged and never returned to a caller.
	ErrUnknownIdentifier = errors.New("unknown instance id")
	// ErrSuperseded is returned when a newer request reused the instance ID
	ErrSuperseded = errors.New("superseded by request with same instance id")
	// ErrNotRunning is returned for calls made before Initialize
	ErrNotRunning = errors.New("transport not running")
	// ErrAlreadyInitialized is returned when Initialize is called twice
	ErrAlreadyInitialized = errors.New("transport already initialized")
)

// RequestError carries the identity of the request that failed.
type RequestError struct {
	Op         string
	InstanceID pldm.InstanceID
	Peer       link.EID
	Err        error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s instance_id=%d peer=%d: %v", e.Op, e.InstanceID, uint8(e.Peer), e.Err)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is a per-request failure that a caller
// may reasonably retry with a fresh instance ID.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrSendFailure) || errors.Is(err, ErrSuperseded)
}
