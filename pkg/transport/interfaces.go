package transport

import (
	"context"
	"io"
	"time"

	"github.com/rmacdonaldsmith/pldm-agent-go/pkg/link"
	"github.com/rmacdonaldsmith/pldm-agent-go/pkg/pldm"
)

// State is the lifecycle state of a transport.
type State int

const (
	StateUninitialized State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "Uninitialized"
	case StateRunning:
		return "Running"
	case StateStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// Response is the awaitable side of one outstanding request.
type Response interface {
	// InstanceID returns the identifier the request was registered under.
	InstanceID() pldm.InstanceID

	// Peer returns the endpoint the request was addressed to.
	Peer() link.EID

	// Done is closed once the request has been resolved.
	Done() <-chan struct{}

	// Wait blocks until the request is resolved or ctx ends. A ctx ending
	// does not cancel the request; it stays registered until its deadline.
	Wait(ctx context.Context) ([]byte, error)
}

// Transport multiplexes concurrent request/response exchanges over one
// shared link, correlating replies with requests by PLDM instance ID.
type Transport interface {
	io.Closer

	// Initialize opens the link and starts the background workers.
	Initialize(ctx context.Context) error

	// IsRunning reports whether the transport accepts requests.
	IsRunning() bool

	// State returns the current lifecycle state.
	State() State

	// PendingRequestCount returns the number of outstanding requests.
	PendingRequestCount() int

	// NextInstanceID hands out the next identifier for building a request.
	NextInstanceID() pldm.InstanceID

	// SendAsync registers request and hands it to the link. The returned
	// Response resolves with the matching reply or a failure.
	SendAsync(ctx context.Context, peer link.EID, request []byte, timeout time.Duration) (Response, error)

	// SendAndWait is SendAsync followed by a blocking wait.
	SendAndWait(ctx context.Context, peer link.EID, request []byte, timeout time.Duration) ([]byte, error)
}

// Direction tells whether a frame left or entered the agent.
type Direction string

const (
	DirectionTx Direction = "tx"
	DirectionRx Direction = "rx"
)

// FrameOutcome describes what the transport did with a frame.
type FrameOutcome string

const (
	FrameSent       FrameOutcome = "sent"
	FrameSendFailed FrameOutcome = "send_failed"
	FrameMatched    FrameOutcome = "matched"
	FrameOrphan     FrameOutcome = "orphan"
	FrameMalformed  FrameOutcome = "malformed"
	FrameShort      FrameOutcome = "short"
)

// FrameEvent is reported to a FrameObserver for every frame sent or received.
type FrameEvent struct {
	Direction  Direction
	Peer       link.EID
	InstanceID pldm.InstanceID
	Payload    []byte
	Outcome    FrameOutcome
}

// FrameObserver receives FrameEvents. Implementations must not block.
type FrameObserver interface {
	ObserveFrame(event FrameEvent)
}

// Resolution is the way a request left the pending table.
type Resolution string

const (
	ResolvedReply       Resolution = "reply"
	ResolvedTimeout     Resolution = "timeout"
	ResolvedSendFailure Resolution = "send_failure"
	ResolvedSuperseded  Resolution = "superseded"
	ResolvedClosing     Resolution = "closing"
)

// RequestObserver is told when a request is registered and when it is
// resolved. Implementations must not block.
type RequestObserver interface {
	RequestSent(peer link.EID, id pldm.InstanceID)
	RequestResolved(peer link.EID, id pldm.InstanceID, how Resolution, elapsed time.Duration)
}
