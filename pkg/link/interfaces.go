package link

import (
	"context"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrNoData is returned by Receive when no complete message is pending.
	ErrNoData = errors.New("link: no data")
	// ErrClosed is returned by operations on a closed link
	ErrClosed = errors.New("link: closed")
	// ErrNotOpen is returned by Send or Receive before Open succeeded
	ErrNotOpen = errors.New("link: not open")
)

// EID is an MCTP endpoint ID addressing a device on the link.
type EID uint8

func (e EID) String() string {
	return fmt.Sprintf("eid:%d", uint8(e))
}

// Config is passed to Open.
type Config struct {
	// Interface names the underlying channel: a tty device path for serial
	// links, a bridge address for remote links.
	Interface string

	// LocalEID is the endpoint ID of this agent on the link.
	LocalEID EID

	// Peers lists the endpoints this agent expects to talk to.
	Peers []EID
}

// Link is a bidirectional, message-oriented byte channel shared by every
// producer in the agent.
//
// A single Receive call returns exactly one message. Framing, fragmentation
// and addressing below the message level are the link's responsibility.
type Link interface {
	io.Closer

	// Open prepares the link for traffic.
	Open(ctx context.Context, cfg Config) error

	// Send hands one message addressed to peer to the link.
	Send(peer EID, msg []byte) error

	// Receive returns the next pending message without blocking.
	// It returns ErrNoData when nothing is pending.
	Receive() ([]byte, error)
}
