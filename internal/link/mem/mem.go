// Package mem provides an in-process link pair. Each end implements
// link.Link; whatever one end sends the other end receives. It backs the
// loopback agent mode and the transport tests.
package mem

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rmacdonaldsmith/pldm-agent-go/pkg/link"
)

// DefaultCapacity is the number of undelivered messages an end can queue.
const DefaultCapacity = 256

// ErrQueueFull is returned by Send when the receiving end's queue is full.
var ErrQueueFull = errors.New("mem: receive queue full")

type packet struct {
	from link.EID
	msg  []byte
}

// Link is one end of an in-process link pair.
type Link struct {
	name  string
	inbox chan packet
	peer  *Link

	mu      sync.RWMutex
	opened  bool
	closed  bool
	local   link.EID
	sendErr error
	openErr error

	sent     atomic.Int64
	received atomic.Int64
}

// NewPair returns two connected ends. capacity bounds each end's queue; a
// non-positive value selects DefaultCapacity.
func NewPair(capacity int) (*Link, *Link) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	a := &Link{name: "mem-a", inbox: make(chan packet, capacity)}
	b := &Link{name: "mem-b", inbox: make(chan packet, capacity)}
	a.peer = b
	b.peer = a
	return a, b
}

// Open marks the end ready. cfg.LocalEID becomes the source address of
// everything this end sends.
func (l *Link) Open(ctx context.Context, cfg link.Config) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return link.ErrClosed
	}
	if l.openErr != nil {
		return l.openErr
	}
	l.local = cfg.LocalEID
	l.opened = true
	return nil
}

// Send queues msg on the other end.
func (l *Link) Send(peer link.EID, msg []byte) error {
	l.mu.RLock()
	opened, closed, sendErr, local := l.opened, l.closed, l.sendErr, l.local
	l.mu.RUnlock()

	switch {
	case closed:
		return link.ErrClosed
	case !opened:
		return link.ErrNotOpen
	case sendErr != nil:
		return sendErr
	}

	if l.peer.isClosed() {
		return fmt.Errorf("%s: peer end closed: %w", l.name, link.ErrClosed)
	}

	buf := make([]byte, len(msg))
	copy(buf, msg)

	select {
	case l.peer.inbox <- packet{from: local, msg: buf}:
		l.sent.Add(1)
		return nil
	default:
		return ErrQueueFull
	}
}

// Receive returns the next queued message or link.ErrNoData.
func (l *Link) Receive() ([]byte, error) {
	_, msg, err := l.ReceiveFrom()
	return msg, err
}

// ReceiveFrom is Receive that also reports the sender's endpoint ID.
func (l *Link) ReceiveFrom() (link.EID, []byte, error) {
	l.mu.RLock()
	opened, closed := l.opened, l.closed
	l.mu.RUnlock()

	if closed {
		return 0, nil, link.ErrClosed
	}
	if !opened {
		return 0, nil, link.ErrNotOpen
	}

	select {
	case p := <-l.inbox:
		l.received.Add(1)
		return p.from, p.msg, nil
	default:
		return 0, nil, link.ErrNoData
	}
}

// Close closes this end. Messages still queued are discarded.
func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

// SetSendError makes every later Send fail with err. A nil err restores
// normal delivery.
func (l *Link) SetSendError(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sendErr = err
}

// SetOpenError makes every later Open fail with err.
func (l *Link) SetOpenError(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.openErr = err
}

// SentCount returns how many messages this end has delivered.
func (l *Link) SentCount() int64 {
	return l.sent.Load()
}

// ReceivedCount returns how many messages this end has handed out.
func (l *Link) ReceivedCount() int64 {
	return l.received.Load()
}

// Queued returns how many messages are waiting on this end.
func (l *Link) Queued() int {
	return len(l.inbox)
}

// IsClosed reports whether Close has been called.
func (l *Link) IsClosed() bool {
	return l.isClosed()
}

func (l *Link) isClosed() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.closed
}

var _ link.Link = (*Link)(nil)
