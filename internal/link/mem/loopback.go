package mem

import (
	"context"
	"fmt"
	"sync"

	"github.com/rmacdonaldsmith/pldm-agent-go/pkg/link"
)

// Loopback is a link.Link whose far end is served by a Responder inside
// the same process. It stands in for hardware when none is attached.
type Loopback struct {
	*Link

	far       *Link
	farEID    link.EID
	responder *Responder

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewLoopback creates a loopback link whose responder answers as farEID.
func NewLoopback(farEID link.EID, opts ...ResponderOption) *Loopback {
	near, far := NewPair(DefaultCapacity)
	return &Loopback{
		Link:      near,
		far:       far,
		farEID:    farEID,
		responder: NewResponder(far, opts...),
	}
}

// Open opens both ends and starts the responder.
func (l *Loopback) Open(ctx context.Context, cfg link.Config) error {
	if err := l.far.Open(ctx, link.Config{Interface: cfg.Interface, LocalEID: l.farEID}); err != nil {
		return fmt.Errorf("failed to open responder end: %w", err)
	}
	if err := l.Link.Open(ctx, cfg); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel == nil {
		rctx, cancel := context.WithCancel(context.Background())
		l.cancel = cancel
		l.responder.Start(rctx)
	}
	return nil
}

// Handled returns how many requests the responder has answered.
func (l *Loopback) Handled() int {
	return l.responder.Handled()
}

// Close stops the responder and closes both ends.
func (l *Loopback) Close() error {
	l.mu.Lock()
	cancel := l.cancel
	l.cancel = nil
	l.mu.Unlock()

	if cancel != nil {
		cancel()
		l.responder.Stop()
	}
	_ = l.far.Close()
	return l.Link.Close()
}

var _ link.Link = (*Loopback)(nil)
