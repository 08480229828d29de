package transport

import (
	"context"
	"sync"
	"time"

	"github.com/rmacdonaldsmith/pldm-agent-go/pkg/link"
	"github.com/rmacdonaldsmith/pldm-agent-go/pkg/pldm"
	transportpkg "github.com/rmacdonaldsmith/pldm-agent-go/pkg/transport"
)

// Handle is the single-assignment result slot of one request.
type Handle struct {
	id   pldm.InstanceID
	peer link.EID

	once    sync.Once
	done    chan struct{}
	payload []byte
	err     error
}

func newHandle(id pldm.InstanceID, peer link.EID) *Handle {
	return &Handle{
		id:   id,
		peer: peer,
		done: make(chan struct{}),
	}
}

// InstanceID returns the identifier the request was registered under.
func (h *Handle) InstanceID() pldm.InstanceID {
	return h.id
}

// Peer returns the endpoint the request was addressed to.
func (h *Handle) Peer() link.EID {
	return h.peer
}

// Done is closed once the handle has been resolved.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the handle is resolved or ctx ends.
func (h *Handle) Wait(ctx context.Context) ([]byte, error) {
	select {
	case <-h.done:
		return h.payload, h.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// resolve assigns the result. Only the first call has any effect.
func (h *Handle) resolve(payload []byte, err error) bool {
	resolved := false
	h.once.Do(func() {
		h.payload = payload
		h.err = err
		close(h.done)
		resolved = true
	})
	return resolved
}

var _ transportpkg.Response = (*Handle)(nil)

// pendingRequest is the table entry for one outstanding request.
type pendingRequest struct {
	handle   *Handle
	deadline time.Time
	sentAt   time.Time
}
