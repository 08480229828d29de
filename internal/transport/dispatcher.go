package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/rmacdonaldsmith/pldm-agent-go/pkg/link"
	"github.com/rmacdonaldsmith/pldm-agent-go/pkg/pldm"
	transportpkg "github.com/rmacdonaldsmith/pldm-agent-go/pkg/transport"
)

// SendAsync registers request under the instance ID in its header and then
// hands it to the link. A non-positive timeout selects the configured
// default.
//
// Requests are rejected without touching the table or the link when the
// transport is not running or request is empty. When the link rejects the
// bytes the request is unregistered and the send error is returned.
func (t *PLDMTransport) SendAsync(ctx context.Context, peer link.EID, request []byte, timeout time.Duration) (transportpkg.Response, error) {
	h, err := t.dispatch(ctx, peer, request, timeout)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// SendAndWait sends request and blocks until it is resolved or ctx ends.
func (t *PLDMTransport) SendAndWait(ctx context.Context, peer link.EID, request []byte, timeout time.Duration) ([]byte, error) {
	h, err := t.dispatch(ctx, peer, request, timeout)
	if err != nil {
		return nil, err
	}
	return h.Wait(ctx)
}

func (t *PLDMTransport) dispatch(ctx context.Context, peer link.EID, request []byte, timeout time.Duration) (*Handle, error) {
	// The read lock spans registration and send so Close cannot drain the
	// table between the two.
	t.mu.RLock()
	defer t.mu.RUnlock()

	switch t.state {
	case transportpkg.StateUninitialized:
		return nil, &transportpkg.RequestError{Op: "send", Peer: peer, Err: transportpkg.ErrNotRunning}
	case transportpkg.StateStopped:
		return nil, &transportpkg.RequestError{Op: "send", Peer: peer, Err: transportpkg.ErrTransportClosing}
	}

	if len(request) == 0 {
		return nil, &transportpkg.RequestError{
			Op:   "send",
			Peer: peer,
			Err:  fmt.Errorf("%w: empty request message", transportpkg.ErrInvalidArgument),
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = t.config.DefaultTimeout
	}

	id := pldm.InstanceIDOf(request[0])
	now := t.now()
	entry := &pendingRequest{
		handle:   newHandle(id, peer),
		deadline: now.Add(timeout),
		sentAt:   now,
	}

	// Register before sending: a reply may arrive before Send returns.
	if displaced := t.table.insert(id, entry); displaced != nil {
		t.logger.Warn("instance id collision, superseding outstanding request",
			"instance_id", uint8(id),
			"old_peer", uint8(displaced.handle.peer),
			"new_peer", uint8(peer))
		t.counters.superseded.Add(1)
		t.resolve(displaced, nil, &transportpkg.RequestError{
			Op:         "wait",
			InstanceID: id,
			Peer:       displaced.handle.peer,
			Err:        transportpkg.ErrSuperseded,
		}, transportpkg.ResolvedSuperseded)
	}
	if t.requests != nil {
		t.requests.RequestSent(peer, id)
	}

	if err := t.link.Send(peer, request); err != nil {
		t.logger.Error("send failed", "instance_id", uint8(id), "peer", uint8(peer), "error", err.Error())
		t.counters.sendFailures.Add(1)
		t.observeFrame(transportpkg.DirectionTx, peer, request, transportpkg.FrameSendFailed)

		reqErr := &transportpkg.RequestError{
			Op:         "send",
			InstanceID: id,
			Peer:       peer,
			Err:        fmt.Errorf("%w: %w", transportpkg.ErrSendFailure, err),
		}
		if t.table.removeOwned(id, entry) {
			t.resolve(entry, nil, reqErr, transportpkg.ResolvedSendFailure)
		}
		return nil, reqErr
	}

	t.counters.sent.Add(1)
	t.observeFrame(transportpkg.DirectionTx, peer, request, transportpkg.FrameSent)
	t.logger.Debug("request sent", "instance_id", uint8(id), "peer", uint8(peer), "len", len(request))
	return entry.handle, nil
}
