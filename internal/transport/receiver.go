package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rmacdonaldsmith/pldm-agent-go/pkg/link"
	"github.com/rmacdonaldsmith/pldm-agent-go/pkg/pldm"
	transportpkg "github.com/rmacdonaldsmith/pldm-agent-go/pkg/transport"
)

// receiveLoop polls the link until ctx is cancelled.
func (t *PLDMTransport) receiveLoop(ctx context.Context) func() error {
	return func() error {
		timer := time.NewTimer(0)
		defer timer.Stop()
		<-timer.C

		for {
			select {
			case <-ctx.Done():
				return nil
			default:
			}

			wait := t.receiveOnce()
			if wait <= 0 {
				continue
			}

			timer.Reset(wait)
			select {
			case <-ctx.Done():
				return nil
			case <-timer.C:
			}
		}
	}
}

// receiveOnce handles at most one message and returns how long to pause
// before the next poll.
func (t *PLDMTransport) receiveOnce() (wait time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("receive loop panic", "panic", fmt.Sprint(r))
			wait = t.config.ErrorBackoff
		}
	}()

	msg, err := t.link.Receive()
	if errors.Is(err, link.ErrNoData) {
		return t.config.PollInterval
	}
	if err != nil {
		t.logger.Error("receive failed", "error", err.Error())
		return t.config.ErrorBackoff
	}

	t.handleFrame(msg)
	return 0
}

// handleFrame correlates one received message with its pending request.
func (t *PLDMTransport) handleFrame(msg []byte) {
	if len(msg) < pldm.MinHeaderSize {
		t.logger.Warn("received message too short", "len", len(msg))
		t.counters.malformed.Add(1)
		t.observeFrame(transportpkg.DirectionRx, 0, msg, transportpkg.FrameShort)
		return
	}

	id := pldm.InstanceIDOf(msg[0])

	if pldm.IsRequestByte(msg[0]) {
		t.logger.Warn("dropping request frame on reply path", "instance_id", uint8(id), "len", len(msg))
		t.counters.malformed.Add(1)
		t.observeFrame(transportpkg.DirectionRx, 0, msg, transportpkg.FrameMalformed)
		return
	}

	entry, ok := t.table.removeIfPresent(id)
	if !ok {
		t.logger.Warn("dropping orphan reply",
			"instance_id", uint8(id),
			"len", len(msg),
			"error", transportpkg.ErrUnknownIdentifier.Error())
		t.counters.orphans.Add(1)
		t.observeFrame(transportpkg.DirectionRx, 0, msg, transportpkg.FrameOrphan)
		return
	}

	payload := make([]byte, len(msg))
	copy(payload, msg)

	t.counters.replies.Add(1)
	t.observeFrame(transportpkg.DirectionRx, entry.handle.peer, msg, transportpkg.FrameMatched)
	t.logger.Debug("reply matched", "instance_id", uint8(id), "peer", uint8(entry.handle.peer), "len", len(msg))
	t.resolve(entry, payload, nil, transportpkg.ResolvedReply)
}
