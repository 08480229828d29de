package transport

import (
	"context"
	"fmt"
	"time"

	transportpkg "github.com/rmacdonaldsmith/pldm-agent-go/pkg/transport"
)

// timeoutLoop resolves expired requests every SweepInterval until ctx is
// cancelled.
func (t *PLDMTransport) timeoutLoop(ctx context.Context) func() error {
	return func() error {
		ticker := time.NewTicker(t.config.SweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				t.sweepExpired()
			}
		}
	}
}

func (t *PLDMTransport) sweepExpired() {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("timeout loop panic", "panic", fmt.Sprint(r))
		}
	}()

	for _, entry := range t.table.removeExpired(t.now()) {
		t.logger.Warn("request timeout",
			"instance_id", uint8(entry.handle.id),
			"target_eid", uint8(entry.handle.peer))
		t.counters.timeouts.Add(1)
		t.resolve(entry, nil, &transportpkg.RequestError{
			Op:         "wait",
			InstanceID: entry.handle.id,
			Peer:       entry.handle.peer,
			Err:        transportpkg.ErrTimeout,
		}, transportpkg.ResolvedTimeout)
	}
}
