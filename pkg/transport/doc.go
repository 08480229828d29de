// Package transport provides the interfaces of the agent's PLDM request
// transport.
//
// This package defines the core abstractions for the transport component:
//   - Transport: registers requests, hands them to the link and resolves them
//   - Response: the awaitable side of one outstanding request
//   - State: Uninitialized, Running, Stopped
//   - FrameObserver / RequestObserver: diagnostic hooks
//
// Every request is registered under the instance ID carried in its header
// before it is handed to the link, so a reply that arrives immediately
// always finds its waiter. Each registered request is resolved exactly
// once, by whichever of these happens first:
//   - a reply with the same instance ID arrives (success)
//   - its deadline passes (ErrTimeout)
//   - the link rejects the bytes (ErrSendFailure)
//   - a newer request reuses the instance ID (ErrSuperseded)
//   - the transport is closed (ErrTransportClosing)
//
// Example usage:
//
//	t := transport.NewPLDMTransport(l, cfg, logger)
//	if err := t.Initialize(ctx); err != nil {
//		return err
//	}
//	defer t.Close()
//
//	req := pldm.NewRequest(t.NextInstanceID(), 0x02, 0x11, data)
//	reply, err := t.SendAndWait(ctx, 9, req, time.Second)
//	if errors.Is(err, transport.ErrTimeout) {
//		...
//	}
package transport
