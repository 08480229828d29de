// Package link defines the byte channel the PLDM transport runs over.
//
// This package defines the core abstractions shared by every link flavour:
//   - EID: MCTP endpoint ID used to address a peer device
//   - Config: parameters passed to Open
//   - Link: open/send/non-blocking receive/close contract
//
// Implementations live under internal/link (in-memory pairs, MCTP serial)
// and internal/bridge (a link carried over gRPC from another host).
//
// The interfaces use Go idioms:
//   - context.Context for the potentially slow Open
//   - Explicit error returns, with ErrNoData signalling an empty poll
//   - io.Closer for resource cleanup
//
// Example usage:
//
//	l := serial.NewLink(serial.Config{Device: "/dev/ttyUSB0", Baud: 115200})
//	err := l.Open(ctx, link.Config{Interface: "/dev/ttyUSB0", LocalEID: 8, Peers: []link.EID{9}})
//	if err != nil {
//		return err
//	}
//	defer l.Close()
//
//	if err := l.Send(9, request); err != nil {
//		return err
//	}
//	for {
//		msg, err := l.Receive()
//		if errors.Is(err, link.ErrNoData) {
//			time.Sleep(10 * time.Millisecond)
//			continue
//		}
//		...
//	}
package link
