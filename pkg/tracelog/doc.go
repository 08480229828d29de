// Package tracelog defines the traffic trace log: a bounded record of every
// PLDM frame the transport sends or receives, with offsets for paging and
// live subscriptions for monitoring.
//
// A TraceLog is also a transport.FrameObserver, so it can be handed
// straight to the transport:
//
//	var log tracelog.TraceLog = newInMemoryLog()
//	t, err := transport.NewPLDMTransport(l, cfg, transport.WithFrameObserver(log))
//
//	records, err := log.Read(ctx, 0, 100)
//
//	ch, cancel := log.Subscribe(64)
//	defer cancel()
//	for rec := range ch {
//		fmt.Println(rec.Direction, rec.InstanceID, rec.Outcome)
//	}
package tracelog
