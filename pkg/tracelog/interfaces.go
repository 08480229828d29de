package tracelog

import (
	"context"
	"io"

	"github.com/rmacdonaldsmith/pldm-agent-go/pkg/transport"
)

// TraceLog is a bounded, append-only record of link traffic.
// Offsets grow monotonically; once capacity is reached the oldest records
// are discarded but offsets are never reused.
type TraceLog interface {
	io.Closer
	transport.FrameObserver

	// Append stores a record and returns it with its assigned offset.
	Append(ctx context.Context, record Record) (Record, error)

	// Read returns up to limit records starting at offset. Records that
	// have already been discarded are skipped.
	Read(ctx context.Context, offset int64, limit int) ([]Record, error)

	// EndOffset returns the offset the next record will get.
	EndOffset() int64

	// Subscribe delivers every record appended after the call. A slow
	// subscriber loses records rather than blocking Append. The returned
	// func unsubscribes and closes the channel.
	Subscribe(buffer int) (<-chan Record, func())

	// Statistics returns aggregate counters.
	Statistics() Statistics
}

// Statistics provides aggregate counters about the trace log
type Statistics struct {
	TotalRecords int64                            // Records ever appended
	Retained     int                              // Records currently held
	Discarded    int64                            // Records pushed out by capacity
	FirstOffset  int64                            // Oldest retained offset
	ByOutcome    map[transport.FrameOutcome]int64 // Records ever appended, per outcome
	Subscribers  int                              // Live subscriptions
	Missed       int64                            // Records subscribers could not take
}
