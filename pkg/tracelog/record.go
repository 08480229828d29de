package tracelog

import (
	"time"

	"github.com/rmacdonaldsmith/pldm-agent-go/pkg/link"
	"github.com/rmacdonaldsmith/pldm-agent-go/pkg/pldm"
	"github.com/rmacdonaldsmith/pldm-agent-go/pkg/transport"
)

// Record is one frame seen by the transport.
type Record struct {
	// Offset is the unique, sequential position of this record in the log
	Offset int64

	// Timestamp is when the frame was observed
	Timestamp time.Time

	Direction  transport.Direction
	Peer       link.EID
	InstanceID pldm.InstanceID

	// Payload is the full PLDM message, header included
	Payload []byte

	Outcome transport.FrameOutcome
}

// NewRecord creates a Record from a transport frame event.
// The payload is copied so the caller may reuse its buffer.
func NewRecord(e transport.FrameEvent) Record {
	payload := make([]byte, len(e.Payload))
	copy(payload, e.Payload)

	return Record{
		Timestamp:  time.Now().UTC(),
		Direction:  e.Direction,
		Peer:       e.Peer,
		InstanceID: e.InstanceID,
		Payload:    payload,
		Outcome:    e.Outcome,
	}
}

// Clone returns a deep copy of r.
func (r Record) Clone() Record {
	c := r
	if r.Payload != nil {
		c.Payload = make([]byte, len(r.Payload))
		copy(c.Payload, r.Payload)
	}
	return c
}
