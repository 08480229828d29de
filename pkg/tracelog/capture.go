package tracelog

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/rmacdonaldsmith/pldm-agent-go/pkg/link"
	"github.com/rmacdonaldsmith/pldm-agent-go/pkg/pldm"
	"github.com/rmacdonaldsmith/pldm-agent-go/pkg/transport"
)

// CaptureContentType is the media type of an encoded Capture.
const CaptureContentType = "application/cbor"

// Capture is a self-describing slice of the trace log, kept in CBOR so raw
// frames survive without hex encoding.
type Capture struct {
	LocalEID    link.EID        `cbor:"1,keyasint"`
	StartOffset int64           `cbor:"2,keyasint"`
	EndOffset   int64           `cbor:"3,keyasint"`
	Records     []captureRecord `cbor:"4,keyasint"`
}

type captureRecord struct {
	Offset     int64     `cbor:"1,keyasint"`
	Timestamp  time.Time `cbor:"2,keyasint"`
	Direction  string    `cbor:"3,keyasint"`
	Peer       uint8     `cbor:"4,keyasint"`
	InstanceID uint8     `cbor:"5,keyasint"`
	Payload    []byte    `cbor:"6,keyasint"`
	Outcome    string    `cbor:"7,keyasint"`
}

var (
	captureEnc cbor.EncMode
	captureDec cbor.DecMode
)

func init() {
	opts := cbor.CanonicalEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	var err error
	if captureEnc, err = opts.EncMode(); err != nil {
		panic(err)
	}
	if captureDec, err = (cbor.DecOptions{}).DecMode(); err != nil {
		panic(err)
	}
}

// NewCapture builds a Capture from records read out of a trace log.
func NewCapture(localEID link.EID, start, end int64, records []Record) *Capture {
	c := &Capture{
		LocalEID:    localEID,
		StartOffset: start,
		EndOffset:   end,
		Records:     make([]captureRecord, 0, len(records)),
	}
	for _, r := range records {
		c.Records = append(c.Records, captureRecord{
			Offset:     r.Offset,
			Timestamp:  r.Timestamp,
			Direction:  string(r.Direction),
			Peer:       uint8(r.Peer),
			InstanceID: uint8(r.InstanceID),
			Payload:    r.Payload,
			Outcome:    string(r.Outcome),
		})
	}
	return c
}

// Encode returns the canonical CBOR encoding of c.
func (c *Capture) Encode() ([]byte, error) {
	return captureEnc.Marshal(c)
}

// DecodeCapture parses an encoded Capture.
func DecodeCapture(data []byte) (*Capture, error) {
	var c Capture
	if err := captureDec.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode capture: %w", err)
	}
	return &c, nil
}

// TraceRecords returns the captured frames as Records.
func (c *Capture) TraceRecords() []Record {
	out := make([]Record, 0, len(c.Records))
	for _, r := range c.Records {
		out = append(out, Record{
			Offset:     r.Offset,
			Timestamp:  r.Timestamp,
			Direction:  transport.Direction(r.Direction),
			Peer:       link.EID(r.Peer),
			InstanceID: pldm.InstanceID(r.InstanceID),
			Payload:    r.Payload,
			Outcome:    transport.FrameOutcome(r.Outcome),
		})
	}
	return out
}
