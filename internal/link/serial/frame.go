package serial

import (
	"errors"
	"fmt"

	"github.com/rmacdonaldsmith/pldm-agent-go/pkg/link"
)

const (
	frameFlag   byte = 0x7E
	escapeFlag  byte = 0x7D
	escapeXOR   byte = 0x20
	serialRev   byte = 0x01
	headerRev   byte = 0x01
	headerSize       = 4
	maxBodySize      = 0xFF

	flagSOM      byte = 0x80
	flagEOM      byte = 0x40
	flagTagOwner byte = 0x08
	seqShift          = 4
	seqMask      byte = 0x03
	tagMask      byte = 0x07

	// MessageTypePLDM is the MCTP message type carrying PLDM.
	MessageTypePLDM byte = 0x01
)

var (
	// ErrBadFCS is recorded when a frame fails its check sequence
	ErrBadFCS = errors.New("serial: frame check sequence mismatch")
	// ErrBadFrame is recorded when a frame violates the serial framing
	ErrBadFrame = errors.New("serial: malformed frame")
)

// packet is one MCTP transport unit: a header plus a slice of message.
type packet struct {
	dest     link.EID
	src      link.EID
	som      bool
	eom      bool
	seq      uint8
	tagOwner bool
	tag      uint8
	payload  []byte
}

func (p packet) flags() byte {
	f := (p.seq&seqMask)<<seqShift | p.tag&tagMask
	if p.som {
		f |= flagSOM
	}
	if p.eom {
		f |= flagEOM
	}
	if p.tagOwner {
		f |= flagTagOwner
	}
	return f
}

// encodeFrame wraps p in a serial frame. Only the body is escaped; the
// check sequence and closing flag go out verbatim.
func encodeFrame(p packet) ([]byte, error) {
	bodyLen := headerSize + len(p.payload)
	if bodyLen > maxBodySize {
		return nil, fmt.Errorf("%w: body of %d bytes exceeds %d", ErrBadFrame, bodyLen, maxBodySize)
	}

	body := make([]byte, 0, bodyLen)
	body = append(body, headerRev, byte(p.dest), byte(p.src), p.flags())
	body = append(body, p.payload...)

	fcs := updateFCS(initFCS, serialRev, byte(bodyLen))
	fcs = updateFCS(fcs, body...)

	out := make([]byte, 0, 2*bodyLen+6)
	out = append(out, frameFlag, serialRev, byte(bodyLen))
	for _, b := range body {
		if b == frameFlag || b == escapeFlag {
			out = append(out, escapeFlag, b^escapeXOR)
			continue
		}
		out = append(out, b)
	}
	out = append(out, byte(fcs>>8), byte(fcs), frameFlag)
	return out, nil
}

type decodeState int

const (
	stateIdle decodeState = iota
	stateRev
	stateCount
	stateBody
	stateFCSHigh
	stateFCSLow
	stateEnd
)

// decoder turns a serial byte stream into packets. It resynchronises on
// the next flag after any framing error.
type decoder struct {
	state   decodeState
	escaped bool
	count   int
	body    []byte
	fcs     uint16

	// errs counts dropped frames by cause.
	errs map[error]int
}

func newDecoder() *decoder {
	return &decoder{errs: make(map[error]int)}
}

// feed consumes data and returns every packet completed by it.
func (d *decoder) feed(data []byte) []packet {
	var out []packet
	for _, b := range data {
		if p, ok := d.step(b); ok {
			out = append(out, p)
		}
	}
	return out
}

func (d *decoder) step(b byte) (packet, bool) {
	switch d.state {
	case stateIdle:
		if b == frameFlag {
			d.state = stateRev
		}

	case stateRev:
		switch b {
		case frameFlag:
			// Back-to-back flags: the previous one closed an earlier frame.
		case serialRev:
			d.state = stateCount
		default:
			d.fail(ErrBadFrame)
		}

	case stateCount:
		if int(b) < headerSize {
			d.fail(ErrBadFrame)
			return packet{}, false
		}
		d.count = int(b)
		d.body = make([]byte, 0, d.count)
		d.escaped = false
		d.state = stateBody

	case stateBody:
		switch {
		case b == frameFlag:
			d.fail(ErrBadFrame)
			d.state = stateRev
			return packet{}, false
		case d.escaped:
			d.body = append(d.body, b^escapeXOR)
			d.escaped = false
		case b == escapeFlag:
			d.escaped = true
			return packet{}, false
		default:
			d.body = append(d.body, b)
		}
		if len(d.body) == d.count {
			d.state = stateFCSHigh
		}

	case stateFCSHigh:
		d.fcs = uint16(b) << 8
		d.state = stateFCSLow

	case stateFCSLow:
		d.fcs |= uint16(b)
		d.state = stateEnd

	case stateEnd:
		if b != frameFlag {
			d.fail(ErrBadFrame)
			return packet{}, false
		}
		// The closing flag may open the next frame.
		d.state = stateRev

		want := updateFCS(initFCS, serialRev, byte(d.count))
		want = updateFCS(want, d.body...)
		if want != d.fcs {
			d.errs[ErrBadFCS]++
			return packet{}, false
		}
		if d.body[0] != headerRev {
			d.errs[ErrBadFrame]++
			return packet{}, false
		}
		return parseBody(d.body), true
	}
	return packet{}, false
}

func (d *decoder) fail(err error) {
	d.errs[err]++
	d.state = stateIdle
	d.escaped = false
	d.body = nil
}

func parseBody(body []byte) packet {
	flags := body[3]
	payload := make([]byte, len(body)-headerSize)
	copy(payload, body[headerSize:])
	return packet{
		dest:     link.EID(body[1]),
		src:      link.EID(body[2]),
		som:      flags&flagSOM != 0,
		eom:      flags&flagEOM != 0,
		seq:      flags >> seqShift & seqMask,
		tagOwner: flags&flagTagOwner != 0,
		tag:      flags & tagMask,
		payload:  payload,
	}
}
