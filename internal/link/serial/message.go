package serial

import (
	"github.com/rmacdonaldsmith/pldm-agent-go/pkg/link"
)

// fragment splits one PLDM message into packets of at most mtu payload
// bytes. The message type byte travels at the front of the first packet.
func fragment(msg []byte, dest, src link.EID, tag uint8, mtu int) []packet {
	data := make([]byte, 0, len(msg)+1)
	data = append(data, MessageTypePLDM)
	data = append(data, msg...)

	var packets []packet
	for seq := uint8(0); len(data) > 0; seq++ {
		n := min(mtu, len(data))
		packets = append(packets, packet{
			dest:     dest,
			src:      src,
			som:      len(packets) == 0,
			eom:      n == len(data),
			seq:      seq & seqMask,
			tagOwner: true,
			tag:      tag & tagMask,
			payload:  data[:n],
		})
		data = data[n:]
	}
	return packets
}

type assembly struct {
	tag     uint8
	nextSeq uint8
	data    []byte
}

// reassembler rebuilds messages from packets, one in-progress message per
// source endpoint.
type reassembler struct {
	maxSize  int
	inFlight map[link.EID]*assembly

	dropped int
}

func newReassembler(maxSize int) *reassembler {
	return &reassembler{
		maxSize:  maxSize,
		inFlight: make(map[link.EID]*assembly),
	}
}

// add consumes p and returns the completed message with its type byte
// stripped, if p finished one. Non-PLDM messages are dropped.
func (r *reassembler) add(p packet) (link.EID, []byte, bool) {
	a := r.inFlight[p.src]

	switch {
	case p.som:
		if a != nil {
			// A new start abandons whatever was in progress.
			r.dropped++
		}
		a = &assembly{tag: p.tag}
		r.inFlight[p.src] = a
	case a == nil:
		r.dropped++
		return 0, nil, false
	case p.tag != a.tag || p.seq != a.nextSeq:
		delete(r.inFlight, p.src)
		r.dropped++
		return 0, nil, false
	}

	a.data = append(a.data, p.payload...)
	a.nextSeq = (p.seq + 1) & seqMask
	if len(a.data) > r.maxSize {
		delete(r.inFlight, p.src)
		r.dropped++
		return 0, nil, false
	}
	if !p.eom {
		return 0, nil, false
	}

	delete(r.inFlight, p.src)
	if len(a.data) == 0 || a.data[0] != MessageTypePLDM {
		r.dropped++
		return 0, nil, false
	}
	return p.src, a.data[1:], true
}
