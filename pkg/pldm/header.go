package pldm

import (
	"errors"
	"fmt"
)

// MinHeaderSize is the size of the PLDM message header that precedes every
// request and reply payload.
const MinHeaderSize = 3

// InstanceIDCount is the number of distinct instance IDs the 5-bit header
// field can carry.
const InstanceIDCount = 32

const (
	requestBit    byte = 0x80
	datagramBit   byte = 0x40
	instanceMask  byte = 0x1F
	typeMask      byte = 0x3F
	versionShift       = 6
	headerVersion byte = 0x00
)

// ErrShortMessage is returned when a message is too short to hold a header.
var ErrShortMessage = errors.New("pldm: message shorter than header")

// InstanceID correlates a reply with its request. Valid values are 0..31.
type InstanceID uint8

// Valid reports whether the ID fits the 5-bit header field.
func (id InstanceID) Valid() bool {
	return id < InstanceIDCount
}

// Header is the decoded three byte PLDM message header.
//
//	byte 0: Rq(7) | D(6) | reserved(5) | instance ID(4..0)
//	byte 1: header version(7..6) | PLDM type(5..0)
//	byte 2: command code
type Header struct {
	Request    bool
	Datagram   bool
	InstanceID InstanceID
	Version    uint8
	Type       uint8
	Command    uint8
}

// Encode writes the header into its three byte wire form.
func (h Header) Encode() [MinHeaderSize]byte {
	var b [MinHeaderSize]byte
	b[0] = byte(h.InstanceID) & instanceMask
	if h.Request {
		b[0] |= requestBit
	}
	if h.Datagram {
		b[0] |= datagramBit
	}
	b[1] = (h.Version << versionShift) | (h.Type & typeMask)
	b[2] = h.Command
	return b
}

// IsReply reports whether the header describes a response message.
func (h Header) IsReply() bool {
	return !h.Request && !h.Datagram
}

func (h Header) String() string {
	kind := "reply"
	if h.Request {
		kind = "request"
	}
	return fmt.Sprintf("%s iid=%d type=0x%02x cmd=0x%02x", kind, h.InstanceID, h.Type, h.Command)
}

// DecodeHeader parses the header at the front of msg.
func DecodeHeader(msg []byte) (Header, error) {
	if len(msg) < MinHeaderSize {
		return Header{}, ErrShortMessage
	}
	return Header{
		Request:    msg[0]&requestBit != 0,
		Datagram:   msg[0]&datagramBit != 0,
		InstanceID: InstanceIDOf(msg[0]),
		Version:    msg[1] >> versionShift,
		Type:       msg[1] & typeMask,
		Command:    msg[2],
	}, nil
}

// InstanceIDOf extracts the instance ID from the first header byte.
func InstanceIDOf(b byte) InstanceID {
	return InstanceID(b & instanceMask)
}

// IsRequestByte reports whether the Rq bit is set in the first header byte.
func IsRequestByte(b byte) bool {
	return b&requestBit != 0
}

// NewRequest builds a request message: header followed by data.
func NewRequest(id InstanceID, pldmType, command uint8, data []byte) []byte {
	h := Header{
		Request:    true,
		InstanceID: id,
		Version:    headerVersion,
		Type:       pldmType,
		Command:    command,
	}.Encode()
	msg := make([]byte, 0, MinHeaderSize+len(data))
	msg = append(msg, h[:]...)
	return append(msg, data...)
}

// NewReply builds the reply to request carrying a completion code and data.
func NewReply(request []byte, completionCode uint8, data []byte) ([]byte, error) {
	h, err := DecodeHeader(request)
	if err != nil {
		return nil, err
	}
	h.Request = false
	h.Datagram = false
	enc := h.Encode()
	msg := make([]byte, 0, MinHeaderSize+1+len(data))
	msg = append(msg, enc[:]...)
	msg = append(msg, completionCode)
	return append(msg, data...), nil
}

// CompletionCode returns the completion code of a reply, if present.
func CompletionCode(reply []byte) (uint8, bool) {
	if len(reply) <= MinHeaderSize {
		return 0, false
	}
	return reply[MinHeaderSize], true
}
