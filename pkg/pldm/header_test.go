package pldm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeader_EncodeLayout(t *testing.T) {
	h := Header{Request: true, InstanceID: 7, Type: 0x02, Command: 0x51}
	b := h.Encode()

	assert.Equal(t, byte(0x87), b[0], "Rq bit plus instance ID in the low five bits")
	assert.Equal(t, byte(0x02), b[1])
	assert.Equal(t, byte(0x51), b[2])
}

func TestDecodeHeader(t *testing.T) {
	tests := []struct {
		name    string
		msg     []byte
		want    Header
		wantErr error
	}{
		{
			name: "request",
			msg:  []byte{0x83, 0x02, 0x11},
			want: Header{Request: true, InstanceID: 3, Type: 2, Command: 0x11},
		},
		{
			name: "reply with completion code",
			msg:  []byte{0x1F, 0x00, 0x02, 0x00, 0xAA},
			want: Header{InstanceID: 31, Type: 0, Command: 0x02},
		},
		{
			name: "datagram",
			msg:  []byte{0xC1, 0x42, 0x0A},
			want: Header{Request: true, Datagram: true, InstanceID: 1, Version: 1, Type: 2, Command: 0x0A},
		},
		{
			name:    "too short",
			msg:     []byte{0x80, 0x00},
			wantErr: ErrShortMessage,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeHeader(tt.msg)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestInstanceIDOf_IgnoresFlagBits(t *testing.T) {
	for id := InstanceID(0); id < InstanceIDCount; id++ {
		assert.Equal(t, id, InstanceIDOf(0xE0|byte(id)))
		assert.Equal(t, id, InstanceIDOf(byte(id)))
	}
}

func TestNewReply_MirrorsRequest(t *testing.T) {
	req := NewRequest(12, 0x02, 0x51, []byte{0x01, 0x02})
	require.True(t, IsRequestByte(req[0]))

	reply, err := NewReply(req, 0x00, []byte{0xFF})
	require.NoError(t, err)

	h, err := DecodeHeader(reply)
	require.NoError(t, err)
	assert.True(t, h.IsReply())
	assert.Equal(t, InstanceID(12), h.InstanceID)
	assert.Equal(t, uint8(0x51), h.Command)

	cc, ok := CompletionCode(reply)
	assert.True(t, ok)
	assert.Equal(t, uint8(0), cc)
	assert.Equal(t, byte(0xFF), reply[len(reply)-1])
}

func TestCompletionCode_MissingOnHeaderOnlyMessage(t *testing.T) {
	_, ok := CompletionCode([]byte{0x01, 0x00, 0x02})
	assert.False(t, ok)
}
