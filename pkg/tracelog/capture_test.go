package tracelog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/pldm-agent-go/pkg/transport"
)

func TestCapture_KeepsRawFrames(t *testing.T) {
	ts := time.Date(2026, 3, 4, 5, 6, 7, 890, time.UTC)
	records := []Record{
		{Offset: 10, Timestamp: ts, Direction: transport.DirectionTx, Peer: 9, InstanceID: 3, Payload: []byte{0x83, 0x00, 0x02}, Outcome: transport.FrameSent},
		{Offset: 11, Timestamp: ts.Add(time.Millisecond), Direction: transport.DirectionRx, Peer: 9, InstanceID: 3, Payload: []byte{0x03, 0x00, 0x02, 0x00, 0x7e, 0x7d}, Outcome: transport.FrameMatched},
	}

	data, err := NewCapture(8, 10, 12, records).Encode()
	require.NoError(t, err)

	c, err := DecodeCapture(data)
	require.NoError(t, err)
	assert.EqualValues(t, 8, c.LocalEID)
	assert.Equal(t, int64(10), c.StartOffset)
	assert.Equal(t, int64(12), c.EndOffset)

	got := c.TraceRecords()
	require.Len(t, got, 2)
	for i := range records {
		assert.Equal(t, records[i].Payload, got[i].Payload)
		assert.Equal(t, records[i].Direction, got[i].Direction)
		assert.Equal(t, records[i].Outcome, got[i].Outcome)
		assert.True(t, records[i].Timestamp.Equal(got[i].Timestamp), "timestamp %d", i)
	}
}

func TestCapture_EncodingIsDeterministic(t *testing.T) {
	records := []Record{{Offset: 1, Timestamp: time.Unix(0, 0).UTC(), Direction: transport.DirectionTx, Payload: []byte{0x80}}}

	a, err := NewCapture(8, 1, 2, records).Encode()
	require.NoError(t, err)
	b, err := NewCapture(8, 1, 2, records).Encode()
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestDecodeCapture_RejectsGarbage(t *testing.T) {
	_, err := DecodeCapture([]byte{0xff, 0x00})
	assert.Error(t, err)
}
