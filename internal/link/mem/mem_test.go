package mem

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/pldm-agent-go/pkg/link"
	"github.com/rmacdonaldsmith/pldm-agent-go/pkg/pldm"
)

func openPair(t *testing.T) (*Link, *Link) {
	t.Helper()
	a, b := NewPair(4)
	require.NoError(t, a.Open(context.Background(), link.Config{Interface: "mem", LocalEID: 8}))
	require.NoError(t, b.Open(context.Background(), link.Config{Interface: "mem", LocalEID: 9}))
	return a, b
}

func TestPair_DeliversInOrder(t *testing.T) {
	a, b := openPair(t)

	require.NoError(t, a.Send(9, []byte{1}))
	require.NoError(t, a.Send(9, []byte{2}))

	from, msg, err := b.ReceiveFrom()
	require.NoError(t, err)
	assert.Equal(t, link.EID(8), from)
	assert.Equal(t, []byte{1}, msg)

	msg, err = b.Receive()
	require.NoError(t, err)
	assert.Equal(t, []byte{2}, msg)

	_, err = b.Receive()
	assert.ErrorIs(t, err, link.ErrNoData)

	assert.Equal(t, int64(2), a.SentCount())
	assert.Equal(t, int64(2), b.ReceivedCount())
}

func TestPair_SendCopiesMessage(t *testing.T) {
	a, b := openPair(t)

	msg := []byte{0x80, 0x00, 0x01}
	require.NoError(t, a.Send(9, msg))
	msg[0] = 0xFF

	got, err := b.Receive()
	require.NoError(t, err)
	assert.Equal(t, byte(0x80), got[0])
}

func TestPair_Errors(t *testing.T) {
	t.Run("not_open", func(t *testing.T) {
		a, _ := NewPair(1)
		assert.ErrorIs(t, a.Send(1, []byte{1}), link.ErrNotOpen)
		_, err := a.Receive()
		assert.ErrorIs(t, err, link.ErrNotOpen)
	})

	t.Run("queue_full", func(t *testing.T) {
		a, b := NewPair(1)
		require.NoError(t, a.Open(context.Background(), link.Config{}))
		require.NoError(t, b.Open(context.Background(), link.Config{}))
		require.NoError(t, a.Send(1, []byte{1}))
		assert.ErrorIs(t, a.Send(1, []byte{2}), ErrQueueFull)
	})

	t.Run("injected_send_error", func(t *testing.T) {
		a, _ := openPair(t)
		boom := errors.New("boom")
		a.SetSendError(boom)
		assert.ErrorIs(t, a.Send(9, []byte{1}), boom)
		assert.Equal(t, int64(0), a.SentCount())

		a.SetSendError(nil)
		assert.NoError(t, a.Send(9, []byte{1}))
	})

	t.Run("injected_open_error", func(t *testing.T) {
		a, _ := NewPair(1)
		boom := errors.New("no device")
		a.SetOpenError(boom)
		assert.ErrorIs(t, a.Open(context.Background(), link.Config{}), boom)
	})

	t.Run("closed", func(t *testing.T) {
		a, b := openPair(t)
		require.NoError(t, b.Close())
		assert.ErrorIs(t, a.Send(9, []byte{1}), link.ErrClosed)
		_, err := b.Receive()
		assert.ErrorIs(t, err, link.ErrClosed)
		assert.True(t, b.IsClosed())
	})
}

func TestResponder_EchoesRequests(t *testing.T) {
	a, b := openPair(t)
	r := NewResponder(b)
	r.Start(context.Background())
	defer r.Stop()

	req := pldm.NewRequest(5, 0x02, 0x11, []byte{0xAA, 0xBB})
	require.NoError(t, a.Send(9, req))

	var reply []byte
	require.Eventually(t, func() bool {
		msg, err := a.Receive()
		if err != nil {
			return false
		}
		reply = msg
		return true
	}, time.Second, time.Millisecond)

	assert.Equal(t, pldm.InstanceID(5), pldm.InstanceIDOf(reply[0]))
	assert.False(t, pldm.IsRequestByte(reply[0]))
	cc, ok := pldm.CompletionCode(reply)
	require.True(t, ok)
	assert.Equal(t, uint8(0), cc)
	assert.Equal(t, []byte{0xAA, 0xBB}, reply[pldm.MinHeaderSize+1:])
	assert.Equal(t, 1, r.Handled())
}

func TestResponder_DropHandler(t *testing.T) {
	a, b := openPair(t)
	r := NewResponder(b, WithHandler(func(link.EID, []byte) ([]byte, bool) {
		return nil, false
	}))
	r.Start(context.Background())

	require.NoError(t, a.Send(9, pldm.NewRequest(1, 0, 1, nil)))
	require.Eventually(t, func() bool { return b.Queued() == 0 }, time.Second, time.Millisecond)
	r.Stop()

	_, err := a.Receive()
	assert.ErrorIs(t, err, link.ErrNoData)
	assert.Equal(t, 0, r.Handled())
}

func TestResponder_IgnoresReplies(t *testing.T) {
	a, b := openPair(t)
	r := NewResponder(b)
	r.Start(context.Background())

	reply, err := pldm.NewReply(pldm.NewRequest(1, 0, 1, nil), 0, nil)
	require.NoError(t, err)
	require.NoError(t, a.Send(9, reply))
	require.Eventually(t, func() bool { return b.Queued() == 0 }, time.Second, time.Millisecond)
	r.Stop()

	assert.Equal(t, 0, r.Handled())
}

func TestLoopback_AnswersAsFarEndpoint(t *testing.T) {
	l := NewLoopback(20)
	require.NoError(t, l.Open(context.Background(), link.Config{Interface: "loopback", LocalEID: 8}))
	defer l.Close()

	require.NoError(t, l.Send(20, pldm.NewRequest(4, 0, 2, []byte{0xAA})))

	var reply []byte
	require.Eventually(t, func() bool {
		msg, err := l.Receive()
		if err != nil {
			return false
		}
		reply = msg
		return true
	}, time.Second, time.Millisecond)

	assert.Equal(t, pldm.InstanceID(4), pldm.InstanceIDOf(reply[0]))
	assert.False(t, pldm.IsRequestByte(reply[0]))
	assert.Equal(t, 1, l.Handled())
}

func TestLoopback_CloseStopsResponder(t *testing.T) {
	l := NewLoopback(20)
	require.NoError(t, l.Open(context.Background(), link.Config{LocalEID: 8}))
	require.NoError(t, l.Close())

	assert.True(t, l.IsClosed())
	assert.ErrorIs(t, l.Send(20, pldm.NewRequest(1, 0, 1, nil)), link.ErrClosed)
	assert.NoError(t, l.Close())
}
