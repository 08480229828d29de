//go:build linux

package serial

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestTTYPort_WriteTimesOutWhenLineIsStuck(t *testing.T) {
	var fds [2]int
	require.NoError(t, unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC))
	defer unix.Close(fds[0])

	// nobody reads fds[0], so the pipe fills and writes see EAGAIN
	p := &ttyPort{fd: fds[1], writeTimeout: 50 * time.Millisecond}
	defer p.Close()

	start := time.Now()
	_, err := p.Write(bytes.Repeat([]byte{0x7E}, 1<<20))
	assert.ErrorIs(t, err, ErrWriteTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestTTYPort_WriteDrains(t *testing.T) {
	var fds [2]int
	require.NoError(t, unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC))
	defer unix.Close(fds[0])

	p := &ttyPort{fd: fds[1], writeTimeout: time.Second}
	defer p.Close()

	n, err := p.Write([]byte{0x7E, 0x01, 0x7E})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	buf := make([]byte, 8)
	got, err := unix.Read(fds[0], buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x7E, 0x01, 0x7E}, buf[:got])
}
