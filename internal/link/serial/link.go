// Package serial implements link.Link over an MCTP serial line: HDLC-like
// byte stuffing with a 16-bit frame check sequence, carrying MCTP packets
// that are fragmented and reassembled by start/end-of-message flags.
package serial

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rmacdonaldsmith/pldm-agent-go/internal/logging"
	"github.com/rmacdonaldsmith/pldm-agent-go/pkg/link"
)

const (
	// DefaultBaud is the line rate used when none is configured.
	DefaultBaud = 115200
	// DefaultMTU is the MCTP baseline transmission unit.
	DefaultMTU = 64
	// MaxMTU keeps the packet body within the one-byte count field.
	MaxMTU = maxBodySize - headerSize
	// MaxMessageSize bounds a reassembled message.
	MaxMessageSize = 4096
	// DefaultWriteTimeout bounds one frame write to the tty.
	DefaultWriteTimeout = 2 * time.Second

	readChunk    = 512
	readsPerPoll = 8
	// maxQueued bounds decoded messages waiting for Receive; the oldest
	// is dropped past it.
	maxQueued = 64
)

var (
	// ErrUnsupportedBaud is returned for line rates the tty layer cannot set
	ErrUnsupportedBaud = errors.New("serial: unsupported baud rate")
	// ErrUnsupportedPlatform is returned where raw tty access is unavailable
	ErrUnsupportedPlatform = errors.New("serial: platform not supported")
	// ErrEmptyDevice is returned when no device path is known at Open
	ErrEmptyDevice = errors.New("serial: device path cannot be empty")
	// ErrInvalidMTU is returned for an MTU outside 1..MaxMTU
	ErrInvalidMTU = errors.New("serial: invalid mtu")
	// ErrWriteTimeout is returned when the tty does not accept a frame in time
	ErrWriteTimeout = errors.New("serial: write timed out")
)

// Config holds serial line settings.
type Config struct {
	// Device is the tty path. When empty, the Interface passed to Open is used.
	Device string
	Baud   int
	MTU    int
}

// SetDefaults fills in unset fields.
func (c *Config) SetDefaults() {
	if c.Baud <= 0 {
		c.Baud = DefaultBaud
	}
	if c.MTU <= 0 {
		c.MTU = DefaultMTU
	}
}

// Validate checks the settings that do not depend on the platform.
func (c *Config) Validate() error {
	if c.MTU < 1 || c.MTU > MaxMTU {
		return fmt.Errorf("%w: %d", ErrInvalidMTU, c.MTU)
	}
	return nil
}

// PortOpener opens the byte stream under the link. Reads must not block:
// they return 0, nil when nothing is buffered.
type PortOpener func(device string, baud int) (io.ReadWriteCloser, error)

// Option customises a Link.
type Option func(*Link)

// WithPortOpener replaces the tty opener, e.g. with an in-memory stream.
func WithPortOpener(open PortOpener) Option {
	return func(l *Link) {
		l.openPort = open
	}
}

// WithLogger sets the link's logger.
func WithLogger(logger *logging.Logger) Option {
	return func(l *Link) {
		l.logger = logging.OrNop(logger).WithComponent("serial")
	}
}

// Stats counts traffic and drops on the line.
type Stats struct {
	FramesSent      uint64
	FramesReceived  uint64
	FCSErrors       int
	FramingErrors   int
	DroppedPackets  int
	QueueOverflows  uint64
	ForeignPackets  uint64
	MessagesDecoded uint64
}

// Link is an MCTP serial link.
type Link struct {
	config   Config
	openPort PortOpener
	logger   *logging.Logger

	mu     sync.RWMutex
	port   io.ReadWriteCloser
	local  link.EID
	device string
	closed bool

	writeMu sync.Mutex
	tag     uint8

	readMu sync.Mutex
	dec    *decoder
	asm    *reassembler
	queue      [][]byte
	queueLimit int
	buf        []byte
	stats      Stats
}

// NewLink creates a serial link. The port is opened by Open.
func NewLink(config Config, opts ...Option) *Link {
	config.SetDefaults()
	l := &Link{
		config:   config,
		openPort: openTTY,
		logger:   logging.NopLogger(),
		dec:      newDecoder(),
		asm:      newReassembler(MaxMessageSize),
		buf:      make([]byte, readChunk),

		queueLimit: maxQueued,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Open opens the tty and records the local endpoint ID.
func (l *Link) Open(ctx context.Context, cfg link.Config) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := l.config.Validate(); err != nil {
		return err
	}

	device := l.config.Device
	if device == "" {
		device = cfg.Interface
	}
	if device == "" {
		return ErrEmptyDevice
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return link.ErrClosed
	}
	if l.port != nil {
		return nil
	}

	port, err := l.openPort(device, l.config.Baud)
	if err != nil {
		return err
	}
	l.port = port
	l.local = cfg.LocalEID
	l.device = device

	l.logger.Info("serial link opened",
		"device", device,
		"baud", l.config.Baud,
		"mtu", l.config.MTU,
		"local_eid", uint8(cfg.LocalEID))
	return nil
}

func (l *Link) currentPort() (io.ReadWriteCloser, link.EID, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return nil, 0, link.ErrClosed
	}
	if l.port == nil {
		return nil, 0, link.ErrNotOpen
	}
	return l.port, l.local, nil
}

// Send fragments msg into MCTP packets and writes them as serial frames.
func (l *Link) Send(peer link.EID, msg []byte) error {
	port, local, err := l.currentPort()
	if err != nil {
		return err
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	tag := l.tag
	l.tag = (l.tag + 1) & tagMask

	for _, p := range fragment(msg, peer, local, tag, l.config.MTU) {
		frame, err := encodeFrame(p)
		if err != nil {
			return err
		}
		if _, err := port.Write(frame); err != nil {
			return fmt.Errorf("failed to write frame to %s: %w", l.device, err)
		}
		l.readMu.Lock()
		l.stats.FramesSent++
		l.readMu.Unlock()
	}
	return nil
}

// Receive returns the next reassembled PLDM message addressed to this
// endpoint, or link.ErrNoData. There is no reader goroutine: each call
// drains at most readsPerPoll chunks of the tty into the decoder, so the
// caller's poll loop drives reading.
func (l *Link) Receive() ([]byte, error) {
	port, local, err := l.currentPort()
	if err != nil {
		return nil, err
	}

	l.readMu.Lock()
	defer l.readMu.Unlock()

	if msg, ok := l.dequeue(); ok {
		return msg, nil
	}

	for i := 0; i < readsPerPoll; i++ {
		n, err := port.Read(l.buf)
		if err != nil {
			return nil, fmt.Errorf("failed to read from %s: %w", l.device, err)
		}
		if n == 0 {
			break
		}
		l.ingest(l.buf[:n], local)
		if len(l.queue) > 0 {
			break
		}
	}

	if msg, ok := l.dequeue(); ok {
		return msg, nil
	}
	return nil, link.ErrNoData
}

func (l *Link) ingest(data []byte, local link.EID) {
	for _, p := range l.dec.feed(data) {
		l.stats.FramesReceived++
		if p.dest != local && p.dest != 0x00 && p.dest != 0xFF {
			l.stats.ForeignPackets++
			continue
		}
		src, msg, ok := l.asm.add(p)
		if !ok {
			continue
		}
		l.stats.MessagesDecoded++
		l.logger.Debug("message reassembled", "src", uint8(src), "len", len(msg))
		if len(l.queue) >= l.queueLimit {
			l.dequeue()
			l.stats.QueueOverflows++
			l.logger.Warn("receive queue full, dropped oldest message", "limit", l.queueLimit)
		}
		l.queue = append(l.queue, msg)
	}
}

func (l *Link) dequeue() ([]byte, bool) {
	if len(l.queue) == 0 {
		return nil, false
	}
	msg := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return msg, true
}

// Stats returns a snapshot of the link counters.
func (l *Link) Stats() Stats {
	l.readMu.Lock()
	defer l.readMu.Unlock()
	s := l.stats
	s.FCSErrors = l.dec.errs[ErrBadFCS]
	s.FramingErrors = l.dec.errs[ErrBadFrame]
	s.DroppedPackets = l.asm.dropped
	return s
}

// Close closes the tty. It is safe to call more than once.
func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	if l.port == nil {
		return nil
	}
	err := l.port.Close()
	l.port = nil
	if err != nil {
		return fmt.Errorf("failed to close %s: %w", l.device, err)
	}
	l.logger.Info("serial link closed", "device", l.device)
	return nil
}

var _ link.Link = (*Link)(nil)
