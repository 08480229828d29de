package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/rmacdonaldsmith/pldm-agent-go/internal/logging"
	"github.com/rmacdonaldsmith/pldm-agent-go/pkg/link"
)

// DefaultInboxSize is how many received messages RemoteLink buffers.
const DefaultInboxSize = 256

// ErrRejected is returned by Open when the server refused the stream.
var ErrRejected = errors.New("bridge: stream rejected by server")

// RemoteLink is a link.Link whose traffic goes through a bridge Server.
type RemoteLink struct {
	address  string
	dialOpts []grpc.DialOption
	logger   *logging.Logger

	mu      sync.Mutex
	conn    *grpc.ClientConn
	stream  grpc.ClientStream
	cancel  context.CancelFunc
	done    chan struct{}
	readErr error
	closed  bool

	sendMu sync.Mutex
	inbox  chan []byte
}

// RemoteOption customises a RemoteLink.
type RemoteOption func(*RemoteLink)

// WithDialOptions appends gRPC dial options.
func WithDialOptions(opts ...grpc.DialOption) RemoteOption {
	return func(r *RemoteLink) {
		r.dialOpts = append(r.dialOpts, opts...)
	}
}

// WithRemoteLogger sets the logger.
func WithRemoteLogger(logger *logging.Logger) RemoteOption {
	return func(r *RemoteLink) {
		r.logger = logging.OrNop(logger).WithComponent("bridge-client")
	}
}

// NewRemoteLink creates a link to the bridge at address. An empty address
// defers to the Interface passed to Open.
func NewRemoteLink(address string, opts ...RemoteOption) *RemoteLink {
	r := &RemoteLink{
		address: address,
		logger:  logging.NopLogger(),
		inbox:   make(chan []byte, DefaultInboxSize),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Open dials the bridge and waits for the server to accept the stream.
func (r *RemoteLink) Open(ctx context.Context, cfg link.Config) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return link.ErrClosed
	}
	if r.stream != nil {
		return nil
	}

	address := r.address
	if address == "" {
		address = cfg.Interface
	}
	if address == "" {
		return errors.New("bridge address cannot be empty")
	}

	opts := append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, r.dialOpts...)
	conn, err := grpc.NewClient(address, opts...)
	if err != nil {
		return fmt.Errorf("failed to create bridge client for %s: %w", address, err)
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	stream, err := openStream(ctx, streamCtx, conn)
	if err != nil {
		cancel()
		_ = conn.Close()
		return fmt.Errorf("failed to open bridge stream to %s: %w", address, err)
	}

	r.conn = conn
	r.stream = stream
	r.cancel = cancel
	r.done = make(chan struct{})
	r.readErr = nil
	go r.readLoop(stream, r.done)

	r.logger.Info("bridge link opened", "address", address)
	return nil
}

// openStream starts the exchange and blocks until the server accepts or
// rejects it, or ctx ends.
func openStream(ctx, streamCtx context.Context, conn *grpc.ClientConn) (grpc.ClientStream, error) {
	stream, err := conn.NewStream(streamCtx, &linkBridgeServiceDesc.Streams[0], exchangeMethod)
	if err != nil {
		return nil, err
	}

	type headerResult struct {
		accepted bool
		err      error
	}
	result := make(chan headerResult, 1)
	go func() {
		md, err := stream.Header()
		result <- headerResult{accepted: err == nil && len(md.Get(acceptedHeader)) > 0, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-result:
		if res.err != nil {
			return nil, res.err
		}
		if !res.accepted {
			// Trailers-only response: the status carries the reason.
			if err := stream.RecvMsg(&wrapperspb.BytesValue{}); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrRejected, err)
			}
			return nil, ErrRejected
		}
		return stream, nil
	}
}

func (r *RemoteLink) readLoop(stream grpc.ClientStream, done chan struct{}) {
	defer close(done)

	for {
		var m wrapperspb.BytesValue
		if err := stream.RecvMsg(&m); err != nil {
			r.mu.Lock()
			if !r.closed {
				r.readErr = err
				r.logger.Warn("bridge stream ended", "error", err.Error())
			}
			r.mu.Unlock()
			return
		}

		_, msg, err := decodeEnvelope(&m)
		if err != nil {
			r.logger.Warn("dropping envelope", "error", err.Error())
			continue
		}

		select {
		case r.inbox <- msg:
		default:
			r.logger.Warn("bridge inbox full, dropping message", "len", len(msg))
		}
	}
}

// Send forwards msg for peer to the bridge.
func (r *RemoteLink) Send(peer link.EID, msg []byte) error {
	r.mu.Lock()
	stream, closed, readErr := r.stream, r.closed, r.readErr
	r.mu.Unlock()

	switch {
	case closed:
		return link.ErrClosed
	case stream == nil:
		return link.ErrNotOpen
	case readErr != nil:
		return fmt.Errorf("bridge stream ended: %w", readErr)
	}

	r.sendMu.Lock()
	defer r.sendMu.Unlock()
	if err := stream.SendMsg(encodeEnvelope(peer, msg)); err != nil {
		return fmt.Errorf("failed to forward to bridge: %w", err)
	}
	return nil
}

// Receive returns the next message from the bridge or link.ErrNoData.
func (r *RemoteLink) Receive() ([]byte, error) {
	r.mu.Lock()
	stream, closed, readErr := r.stream, r.closed, r.readErr
	r.mu.Unlock()

	if closed {
		return nil, link.ErrClosed
	}
	if stream == nil {
		return nil, link.ErrNotOpen
	}

	select {
	case msg := <-r.inbox:
		return msg, nil
	default:
	}
	if readErr != nil {
		return nil, fmt.Errorf("bridge stream ended: %w", readErr)
	}
	return nil, link.ErrNoData
}

// Close ends the stream and the connection. It is safe to call more than once.
func (r *RemoteLink) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	stream, conn, cancel, done := r.stream, r.conn, r.cancel, r.done
	r.mu.Unlock()

	if stream == nil {
		return nil
	}

	r.sendMu.Lock()
	_ = stream.CloseSend()
	r.sendMu.Unlock()

	cancel()
	err := conn.Close()
	<-done

	r.logger.Info("bridge link closed")
	if err != nil {
		return fmt.Errorf("failed to close bridge connection: %w", err)
	}
	return nil
}

var _ link.Link = (*RemoteLink)(nil)
