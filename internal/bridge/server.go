package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/rmacdonaldsmith/pldm-agent-go/internal/logging"
	"github.com/rmacdonaldsmith/pldm-agent-go/pkg/link"
)

// sourceReceiver is implemented by links that know who sent a message.
type sourceReceiver interface {
	ReceiveFrom() (link.EID, []byte, error)
}

// Server exposes one local link to a single remote client at a time.
type Server struct {
	config *Config
	link   link.Link
	logger *logging.Logger

	mu         sync.Mutex
	grpcServer *grpc.Server
	listener   net.Listener
	started    bool
	closed     bool

	active     atomic.Bool
	toLink     atomic.Uint64
	fromLink   atomic.Uint64
	sendErrors atomic.Uint64
}

// ServerStats counts traffic through the bridge.
type ServerStats struct {
	ClientConnected bool
	ToLink          uint64
	FromLink        uint64
	LinkSendErrors  uint64
}

// NewServer creates a bridge server for l. l must already be open.
func NewServer(l link.Link, config *Config, logger *logging.Logger) (*Server, error) {
	if l == nil {
		return nil, errors.New("link cannot be nil")
	}
	if config == nil {
		return nil, errors.New("config cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	configCopy := *config
	configCopy.SetDefaults()

	return &Server{
		config: &configCopy,
		link:   l,
		logger: logging.OrNop(logger).WithComponent("bridge"),
	}, nil
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	var lc net.ListenConfig
	lis, err := lc.Listen(ctx, "tcp", s.config.ListenAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.ListenAddress, err)
	}
	if err := s.Serve(lis); err != nil {
		_ = lis.Close()
		return err
	}
	return nil
}

// Serve serves on lis in the background.
func (s *Server) Serve(lis net.Listener) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New("bridge server is closed")
	}
	if s.started {
		return errors.New("bridge server already started")
	}

	s.grpcServer = grpc.NewServer(
		grpc.MaxRecvMsgSize(s.config.MaxMessageSize),
		grpc.MaxSendMsgSize(s.config.MaxMessageSize),
	)
	s.grpcServer.RegisterService(&linkBridgeServiceDesc, s)
	s.listener = lis
	s.started = true

	go func(srv *grpc.Server) {
		if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			s.logger.Error("bridge server stopped", "error", err.Error())
		}
	}(s.grpcServer)

	s.logger.Info("bridge server listening", "address", lis.Addr().String())
	return nil
}

// Addr returns the address the server listens on, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stats returns a snapshot of the bridge counters.
func (s *Server) Stats() ServerStats {
	return ServerStats{
		ClientConnected: s.active.Load(),
		ToLink:          s.toLink.Load(),
		FromLink:        s.fromLink.Load(),
		LinkSendErrors:  s.sendErrors.Load(),
	}
}

// Stop ends every stream and stops the server. The link stays open.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	if s.grpcServer != nil {
		s.grpcServer.Stop()
	}
	s.logger.Info("bridge server stopped")
}

// Exchange pumps one client stream against the link.
func (s *Server) Exchange(stream grpc.ServerStream) error {
	if !s.active.CompareAndSwap(false, true) {
		return status.Error(codes.ResourceExhausted, "bridge already serving a client")
	}
	defer s.active.Store(false)

	if err := stream.SendHeader(metadata.Pairs(acceptedHeader, "accepted")); err != nil {
		return err
	}
	s.logger.Info("bridge client connected")

	ctx, cancel := context.WithCancel(stream.Context())
	defer cancel()

	inbound := make(chan error, 1)
	go func() { inbound <- s.pumpToLink(stream) }()

	outbound := make(chan error, 1)
	go func() { outbound <- s.pumpFromLink(ctx, stream) }()

	var err error
	select {
	case err = <-inbound:
		cancel()
		<-outbound
	case err = <-outbound:
	}

	s.logger.Info("bridge client disconnected")
	if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Server) pumpToLink(stream grpc.ServerStream) error {
	for {
		var m wrapperspb.BytesValue
		if err := stream.RecvMsg(&m); err != nil {
			return err
		}
		peer, msg, err := decodeEnvelope(&m)
		if err != nil {
			s.logger.Warn("dropping envelope", "error", err.Error())
			continue
		}
		if err := s.link.Send(peer, msg); err != nil {
			s.sendErrors.Add(1)
			s.logger.Warn("link send failed", "peer", uint8(peer), "error", err.Error())
			continue
		}
		s.toLink.Add(1)
	}
}

func (s *Server) pumpFromLink(ctx context.Context, stream grpc.ServerStream) error {
	timer := time.NewTimer(s.config.PollInterval)
	defer timer.Stop()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		peer, msg, err := s.receive()
		if errors.Is(err, link.ErrNoData) {
			timer.Reset(s.config.PollInterval)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
			}
			continue
		}
		if err != nil {
			return status.Errorf(codes.Unavailable, "link receive failed: %v", err)
		}

		if err := stream.SendMsg(encodeEnvelope(peer, msg)); err != nil {
			return err
		}
		s.fromLink.Add(1)
	}
}

func (s *Server) receive() (link.EID, []byte, error) {
	if sr, ok := s.link.(sourceReceiver); ok {
		return sr.ReceiveFrom()
	}
	msg, err := s.link.Receive()
	return 0, msg, err
}
