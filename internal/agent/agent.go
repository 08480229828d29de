// Package agent wires a link, the correlating transport and its
// diagnostics into one process-level component.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rmacdonaldsmith/pldm-agent-go/internal/config"
	"github.com/rmacdonaldsmith/pldm-agent-go/internal/logging"
	"github.com/rmacdonaldsmith/pldm-agent-go/internal/peers"
	"github.com/rmacdonaldsmith/pldm-agent-go/internal/tracelog"
	"github.com/rmacdonaldsmith/pldm-agent-go/internal/transport"
	"github.com/rmacdonaldsmith/pldm-agent-go/pkg/link"
	"github.com/rmacdonaldsmith/pldm-agent-go/pkg/pldm"
	tracelogpkg "github.com/rmacdonaldsmith/pldm-agent-go/pkg/tracelog"
	transportpkg "github.com/rmacdonaldsmith/pldm-agent-go/pkg/transport"
)

// archiveBuffer is how many records the archive may fall behind the
// trace before it misses some.
const archiveBuffer = 256

var (
	// ErrClosed is returned by operations on a closed agent
	ErrClosed = errors.New("agent is closed")
	// ErrNotStarted is returned when requests are made before Start
	ErrNotStarted = errors.New("agent is not started")
)

// Agent owns the link, the transport, the trace log and the peer registry.
// Start opens the link; Stop closes it for good.
type Agent struct {
	mu     sync.RWMutex
	config *config.Config
	logger *logging.Logger

	link      link.Link
	transport *transport.PLDMTransport
	trace     *tracelog.InMemoryTraceLog
	archive   *tracelog.Archive
	archived  chan struct{}
	peers     *peers.Registry

	started   bool
	closed    bool
	startedAt time.Time
}

// Option customises an Agent.
type Option func(*options)

type options struct {
	link link.Link
}

// WithLink makes the agent use l instead of building one from the config.
func WithLink(l link.Link) Option {
	return func(o *options) {
		o.link = l
	}
}

// New builds an agent from cfg. Nothing is opened until Start.
func New(cfg *config.Config, logger *logging.Logger, opts ...Option) (*Agent, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("invalid config: %w", errs)
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	logger = logging.OrNop(logger)

	l := o.link
	if l == nil {
		var err error
		l, err = NewLink(cfg, logger)
		if err != nil {
			return nil, err
		}
	}

	trace := tracelog.NewInMemoryTraceLog(cfg.Trace.Capacity)
	registry := peers.NewRegistry(cfg.PeerEIDs()...)

	t, err := transport.NewPLDMTransport(l, cfg.TransportConfig(),
		transport.WithLogger(logger),
		transport.WithFrameObserver(trace),
		transport.WithRequestObserver(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}

	a := &Agent{
		config:    cfg,
		logger:    logger.WithComponent("agent"),
		link:      l,
		transport: t,
		trace:     trace,
		peers:     registry,
	}

	if cfg.Trace.Database != "" {
		archive, err := tracelog.OpenArchive(cfg.Trace.Database, logger)
		if err != nil {
			_ = t.Close()
			return nil, err
		}
		records, _ := trace.Subscribe(archiveBuffer)
		a.archive = archive
		a.archived = make(chan struct{})
		go func() {
			defer close(a.archived)
			archive.Follow(records)
		}()
	}
	return a, nil
}

// Start opens the link and starts the transport workers.
// Calling Start on a started agent is a no-op.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrClosed
	}
	if a.started {
		return nil
	}

	if err := a.transport.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to start transport: %w", err)
	}

	a.started = true
	a.startedAt = time.Now()
	a.logger.Info("agent started",
		"link_kind", a.config.Link.Kind,
		"interface", a.config.LinkInterface(),
		"local_eid", a.config.LocalEID)
	return nil
}

// Stop closes the transport and the link. Outstanding requests fail with
// a closing error. The transport cannot be reopened afterwards.
func (a *Agent) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stopLocked(ctx)
}

func (a *Agent) stopLocked(ctx context.Context) error {
	if !a.started {
		return nil
	}
	a.started = false

	done := make(chan error, 1)
	go func() { done <- a.transport.Close() }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to stop transport: %w", err)
		}
		a.logger.Info("agent stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("agent stop interrupted: %w", ctx.Err())
	}
}

// Close stops the agent if needed and releases the trace log.
func (a *Agent) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}

	if err := a.stopLocked(context.Background()); err != nil {
		return err
	}
	// Marks a never-started transport stopped.
	if err := a.transport.Close(); err != nil {
		return fmt.Errorf("failed to close transport: %w", err)
	}
	if err := a.trace.Close(); err != nil {
		return fmt.Errorf("failed to close trace log: %w", err)
	}
	if a.archive != nil {
		// closing the trace ended the subscription
		<-a.archived
		if err := a.archive.Close(); err != nil {
			return fmt.Errorf("failed to close trace archive: %w", err)
		}
	}

	a.closed = true
	return nil
}

// IsRunning reports whether requests can be sent.
func (a *Agent) IsRunning() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.started && a.transport.IsRunning()
}

// NextInstanceID hands out the next instance ID from the transport.
func (a *Agent) NextInstanceID() pldm.InstanceID {
	return a.transport.NextInstanceID()
}

// SendRequest sends request to peer and waits for the reply.
func (a *Agent) SendRequest(ctx context.Context, peer link.EID, request []byte, timeout time.Duration) ([]byte, error) {
	a.mu.RLock()
	closed, started := a.closed, a.started
	a.mu.RUnlock()

	switch {
	case closed:
		return nil, ErrClosed
	case !started:
		return nil, ErrNotStarted
	}
	return a.transport.SendAndWait(ctx, peer, request, timeout)
}

// Transport exposes the underlying transport.
func (a *Agent) Transport() transportpkg.Transport {
	return a.transport
}

// TraceLog exposes the traffic trace.
func (a *Agent) TraceLog() tracelogpkg.TraceLog {
	return a.trace
}

// Archive returns the persistent trace archive, or nil when none is
// configured.
func (a *Agent) Archive() *tracelog.Archive {
	return a.archive
}

// Peers exposes the peer registry.
func (a *Agent) Peers() *peers.Registry {
	return a.peers
}

// Config returns the configuration the agent was built from.
func (a *Agent) Config() *config.Config {
	return a.config
}
