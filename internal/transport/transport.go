package transport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rmacdonaldsmith/pldm-agent-go/internal/logging"
	"github.com/rmacdonaldsmith/pldm-agent-go/pkg/link"
	"github.com/rmacdonaldsmith/pldm-agent-go/pkg/pldm"
	transportpkg "github.com/rmacdonaldsmith/pldm-agent-go/pkg/transport"
)

// PLDMTransport implements the transport.Transport interface.
// It owns the link, the pending table and the two background workers:
// the receive worker drains the link and resolves matching requests, the
// timeout worker resolves requests whose deadline has passed.
type PLDMTransport struct {
	mu     sync.RWMutex
	config *Config
	link   link.Link
	logger *logging.Logger

	state transportpkg.State
	table *pendingTable
	alloc InstanceIDAllocator

	frames   transportpkg.FrameObserver
	requests transportpkg.RequestObserver

	cancel  context.CancelFunc
	workers *errgroup.Group

	counters counters
	now      func() time.Time
}

type counters struct {
	sent         atomic.Uint64
	replies      atomic.Uint64
	timeouts     atomic.Uint64
	sendFailures atomic.Uint64
	superseded   atomic.Uint64
	cancelled    atomic.Uint64
	orphans      atomic.Uint64
	malformed    atomic.Uint64
}

// Stats is a snapshot of the transport's counters.
type Stats struct {
	State        transportpkg.State
	Pending      int
	Sent         uint64
	Replies      uint64
	Timeouts     uint64
	SendFailures uint64
	Superseded   uint64
	Cancelled    uint64
	Orphans      uint64
	Malformed    uint64
}

// Option customises a PLDMTransport.
type Option func(*PLDMTransport)

// WithLogger sets the logger used by the transport and its workers.
func WithLogger(logger *logging.Logger) Option {
	return func(t *PLDMTransport) {
		t.logger = logging.OrNop(logger).WithComponent("transport")
	}
}

// WithFrameObserver reports every frame sent and received to obs.
func WithFrameObserver(obs transportpkg.FrameObserver) Option {
	return func(t *PLDMTransport) {
		t.frames = obs
	}
}

// WithRequestObserver reports request registration and resolution to obs.
func WithRequestObserver(obs transportpkg.RequestObserver) Option {
	return func(t *PLDMTransport) {
		t.requests = obs
	}
}

// NewPLDMTransport creates a transport over l. It does not open the link;
// call Initialize to start it.
func NewPLDMTransport(l link.Link, config *Config, opts ...Option) (*PLDMTransport, error) {
	if l == nil {
		return nil, fmt.Errorf("link cannot be nil")
	}
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	configCopy := *config
	configCopy.SetDefaults()
	if err := configCopy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	t := &PLDMTransport{
		config: &configCopy,
		link:   l,
		logger: logging.NopLogger(),
		state:  transportpkg.StateUninitialized,
		table:  newPendingTable(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Initialize opens the link and starts the receive and timeout workers.
// On failure the transport stays uninitialized.
func (t *PLDMTransport) Initialize(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.state {
	case transportpkg.StateRunning:
		return transportpkg.ErrAlreadyInitialized
	case transportpkg.StateStopped:
		return transportpkg.ErrTransportClosing
	}

	if err := t.link.Open(ctx, t.config.linkConfig()); err != nil {
		t.logger.Error("link initialization failed", "interface", t.config.Interface, "error", err.Error())
		return fmt.Errorf("failed to open link %q: %w", t.config.Interface, err)
	}

	workerCtx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(workerCtx)
	g.Go(t.receiveLoop(gctx))
	g.Go(t.timeoutLoop(gctx))

	t.cancel = cancel
	t.workers = g
	t.state = transportpkg.StateRunning

	t.logger.Info("transport initialized",
		"local_eid", uint8(t.config.LocalEID),
		"interface", t.config.Interface,
		"peers", len(t.config.Peers))
	return nil
}

// Close stops the workers, fails every outstanding request with
// ErrTransportClosing and closes the link. It is safe to call more than once.
func (t *PLDMTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.state {
	case transportpkg.StateStopped:
		return nil
	case transportpkg.StateUninitialized:
		t.state = transportpkg.StateStopped
		return nil
	}

	t.state = transportpkg.StateStopped

	// Workers must be gone before the drain or an entry could be resolved twice.
	t.cancel()
	_ = t.workers.Wait()

	drained := t.table.drain()
	for _, entry := range drained {
		err := &transportpkg.RequestError{
			Op:         "wait",
			InstanceID: entry.handle.id,
			Peer:       entry.handle.peer,
			Err:        transportpkg.ErrTransportClosing,
		}
		t.counters.cancelled.Add(1)
		t.resolve(entry, nil, err, transportpkg.ResolvedClosing)
	}

	t.logger.Info("transport closed", "cancelled_requests", len(drained))

	if err := t.link.Close(); err != nil {
		return fmt.Errorf("failed to close link: %w", err)
	}
	return nil
}

// IsRunning reports whether the transport accepts requests.
func (t *PLDMTransport) IsRunning() bool {
	return t.State() == transportpkg.StateRunning
}

// State returns the current lifecycle state.
func (t *PLDMTransport) State() transportpkg.State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// PendingRequestCount returns the number of outstanding requests.
func (t *PLDMTransport) PendingRequestCount() int {
	return t.table.len()
}

// NextInstanceID hands out the next instance ID for building a request.
func (t *PLDMTransport) NextInstanceID() pldm.InstanceID {
	return t.alloc.Next()
}

// LocalEID returns the endpoint ID this transport was configured with.
func (t *PLDMTransport) LocalEID() link.EID {
	return t.config.LocalEID
}

// Stats returns a snapshot of the transport's counters.
func (t *PLDMTransport) Stats() Stats {
	return Stats{
		State:        t.State(),
		Pending:      t.table.len(),
		Sent:         t.counters.sent.Load(),
		Replies:      t.counters.replies.Load(),
		Timeouts:     t.counters.timeouts.Load(),
		SendFailures: t.counters.sendFailures.Load(),
		Superseded:   t.counters.superseded.Load(),
		Cancelled:    t.counters.cancelled.Load(),
		Orphans:      t.counters.orphans.Load(),
		Malformed:    t.counters.malformed.Load(),
	}
}

// resolve assigns the entry's result and notifies the request observer.
// Callers must have removed entry from the table first.
func (t *PLDMTransport) resolve(entry *pendingRequest, payload []byte, err error, how transportpkg.Resolution) {
	if !entry.handle.resolve(payload, err) {
		return
	}
	if t.requests != nil {
		t.requests.RequestResolved(entry.handle.peer, entry.handle.id, how, t.now().Sub(entry.sentAt))
	}
}

func (t *PLDMTransport) observeFrame(dir transportpkg.Direction, peer link.EID, msg []byte, outcome transportpkg.FrameOutcome) {
	if t.frames == nil {
		return
	}
	var id pldm.InstanceID
	if len(msg) > 0 {
		id = pldm.InstanceIDOf(msg[0])
	}
	t.frames.ObserveFrame(transportpkg.FrameEvent{
		Direction:  dir,
		Peer:       peer,
		InstanceID: id,
		Payload:    msg,
		Outcome:    outcome,
	})
}

var _ transportpkg.Transport = (*PLDMTransport)(nil)
