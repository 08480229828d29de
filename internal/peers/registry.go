// Package peers keeps per-endpoint diagnostics for the devices the agent
// talks to. A Registry is a transport.RequestObserver.
package peers

import (
	"sort"
	"sync"
	"time"

	"github.com/rmacdonaldsmith/pldm-agent-go/pkg/link"
	"github.com/rmacdonaldsmith/pldm-agent-go/pkg/pldm"
	"github.com/rmacdonaldsmith/pldm-agent-go/pkg/transport"
)

// Health summarises how a peer has been answering.
type Health string

const (
	HealthUnknown      Health = "unknown"
	HealthHealthy      Health = "healthy"
	HealthUnresponsive Health = "unresponsive"
)

// UnresponsiveAfter is the number of consecutive failed requests after
// which a peer is reported unresponsive.
const UnresponsiveAfter = 3

// Peer is a snapshot of one endpoint's counters.
type Peer struct {
	EID                 link.EID
	Configured          bool
	Health              Health
	RequestsSent        uint64
	Replies             uint64
	Timeouts            uint64
	SendFailures        uint64
	Superseded          uint64
	Cancelled           uint64
	InFlight            int
	ConsecutiveFailures int
	LastSeen            time.Time
	LastLatency         time.Duration
}

// Registry tracks peers. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	peers map[link.EID]*Peer
	now   func() time.Time
}

// NewRegistry creates a registry pre-populated with the configured peers.
func NewRegistry(configured ...link.EID) *Registry {
	r := &Registry{
		peers: make(map[link.EID]*Peer),
		now:   time.Now,
	}
	for _, eid := range configured {
		r.peers[eid] = &Peer{EID: eid, Configured: true, Health: HealthUnknown}
	}
	return r
}

// lookup returns the peer for eid, registering it if needed. Callers hold mu.
func (r *Registry) lookup(eid link.EID) *Peer {
	p, ok := r.peers[eid]
	if !ok {
		p = &Peer{EID: eid, Health: HealthUnknown}
		r.peers[eid] = p
	}
	return p
}

// RequestSent implements transport.RequestObserver.
func (r *Registry) RequestSent(peer link.EID, _ pldm.InstanceID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := r.lookup(peer)
	p.RequestsSent++
	p.InFlight++
}

// RequestResolved implements transport.RequestObserver.
func (r *Registry) RequestResolved(peer link.EID, _ pldm.InstanceID, how transport.Resolution, elapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := r.lookup(peer)
	if p.InFlight > 0 {
		p.InFlight--
	}

	switch how {
	case transport.ResolvedReply:
		p.Replies++
		p.LastSeen = r.now()
		p.LastLatency = elapsed
		p.ConsecutiveFailures = 0
		p.Health = HealthHealthy
	case transport.ResolvedTimeout:
		p.Timeouts++
		r.failed(p)
	case transport.ResolvedSendFailure:
		p.SendFailures++
		r.failed(p)
	case transport.ResolvedSuperseded:
		p.Superseded++
	case transport.ResolvedClosing:
		p.Cancelled++
	}
}

func (r *Registry) failed(p *Peer) {
	p.ConsecutiveFailures++
	if p.ConsecutiveFailures >= UnresponsiveAfter {
		p.Health = HealthUnresponsive
	}
}

// Get returns a snapshot of one peer.
func (r *Registry) Get(eid link.EID) (Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.peers[eid]
	if !ok {
		return Peer{}, false
	}
	return *p, true
}

// List returns a snapshot of every peer, sorted by EID.
func (r *Registry) List() []Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Peer, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EID < out[j].EID })
	return out
}

// IsConfigured reports whether eid was named at construction.
func (r *Registry) IsConfigured(eid link.EID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[eid]
	return ok && p.Configured
}

var _ transport.RequestObserver = (*Registry)(nil)
