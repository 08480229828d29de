package agent

import (
	"time"

	"github.com/rmacdonaldsmith/pldm-agent-go/internal/peers"
	"github.com/rmacdonaldsmith/pldm-agent-go/internal/transport"
	tracelogpkg "github.com/rmacdonaldsmith/pldm-agent-go/pkg/tracelog"
)

// Health summarises the agent for liveness checks.
type Health struct {
	Healthy         bool
	State           string
	Running         bool
	PendingRequests int
	LocalEID        int
	Peers           int
	Unresponsive    int
	TraceEndOffset  int64
	Uptime          time.Duration
}

// Stats is the full diagnostic snapshot.
type Stats struct {
	LinkKind  string
	Interface string
	Transport transport.Stats
	Trace     tracelogpkg.Statistics
	Peers     []peers.Peer
}

// Health returns the current health summary. An agent is healthy while
// its transport runs.
func (a *Agent) Health() Health {
	a.mu.RLock()
	started, startedAt := a.started, a.startedAt
	a.mu.RUnlock()

	list := a.peers.List()
	unresponsive := 0
	for _, p := range list {
		if p.Health == peers.HealthUnresponsive {
			unresponsive++
		}
	}

	running := started && a.transport.IsRunning()
	h := Health{
		Healthy:         running,
		State:           a.transport.State().String(),
		Running:         running,
		PendingRequests: a.transport.PendingRequestCount(),
		LocalEID:        a.config.LocalEID,
		Peers:           len(list),
		Unresponsive:    unresponsive,
		TraceEndOffset:  a.trace.EndOffset(),
	}
	if running {
		h.Uptime = time.Since(startedAt)
	}
	return h
}

// Stats returns counters from every component.
func (a *Agent) Stats() Stats {
	return Stats{
		LinkKind:  a.config.Link.Kind,
		Interface: a.config.LinkInterface(),
		Transport: a.transport.Stats(),
		Trace:     a.trace.Statistics(),
		Peers:     a.peers.List(),
	}
}
