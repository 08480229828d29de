package transport

import (
	"sync"
	"time"

	"github.com/rmacdonaldsmith/pldm-agent-go/pkg/pldm"
)

// pendingTable maps instance IDs to outstanding requests.
// The lock is held only for the map mutation, never across link I/O.
type pendingTable struct {
	mu      sync.Mutex
	entries map[pldm.InstanceID]*pendingRequest
}

func newPendingTable() *pendingTable {
	return &pendingTable{
		entries: make(map[pldm.InstanceID]*pendingRequest),
	}
}

// insert registers entry under id and returns whatever it displaced.
func (t *pendingTable) insert(id pldm.InstanceID, entry *pendingRequest) *pendingRequest {
	t.mu.Lock()
	defer t.mu.Unlock()

	displaced := t.entries[id]
	t.entries[id] = entry
	return displaced
}

// removeIfPresent takes the entry registered under id, if any.
func (t *pendingTable) removeIfPresent(id pldm.InstanceID) (*pendingRequest, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
	}
	return entry, ok
}

// removeOwned takes the entry under id only if it is still entry.
func (t *pendingTable) removeOwned(id pldm.InstanceID, entry *pendingRequest) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.entries[id] != entry {
		return false
	}
	delete(t.entries, id)
	return true
}

// removeExpired takes every entry whose deadline is before now.
func (t *pendingTable) removeExpired(now time.Time) []*pendingRequest {
	t.mu.Lock()
	defer t.mu.Unlock()

	var expired []*pendingRequest
	for id, entry := range t.entries {
		if now.After(entry.deadline) {
			expired = append(expired, entry)
			delete(t.entries, id)
		}
	}
	return expired
}

// drain takes every entry.
func (t *pendingTable) drain() []*pendingRequest {
	t.mu.Lock()
	defer t.mu.Unlock()

	drained := make([]*pendingRequest, 0, len(t.entries))
	for _, entry := range t.entries {
		drained = append(drained, entry)
	}
	t.entries = make(map[pldm.InstanceID]*pendingRequest)
	return drained
}

func (t *pendingTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

func (t *pendingTable) contains(id pldm.InstanceID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[id]
	return ok
}
