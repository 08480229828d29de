package transport

import (
	"sync/atomic"

	"github.com/rmacdonaldsmith/pldm-agent-go/pkg/pldm"
)

// InstanceIDAllocator hands out instance IDs cycling through 0..31.
//
// It never consults the pending table: with more than 32 requests in
// flight, Next can return an ID that is still outstanding.
type InstanceIDAllocator struct {
	next atomic.Uint32
}

// Next returns the next instance ID.
func (a *InstanceIDAllocator) Next() pldm.InstanceID {
	return pldm.InstanceID((a.next.Add(1) - 1) % pldm.InstanceIDCount)
}
