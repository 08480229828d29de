package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEntry(id uint8, deadline time.Time) *pendingRequest {
	return &pendingRequest{handle: newHandle(instanceID(id), 9), deadline: deadline, sentAt: time.Now()}
}

func TestPendingTable_InsertReturnsDisplaced(t *testing.T) {
	table := newPendingTable()
	first := newEntry(4, time.Now())
	second := newEntry(4, time.Now())

	assert.Nil(t, table.insert(4, first))
	assert.Same(t, first, table.insert(4, second))
	assert.Equal(t, 1, table.len())

	got, ok := table.removeIfPresent(4)
	require.True(t, ok)
	assert.Same(t, second, got)

	_, ok = table.removeIfPresent(4)
	assert.False(t, ok)
}

func TestPendingTable_RemoveOwned(t *testing.T) {
	table := newPendingTable()
	first := newEntry(1, time.Now())
	second := newEntry(1, time.Now())

	table.insert(1, first)
	table.insert(1, second)

	assert.False(t, table.removeOwned(1, first), "displaced entry must not remove its successor")
	assert.True(t, table.contains(1))
	assert.True(t, table.removeOwned(1, second))
	assert.False(t, table.contains(1))
}

func TestPendingTable_RemoveExpired(t *testing.T) {
	table := newPendingTable()
	now := time.Now()

	table.insert(1, newEntry(1, now.Add(-time.Millisecond)))
	table.insert(2, newEntry(2, now))
	table.insert(3, newEntry(3, now.Add(time.Second)))

	expired := table.removeExpired(now)
	require.Len(t, expired, 1)
	assert.Equal(t, instanceID(1), expired[0].handle.id)
	assert.True(t, table.contains(2), "deadline equal to now is not yet expired")
	assert.True(t, table.contains(3))
}

func TestPendingTable_Drain(t *testing.T) {
	table := newPendingTable()
	for i := uint8(0); i < 5; i++ {
		table.insert(instanceID(i), newEntry(i, time.Now()))
	}

	drained := table.drain()
	assert.Len(t, drained, 5)
	assert.Equal(t, 0, table.len())
	assert.Empty(t, table.drain())
}
