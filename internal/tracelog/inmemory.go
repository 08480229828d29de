package tracelog

import (
	"context"
	"errors"
	"sync"

	"github.com/rmacdonaldsmith/pldm-agent-go/pkg/tracelog"
	"github.com/rmacdonaldsmith/pldm-agent-go/pkg/transport"
)

// DefaultCapacity is the number of records kept when none is configured.
const DefaultCapacity = 1024

var (
	// ErrNegativeOffset is returned when a negative offset is provided
	ErrNegativeOffset = errors.New("offset cannot be negative")
	// ErrNegativeLimit is returned when a negative limit is provided
	ErrNegativeLimit = errors.New("limit cannot be negative")
	// ErrClosed is returned by operations on a closed trace log
	ErrClosed = errors.New("trace log is closed")
)

type subscriber struct {
	ch     chan tracelog.Record
	missed int64
}

// InMemoryTraceLog implements tracelog.TraceLog with a fixed-size ring.
// It is safe for concurrent use.
type InMemoryTraceLog struct {
	mu         sync.RWMutex
	ring       []tracelog.Record
	head       int // index of the oldest record
	count      int
	nextOffset int64
	byOutcome  map[transport.FrameOutcome]int64

	subscribers map[int]*subscriber
	nextSubID   int
	missed      int64

	closed bool
}

// NewInMemoryTraceLog creates a trace log holding at most capacity records.
// A non-positive capacity selects DefaultCapacity.
func NewInMemoryTraceLog(capacity int) *InMemoryTraceLog {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &InMemoryTraceLog{
		ring:        make([]tracelog.Record, capacity),
		byOutcome:   make(map[transport.FrameOutcome]int64),
		subscribers: make(map[int]*subscriber),
	}
}

// Append stores record, assigning the next offset.
func (l *InMemoryTraceLog) Append(ctx context.Context, record tracelog.Record) (tracelog.Record, error) {
	select {
	case <-ctx.Done():
		return tracelog.Record{}, ctx.Err()
	default:
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return tracelog.Record{}, ErrClosed
	}

	stored := record.Clone()
	stored.Offset = l.nextOffset
	l.nextOffset++

	capacity := len(l.ring)
	if l.count < capacity {
		l.ring[(l.head+l.count)%capacity] = stored
		l.count++
	} else {
		l.ring[l.head] = stored
		l.head = (l.head + 1) % capacity
	}
	l.byOutcome[stored.Outcome]++

	for _, sub := range l.subscribers {
		select {
		case sub.ch <- stored.Clone():
		default:
			sub.missed++
			l.missed++
		}
	}

	return stored.Clone(), nil
}

// ObserveFrame records a transport frame. Errors are dropped: tracing must
// never disturb the transport.
func (l *InMemoryTraceLog) ObserveFrame(e transport.FrameEvent) {
	_, _ = l.Append(context.Background(), tracelog.NewRecord(e))
}

// Read returns up to limit records starting at offset.
func (l *InMemoryTraceLog) Read(ctx context.Context, offset int64, limit int) ([]tracelog.Record, error) {
	if offset < 0 {
		return nil, ErrNegativeOffset
	}
	if limit < 0 {
		return nil, ErrNegativeLimit
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		return nil, ErrClosed
	}

	first := l.nextOffset - int64(l.count)
	if offset < first {
		offset = first
	}
	if limit == 0 || offset >= l.nextOffset {
		return make([]tracelog.Record, 0), nil
	}

	n := int(l.nextOffset - offset)
	if n > limit {
		n = limit
	}

	capacity := len(l.ring)
	skip := int(offset - first)
	results := make([]tracelog.Record, 0, n)
	for i := 0; i < n; i++ {
		results = append(results, l.ring[(l.head+skip+i)%capacity].Clone())
	}
	return results, nil
}

// EndOffset returns the offset the next record will get.
func (l *InMemoryTraceLog) EndOffset() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.nextOffset
}

// Subscribe registers a live subscription.
func (l *InMemoryTraceLog) Subscribe(buffer int) (<-chan tracelog.Record, func()) {
	if buffer < 0 {
		buffer = 0
	}
	ch := make(chan tracelog.Record, buffer)

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		close(ch)
		return ch, func() {}
	}

	id := l.nextSubID
	l.nextSubID++
	l.subscribers[id] = &subscriber{ch: ch}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if sub, ok := l.subscribers[id]; ok {
				delete(l.subscribers, id)
				close(sub.ch)
			}
		})
	}
	return ch, cancel
}

// Statistics returns aggregate counters.
func (l *InMemoryTraceLog) Statistics() tracelog.Statistics {
	l.mu.RLock()
	defer l.mu.RUnlock()

	byOutcome := make(map[transport.FrameOutcome]int64, len(l.byOutcome))
	for k, v := range l.byOutcome {
		byOutcome[k] = v
	}
	return tracelog.Statistics{
		TotalRecords: l.nextOffset,
		Retained:     l.count,
		Discarded:    l.nextOffset - int64(l.count),
		FirstOffset:  l.nextOffset - int64(l.count),
		ByOutcome:    byOutcome,
		Subscribers:  len(l.subscribers),
		Missed:       l.missed,
	}
}

// Close drops every record and ends every subscription.
func (l *InMemoryTraceLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	for id, sub := range l.subscribers {
		close(sub.ch)
		delete(l.subscribers, id)
	}
	l.ring = make([]tracelog.Record, len(l.ring))
	l.count = 0
	l.head = 0
	l.closed = true
	return nil
}

// Verify that InMemoryTraceLog implements the TraceLog interface at compile time
var _ tracelog.TraceLog = (*InMemoryTraceLog)(nil)
