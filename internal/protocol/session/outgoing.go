package session

import (
	"errors"
	"fmt"

	"github.com/danmuck/uavbus/internal/protocol"
)

var ErrInvalidOutgoingCapacity = errors.New("session: outgoing registry capacity must be positive")

// OutgoingKey identifies one outgoing transfer stream.
type OutgoingKey struct {
	DstNodeID    protocol.NodeID
	DataTypeID   protocol.DataTypeID
	TransferType protocol.TransferType
}

func (k OutgoingKey) String() string {
	return fmt.Sprintf("dst=%s dtid=%d tt=%s", k.DstNodeID, k.DataTypeID, k.TransferType)
}

type outgoingEntry struct {
	key      OutgoingKey
	next     protocol.TransferID
	deadline protocol.MonotonicTime
	lastUse  uint64
	used     bool
}

// OutgoingRegistry hands out per-stream transfer ids from a fixed-size
// table allocated once. When full, the least recently used stream is
// evicted and its counter restarts at 0 on next use.
type OutgoingRegistry struct {
	entries []outgoingEntry
	size    int
	tick    uint64
	evicted uint64
}

func NewOutgoingRegistry(capacity int) (*OutgoingRegistry, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidOutgoingCapacity, capacity)
	}
	return &OutgoingRegistry{entries: make([]outgoingEntry, capacity)}, nil
}

func (r *OutgoingRegistry) find(key OutgoingKey) int {
	for i := range r.entries {
		if r.entries[i].used && r.entries[i].key == key {
			return i
		}
	}
	return -1
}

// slot returns a free index, or the least recently used one when full.
func (r *OutgoingRegistry) slot() (int, bool) {
	oldest := -1
	for i := range r.entries {
		e := &r.entries[i]
		if !e.used {
			return i, false
		}
		if oldest < 0 || e.lastUse < r.entries[oldest].lastUse {
			oldest = i
		}
	}
	return oldest, true
}

// Next returns the transfer id to use for key and advances the stored
// counter. deadline is when the entry may be dropped by Cleanup.
func (r *OutgoingRegistry) Next(key OutgoingKey, deadline protocol.MonotonicTime) protocol.TransferID {
	r.tick++
	if i := r.find(key); i >= 0 {
		e := &r.entries[i]
		tid := e.next
		e.next = tid.Next()
		e.deadline = deadline
		e.lastUse = r.tick
		return tid
	}

	i, evict := r.slot()
	if evict {
		r.evicted++
	} else {
		r.size++
	}
	r.entries[i] = outgoingEntry{
		key:      key,
		next:     protocol.TransferID(0).Next(),
		deadline: deadline,
		lastUse:  r.tick,
		used:     true,
	}
	return 0
}

// Peek returns the id Next would hand out without touching the entry.
func (r *OutgoingRegistry) Peek(key OutgoingKey) (protocol.TransferID, bool) {
	i := r.find(key)
	if i < 0 {
		return 0, false
	}
	return r.entries[i].next, true
}

// Cleanup drops entries whose deadline is before now and returns how many.
func (r *OutgoingRegistry) Cleanup(now protocol.MonotonicTime) int {
	removed := 0
	for i := range r.entries {
		e := &r.entries[i]
		if e.used && e.deadline < now {
			*e = outgoingEntry{}
			removed++
		}
	}
	r.size -= removed
	return removed
}

func (r *OutgoingRegistry) Len() int { return r.size }

func (r *OutgoingRegistry) Capacity() int { return len(r.entries) }

// Evictions counts entries pushed out by capacity pressure.
func (r *OutgoingRegistry) Evictions() uint64 { return r.evicted }
