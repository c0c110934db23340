package pool

import (
	"errors"
	"fmt"
)

// MaxPools bounds how many pools one Manager aggregates.
const MaxPools = 4

var (
	ErrTooManyPools = errors.New("pool: manager is full")
	ErrNilPool      = errors.New("pool: nil pool")
	ErrPoolAttached = errors.New("pool: pool already attached to a manager")
)

// Allocator is the block source used by transfer buffers.
type Allocator interface {
	Allocate(size int) (Block, bool)
	Release(b Block) error
	Bytes(b Block) []byte
}

// Manager services size-classed allocations from a fixed set of pools.
type Manager struct {
	pools    [MaxPools]*Pool
	numPools int
}

var _ Allocator = (*Manager)(nil)

func NewManager(pools ...*Pool) (*Manager, error) {
	m := &Manager{}
	for _, p := range pools {
		if err := m.AddPool(p); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// AddPool appends p to the scan order. A pool belongs to at most one manager.
func (m *Manager) AddPool(p *Pool) error {
	if p == nil {
		return ErrNilPool
	}
	if m.numPools >= MaxPools {
		return fmt.Errorf("%w: max %d", ErrTooManyPools, MaxPools)
	}
	if p.attached {
		return ErrPoolAttached
	}
	p.attached = true
	p.index = uint8(m.numPools)
	m.pools[m.numPools] = p
	m.numPools++
	return nil
}

// Allocate returns a block from the first pool whose block size fits and
// whose free list is non-empty. ok is false when none is available.
func (m *Manager) Allocate(size int) (Block, bool) {
	for i := 0; i < m.numPools; i++ {
		p := m.pools[i]
		if p.blockSize < size {
			continue
		}
		if b, ok := p.Allocate(); ok {
			return b, true
		}
	}
	return Block{}, false
}

func (m *Manager) Release(b Block) error {
	p := m.owner(b)
	if p == nil {
		return ErrForeignBlock
	}
	return p.Release(b)
}

func (m *Manager) Bytes(b Block) []byte {
	p := m.owner(b)
	if p == nil {
		return nil
	}
	return p.Bytes(b)
}

func (m *Manager) owner(b Block) *Pool {
	if !b.valid || int(b.pool) >= m.numPools {
		return nil
	}
	return m.pools[b.pool]
}

func (m *Manager) NumPools() int { return m.numPools }

func (m *Manager) Pool(i int) *Pool {
	if i < 0 || i >= m.numPools {
		return nil
	}
	return m.pools[i]
}

// NumFree sums free blocks across all pools.
func (m *Manager) NumFree() int {
	n := 0
	for i := 0; i < m.numPools; i++ {
		n += m.pools[i].free
	}
	return n
}

func (m *Manager) NumUsed() int {
	n := 0
	for i := 0; i < m.numPools; i++ {
		n += m.pools[i].NumUsed()
	}
	return n
}

// Stats is a point-in-time usage snapshot of one pool.
type Stats struct {
	Index     int `json:"index"`
	BlockSize int `json:"block_size"`
	Capacity  int `json:"capacity"`
	Free      int `json:"free"`
	PeakUsed  int `json:"peak_used"`
}

// Stats appends one snapshot per pool to dst and returns it.
func (m *Manager) Stats(dst []Stats) []Stats {
	for i := 0; i < m.numPools; i++ {
		p := m.pools[i]
		dst = append(dst, Stats{
			Index:     i,
			BlockSize: p.blockSize,
			Capacity:  p.Capacity(),
			Free:      p.free,
			PeakUsed:  p.peak,
		})
	}
	return dst
}
