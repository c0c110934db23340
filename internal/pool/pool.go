// Package pool provides fixed-block allocators backing every transfer buffer.
//
// A Pool owns one preallocated arena split into equal blocks and an index
// free list; allocation and release are O(1) and never touch the heap. A
// Manager aggregates a small fixed set of pools and serves size-classed
// requests from the first pool that fits.
package pool

import (
	"errors"
	"fmt"
)

// MinBlockSize is the smallest block a pool may hand out (one frame payload).
const MinBlockSize = 8

var (
	ErrInvalidBlockSize = errors.New("pool: block size below minimum")
	ErrInvalidCapacity  = errors.New("pool: invalid block count")
	ErrForeignBlock     = errors.New("pool: block does not belong to pool")
	ErrDoubleRelease    = errors.New("pool: block already released")
)

const noBlock int32 = -1

// Pool is a fixed array of equal-sized blocks with a free list.
type Pool struct {
	blockSize int
	arena     []byte
	next      []int32
	used      []bool
	head      int32
	free      int
	peak      int
	index     uint8
	attached  bool
}

// New allocates the arena up front; nothing is allocated afterwards.
func New(blockSize, numBlocks int) (*Pool, error) {
	if blockSize < MinBlockSize {
		return nil, fmt.Errorf("%w: %d < %d", ErrInvalidBlockSize, blockSize, MinBlockSize)
	}
	if numBlocks <= 0 || numBlocks > 1<<16 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCapacity, numBlocks)
	}
	p := &Pool{
		blockSize: blockSize,
		arena:     make([]byte, blockSize*numBlocks),
		next:      make([]int32, numBlocks),
		used:      make([]bool, numBlocks),
		free:      numBlocks,
	}
	for i := range p.next {
		p.next[i] = int32(i + 1)
	}
	p.next[numBlocks-1] = noBlock
	p.head = 0
	return p, nil
}

// Allocate pops the free list. ok is false when the pool is exhausted.
func (p *Pool) Allocate() (Block, bool) {
	if p.head == noBlock {
		return Block{}, false
	}
	i := p.head
	p.head = p.next[i]
	p.next[i] = noBlock
	p.used[i] = true
	p.free--
	if u := p.Capacity() - p.free; u > p.peak {
		p.peak = u
	}
	return Block{pool: p.index, index: uint16(i), valid: true}, true
}

// Release pushes b back onto the free list.
func (p *Pool) Release(b Block) error {
	if !b.valid || b.pool != p.index || int(b.index) >= len(p.next) {
		return ErrForeignBlock
	}
	i := int32(b.index)
	if !p.used[i] {
		return ErrDoubleRelease
	}
	clear(p.block(i))
	p.used[i] = false
	p.next[i] = p.head
	p.head = i
	p.free++
	return nil
}

// Bytes returns the storage of b. The slice aliases the arena.
func (p *Pool) Bytes(b Block) []byte {
	if !b.valid || b.pool != p.index || int(b.index) >= len(p.next) {
		return nil
	}
	return p.block(int32(b.index))
}

func (p *Pool) block(i int32) []byte {
	off := int(i) * p.blockSize
	return p.arena[off : off+p.blockSize : off+p.blockSize]
}

func (p *Pool) BlockSize() int { return p.blockSize }

func (p *Pool) Capacity() int { return len(p.next) }

func (p *Pool) NumFree() int { return p.free }

func (p *Pool) NumUsed() int { return p.Capacity() - p.free }

// PeakUsed is the high-water mark of simultaneously allocated blocks.
func (p *Pool) PeakUsed() int { return p.peak }

// Block is a handle to one pool block: a pool slot and an index, never a pointer.
type Block struct {
	pool  uint8
	index uint16
	valid bool
}

func (b Block) IsValid() bool { return b.valid }

func (b Block) String() string {
	if !b.valid {
		return "block(none)"
	}
	return fmt.Sprintf("block(%d:%d)", b.pool, b.index)
}
