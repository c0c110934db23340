package transfer

import (
	"github.com/danmuck/uavbus/internal/pool"
	"github.com/danmuck/uavbus/internal/protocol"
	"github.com/danmuck/uavbus/internal/protocol/frame"
)

// MaxBlocks is enough for a maximum-size transfer in minimum-size blocks.
const MaxBlocks = frame.MaxTransferPayloadLen / pool.MinBlockSize

// Buffer accumulates a transfer payload in pool blocks.
type Buffer struct {
	alloc     pool.Allocator
	blocks    [MaxBlocks]pool.Block
	numBlocks int
	capacity  int
	length    int
}

// Reset binds the buffer to alloc, releasing anything it still holds.
func (b *Buffer) Reset(alloc pool.Allocator) {
	b.Release()
	b.alloc = alloc
}

// Append writes p after the current end. On failure the logical length is
// unchanged; blocks obtained during the call stay in the chain until Release.
func (b *Buffer) Append(p []byte) error {
	if b.length+len(p) > frame.MaxTransferPayloadLen {
		return protocol.ErrTransferTooLarge
	}
	pos := b.length
	for len(p) > 0 {
		if pos == b.capacity {
			if err := b.grow(); err != nil {
				return err
			}
		}
		blk, off := b.locate(pos)
		n := copy(blk[off:], p)
		p = p[n:]
		pos += n
	}
	b.length = pos
	return nil
}

func (b *Buffer) grow() error {
	if b.alloc == nil || b.numBlocks == MaxBlocks {
		return protocol.ErrPoolExhausted
	}
	blk, ok := b.alloc.Allocate(pool.MinBlockSize)
	if !ok {
		return protocol.ErrPoolExhausted
	}
	b.blocks[b.numBlocks] = blk
	b.numBlocks++
	b.capacity += len(b.alloc.Bytes(blk))
	return nil
}

// locate returns the block storage containing offset and the offset within it.
func (b *Buffer) locate(offset int) ([]byte, int) {
	for i := 0; i < b.numBlocks; i++ {
		data := b.alloc.Bytes(b.blocks[i])
		if offset < len(data) {
			return data, offset
		}
		offset -= len(data)
	}
	return nil, 0
}

// Read copies up to len(dst) bytes starting at offset and returns the count.
func (b *Buffer) Read(offset int, dst []byte) int {
	if offset < 0 || offset >= b.length {
		return 0
	}
	want := min(len(dst), b.length-offset)
	n := 0
	for n < want {
		blk, off := b.locate(offset + n)
		n += copy(dst[n:want], blk[off:])
	}
	return n
}

func (b *Buffer) Len() int { return b.length }

func (b *Buffer) NumBlocks() int { return b.numBlocks }

// Release returns every block to the allocator. Safe to call repeatedly.
func (b *Buffer) Release() {
	for i := 0; i < b.numBlocks; i++ {
		_ = b.alloc.Release(b.blocks[i])
		b.blocks[i] = pool.Block{}
	}
	b.numBlocks = 0
	b.capacity = 0
	b.length = 0
}
