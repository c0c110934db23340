package transfer

import (
	"errors"
	"io"

	"github.com/danmuck/uavbus/internal/protocol"
)

var ErrShortRead = errors.New("transfer: payload shorter than requested")

// Meta describes a completed transfer. Timestamps are those of its first frame.
type Meta struct {
	TsMonotonic  protocol.MonotonicTime
	TsUTC        protocol.UTCTime
	DataTypeID   protocol.DataTypeID
	TransferType protocol.TransferType
	TransferID   protocol.TransferID
	SrcNodeID    protocol.NodeID
	DstNodeID    protocol.NodeID
	IfaceIndex   uint8
}

// Transfer is a completed transfer payload, backed either by the single
// frame that carried it or by a receiver's Buffer.
type Transfer struct {
	Meta
	buf    *Buffer
	single []byte
}

func (t *Transfer) setSingle(meta Meta, payload []byte) {
	t.Meta = meta
	t.buf = nil
	t.single = payload
}

func (t *Transfer) setBuffer(meta Meta, buf *Buffer) {
	t.Meta = meta
	t.buf = buf
	t.single = nil
}

// NewSingleFrame wraps payload as a complete transfer that owns no blocks.
func NewSingleFrame(meta Meta, payload []byte) Transfer {
	var t Transfer
	t.setSingle(meta, payload)
	return t
}

func (t *Transfer) IsSingleFrame() bool { return t.buf == nil }

func (t *Transfer) Len() int {
	if t.buf != nil {
		return t.buf.Len()
	}
	return len(t.single)
}

func (t *Transfer) Read(offset int, dst []byte) int {
	if t.buf != nil {
		return t.buf.Read(offset, dst)
	}
	if offset < 0 || offset >= len(t.single) {
		return 0
	}
	return copy(dst, t.single[offset:])
}

// Release returns the backing blocks to the pool. The transfer is empty afterwards.
func (t *Transfer) Release() {
	if t.buf != nil {
		t.buf.Release()
		t.buf = nil
	}
	t.single = nil
}

// Reader reads a transfer sequentially.
type Reader struct {
	t   *Transfer
	off int
}

var _ io.Reader = (*Reader)(nil)

func NewReader(t *Transfer) Reader {
	return Reader{t: t}
}

func (r *Reader) Remaining() int {
	if r.t == nil {
		return 0
	}
	return r.t.Len() - r.off
}

func (r *Reader) Read(p []byte) (int, error) {
	if r.Remaining() <= 0 {
		return 0, io.EOF
	}
	n := r.t.Read(r.off, p)
	r.off += n
	return n, nil
}

// ReadFull fills p or fails with ErrShortRead without consuming anything.
func (r *Reader) ReadFull(p []byte) error {
	if r.Remaining() < len(p) {
		return ErrShortRead
	}
	r.off += r.t.Read(r.off, p)
	return nil
}

func (r *Reader) ReadByte() (byte, error) {
	var b [1]byte
	if err := r.ReadFull(b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}
