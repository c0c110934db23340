package transfer

import (
	"github.com/danmuck/uavbus/internal/pool"
	"github.com/danmuck/uavbus/internal/protocol"
	"github.com/danmuck/uavbus/internal/protocol/frame"
)

// DefaultTimeout is how long a source may stay silent before any transfer id
// it sends is accepted as a fresh start.
const DefaultTimeout = 2 * protocol.Second

// Result is the per-frame outcome reported by a Receiver.
type Result uint8

const (
	ResultNotComplete Result = iota
	ResultComplete
	// ResultDiscarded covers stale, duplicate and redundant-interface frames.
	ResultDiscarded
	ResultFailed
)

func (r Result) String() string {
	switch r {
	case ResultNotComplete:
		return "not_complete"
	case ResultComplete:
		return "complete"
	case ResultDiscarded:
		return "discarded"
	case ResultFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Receiver reassembles transfers from one source node for one listener.
// The zero value is Idle and ready for use.
type Receiver struct {
	buf          Buffer
	startMono    protocol.MonotonicTime
	startUTC     protocol.UTCTime
	lastActivity protocol.MonotonicTime
	tid          protocol.TransferID
	nextIndex    uint8
	iface        uint8
	hasTID       bool
	inProgress   bool
}

// Accept feeds one frame through the state machine. On ResultComplete out
// holds the transfer and the caller must Release it. On ResultFailed the
// returned error names the reason.
//
// A new transfer must begin at frame index 0. Its first frame with any other
// index fails with protocol.ErrFrameOrder instead of resynchronising on that
// index, so a listener that starts mid-transfer records one failure and
// picks up from the next transfer.
func (r *Receiver) Accept(f *frame.RxFrame, alloc pool.Allocator, timeout protocol.MonotonicDuration, out *Transfer) (Result, error) {
	now := f.MonotonicTimestamp()
	if r.startsNewTransfer(f, now, timeout) {
		r.begin(f, alloc)
	} else if !r.inProgress || f.TransferID != r.tid || f.IfaceIndex() != r.iface {
		return ResultDiscarded, nil
	}
	r.lastActivity = now

	if f.Index != r.nextIndex {
		r.abort()
		return ResultFailed, protocol.ErrFrameOrder
	}

	meta := Meta{
		TsMonotonic:  r.startMono,
		TsUTC:        r.startUTC,
		DataTypeID:   f.DataTypeID,
		TransferType: f.TransferType,
		TransferID:   r.tid,
		SrcNodeID:    f.SrcNodeID,
		DstNodeID:    f.DstNodeID,
		IfaceIndex:   r.iface,
	}

	if f.IsSingleFrame() {
		r.inProgress = false
		out.setSingle(meta, f.Payload())
		return ResultComplete, nil
	}

	if err := r.buf.Append(f.Payload()); err != nil {
		r.abort()
		return ResultFailed, err
	}
	r.nextIndex++

	if f.Last {
		r.inProgress = false
		out.setBuffer(meta, &r.buf)
		return ResultComplete, nil
	}
	return ResultNotComplete, nil
}

func (r *Receiver) startsNewTransfer(f *frame.RxFrame, now protocol.MonotonicTime, timeout protocol.MonotonicDuration) bool {
	switch {
	case !r.hasTID:
		return true
	case f.TransferID.IsNewerThan(r.tid):
		return true
	case timeout > 0 && now.Sub(r.lastActivity) > timeout:
		return true
	default:
		return false
	}
}

func (r *Receiver) begin(f *frame.RxFrame, alloc pool.Allocator) {
	r.buf.Reset(alloc)
	r.tid = f.TransferID
	r.hasTID = true
	r.nextIndex = 0
	r.iface = f.IfaceIndex()
	r.startMono = f.MonotonicTimestamp()
	r.startUTC = f.UTCTimestamp()
	r.inProgress = true
}

// abort drops the in-progress transfer but remembers its id, so the rest of
// its frames are discarded instead of failing again.
func (r *Receiver) abort() {
	r.buf.Release()
	r.inProgress = false
}

// Cleanup aborts a transfer that stalled past timeout and reports whether it did.
func (r *Receiver) Cleanup(now protocol.MonotonicTime, timeout protocol.MonotonicDuration) bool {
	if !r.inProgress || now.Sub(r.lastActivity) <= timeout {
		return false
	}
	r.abort()
	return true
}

// Reset releases any buffer and forgets the tracked transfer id.
func (r *Receiver) Reset() {
	r.buf.Release()
	*r = Receiver{}
}

func (r *Receiver) InProgress() bool { return r.inProgress }

// TransferID returns the tracked transfer id and whether one was ever seen.
func (r *Receiver) TransferID() (protocol.TransferID, bool) { return r.tid, r.hasTID }

func (r *Receiver) LastActivity() protocol.MonotonicTime { return r.lastActivity }
