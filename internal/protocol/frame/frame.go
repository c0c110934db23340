package frame

import (
	"errors"
	"fmt"

	"github.com/danmuck/uavbus/internal/protocol"
)

const (
	MaxIndex             = 15
	MaxFramesPerTransfer = MaxIndex + 1
	// MaxPayloadLen is the CAN data field size.
	MaxPayloadLen = 8
	// MaxTransferPayloadLen bounds one reassembled transfer.
	MaxTransferPayloadLen = MaxFramesPerTransfer * MaxPayloadLen
)

var (
	ErrPayloadTooLarge  = errors.New("frame: payload exceeds frame capacity")
	ErrIndexOutOfRange  = errors.New("frame: frame index out of range")
	ErrBadDestination   = errors.New("frame: destination does not match transfer type")
	ErrBadSource        = errors.New("frame: invalid source node id")
	ErrBadDataType      = errors.New("frame: invalid data type id")
	ErrBadTransferType  = errors.New("frame: invalid transfer type")
	ErrTransferTooLarge = errors.New("frame: transfer exceeds max frames")
)

// Frame is one link-layer unit of a transfer.
type Frame struct {
	DataTypeID   protocol.DataTypeID
	TransferType protocol.TransferType
	SrcNodeID    protocol.NodeID
	DstNodeID    protocol.NodeID
	Index        uint8
	Last         bool
	TransferID   protocol.TransferID

	payload    [MaxPayloadLen]byte
	payloadLen uint8
}

// New builds a frame header without payload.
func New(
	dataTypeID protocol.DataTypeID,
	transferType protocol.TransferType,
	src, dst protocol.NodeID,
	index uint8,
	transferID protocol.TransferID,
	last bool,
) Frame {
	return Frame{
		DataTypeID:   dataTypeID,
		TransferType: transferType,
		SrcNodeID:    src,
		DstNodeID:    dst,
		Index:        index,
		Last:         last,
		TransferID:   transferID & protocol.TransferIDMax,
	}
}

// PayloadCapacity is 8 bytes for broadcast frames and 7 for addressed frames,
// whose first data byte carries the destination node id.
func (f *Frame) PayloadCapacity() int {
	if f.TransferType.IsAddressed() {
		return MaxPayloadLen - 1
	}
	return MaxPayloadLen
}

// SetPayload copies as much of p as fits and returns the number of bytes taken.
func (f *Frame) SetPayload(p []byte) int {
	n := copy(f.payload[:f.PayloadCapacity()], p)
	f.payloadLen = uint8(n)
	return n
}

func (f *Frame) Payload() []byte {
	return f.payload[:f.payloadLen]
}

func (f *Frame) PayloadLen() int { return int(f.payloadLen) }

// IsAnonymous reports a broadcast from an unaddressed node.
func (f *Frame) IsAnonymous() bool {
	return f.TransferType == protocol.TransferTypeMessageBroadcast && f.SrcNodeID == protocol.NodeIDBroadcast
}

func (f *Frame) IsSingleFrame() bool {
	return f.Index == 0 && f.Last
}

// Validate checks header field ranges and addressing consistency.
func (f *Frame) Validate() error {
	if !f.DataTypeID.IsValid() {
		return fmt.Errorf("%w: %d", ErrBadDataType, f.DataTypeID)
	}
	if !f.TransferType.IsValid() {
		return fmt.Errorf("%w: %d", ErrBadTransferType, f.TransferType)
	}
	if f.Index > MaxIndex {
		return fmt.Errorf("%w: %d", ErrIndexOutOfRange, f.Index)
	}
	if int(f.payloadLen) > f.PayloadCapacity() {
		return ErrPayloadTooLarge
	}
	if !f.SrcNodeID.IsValid() {
		return fmt.Errorf("%w: %d", ErrBadSource, f.SrcNodeID)
	}
	if f.TransferType.IsAddressed() {
		if !f.DstNodeID.IsUnicast() {
			return fmt.Errorf("%w: %s to %s", ErrBadDestination, f.TransferType, f.DstNodeID)
		}
		if !f.SrcNodeID.IsUnicast() || f.SrcNodeID == f.DstNodeID {
			return fmt.Errorf("%w: %s from %s", ErrBadSource, f.TransferType, f.SrcNodeID)
		}
	} else if !f.DstNodeID.IsBroadcast() {
		return fmt.Errorf("%w: broadcast to %s", ErrBadDestination, f.DstNodeID)
	}
	if f.IsAnonymous() && !f.IsSingleFrame() {
		return protocol.ErrAnonymousMultiFrame
	}
	return nil
}

func (f *Frame) String() string {
	return fmt.Sprintf(
		"dtid=%d tt=%s src=%s dst=%s idx=%d last=%t tid=%d len=%d",
		f.DataTypeID, f.TransferType, f.SrcNodeID, f.DstNodeID, f.Index, f.Last, f.TransferID, f.payloadLen,
	)
}

// RxFrame is a received frame with its arrival metadata. Treat as immutable.
type RxFrame struct {
	Frame
	tsMonotonic protocol.MonotonicTime
	tsUTC       protocol.UTCTime
	ifaceIndex  uint8
}

func NewRxFrame(f Frame, mono protocol.MonotonicTime, utc protocol.UTCTime, iface uint8) RxFrame {
	return RxFrame{Frame: f, tsMonotonic: mono, tsUTC: utc, ifaceIndex: iface}
}

func (f *RxFrame) MonotonicTimestamp() protocol.MonotonicTime { return f.tsMonotonic }

func (f *RxFrame) UTCTimestamp() protocol.UTCTime { return f.tsUTC }

func (f *RxFrame) IfaceIndex() uint8 { return f.ifaceIndex }

// Split cuts payload into consecutive frames of one transfer, appending them
// to dst. The header fields of base are copied into every frame.
func Split(dst []Frame, base Frame, payload []byte) ([]Frame, error) {
	capacity := base.PayloadCapacity()
	n := (len(payload) + capacity - 1) / capacity
	if n == 0 {
		n = 1
	}
	if n > MaxFramesPerTransfer {
		return dst, fmt.Errorf("%w: %d bytes need %d frames", ErrTransferTooLarge, len(payload), n)
	}
	if base.IsAnonymous() && n > 1 {
		return dst, protocol.ErrAnonymousMultiFrame
	}
	for i := 0; i < n; i++ {
		f := base
		f.Index = uint8(i)
		f.Last = i == n-1
		start := i * capacity
		end := min(start+capacity, len(payload))
		f.SetPayload(payload[start:end])
		dst = append(dst, f)
	}
	return dst, nil
}
