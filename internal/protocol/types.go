package protocol

import (
	"fmt"
	"time"
)

// NodeID is a 7-bit bus address. Zero is the broadcast/anonymous address.
type NodeID uint8

const (
	NodeIDBroadcast NodeID = 0
	NodeIDMax       NodeID = 127
	NumNodeIDs             = int(NodeIDMax) + 1
)

func (n NodeID) IsBroadcast() bool { return n == NodeIDBroadcast }

// IsUnicast reports whether n addresses exactly one node.
func (n NodeID) IsUnicast() bool { return n > NodeIDBroadcast && n <= NodeIDMax }

func (n NodeID) IsValid() bool { return n <= NodeIDMax }

func (n NodeID) String() string {
	if n == NodeIDBroadcast {
		return "broadcast"
	}
	return fmt.Sprintf("%d", uint8(n))
}

// DataTypeID identifies a message or service type on the wire (11 bits).
type DataTypeID uint16

const DataTypeIDMax DataTypeID = 2047

func (id DataTypeID) IsValid() bool { return id <= DataTypeIDMax }

// TransferType is the 2-bit addressing mode of a transfer.
type TransferType uint8

const (
	TransferTypeServiceResponse TransferType = iota
	TransferTypeServiceRequest
	TransferTypeMessageBroadcast
	TransferTypeMessageUnicast
	NumTransferTypes
)

func (t TransferType) IsValid() bool { return t < NumTransferTypes }

// IsAddressed reports whether frames of this type carry a destination node id.
func (t TransferType) IsAddressed() bool { return t != TransferTypeMessageBroadcast }

func (t TransferType) IsMessage() bool {
	return t == TransferTypeMessageBroadcast || t == TransferTypeMessageUnicast
}

func (t TransferType) String() string {
	switch t {
	case TransferTypeServiceResponse:
		return "service_response"
	case TransferTypeServiceRequest:
		return "service_request"
	case TransferTypeMessageBroadcast:
		return "message_broadcast"
	case TransferTypeMessageUnicast:
		return "message_unicast"
	default:
		return fmt.Sprintf("transfer_type(%d)", uint8(t))
	}
}

// TransferID is a wrapping 3-bit transfer sequence number.
type TransferID uint8

const (
	TransferIDBitLen = 3
	TransferIDMax    = TransferID(1<<TransferIDBitLen - 1)
	transferIDSpan   = int(TransferIDMax) + 1
)

// NewTransferID truncates v to the transfer id width.
func NewTransferID(v uint8) TransferID {
	return TransferID(v) & TransferIDMax
}

func (id TransferID) Next() TransferID {
	return (id + 1) & TransferIDMax
}

// ForwardDistance is the number of increments needed to reach other from id.
func (id TransferID) ForwardDistance(other TransferID) int {
	d := int(other&TransferIDMax) - int(id&TransferIDMax)
	if d < 0 {
		d += transferIDSpan
	}
	return d
}

// IsNewerThan reports whether id follows prev by less than half the id space.
// Equal ids and ids exactly half the space away are not newer.
func (id TransferID) IsNewerThan(prev TransferID) bool {
	d := prev.ForwardDistance(id)
	return d > 0 && d < transferIDSpan/2
}

// MonotonicTime is a steady microsecond timestamp.
type MonotonicTime uint64

// UTCTime is a wall-clock microsecond timestamp, used for message timestamping only.
type UTCTime uint64

// MonotonicDuration is a span of monotonic microseconds.
type MonotonicDuration int64

const (
	Microsecond MonotonicDuration = 1
	Millisecond                   = 1000 * Microsecond
	Second                        = 1000 * Millisecond
)

func (t MonotonicTime) Add(d MonotonicDuration) MonotonicTime {
	return MonotonicTime(int64(t) + int64(d))
}

// Sub returns t-u.
func (t MonotonicTime) Sub(u MonotonicTime) MonotonicDuration {
	return MonotonicDuration(int64(t) - int64(u))
}

func (t MonotonicTime) IsZero() bool { return t == 0 }

// DurationOf converts a time.Duration to monotonic microseconds.
func DurationOf(d time.Duration) MonotonicDuration {
	return MonotonicDuration(d / time.Microsecond)
}

func (d MonotonicDuration) Duration() time.Duration {
	return time.Duration(d) * time.Microsecond
}
