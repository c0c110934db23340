package frame

import (
	"errors"
	"fmt"

	"github.com/danmuck/uavbus/internal/protocol"
)

// CAN identifier flags, SocketCAN compatible.
const (
	CANFlagEFF uint32 = 1 << 31
	CANFlagRTR uint32 = 1 << 30
	CANFlagERR uint32 = 1 << 29
	CANMaskEFF uint32 = 0x1FFFFFFF
)

// 29-bit identifier layout, LSB first.
const (
	offsetDataTypeID   = 0
	offsetTransferType = 11
	offsetSrcNodeID    = 13
	offsetIndex        = 20
	offsetLast         = 24
	offsetTransferID   = 25
	bitReserved        = 1 << 28
)

var (
	ErrNotExtended  = errors.New("frame: not an extended data frame")
	ErrReservedBit  = errors.New("frame: reserved id bit set")
	ErrMissingDstID = errors.New("frame: addressed frame without destination byte")
	ErrBadDLC       = errors.New("frame: invalid data length")
)

// CANFrame is a raw extended CAN data frame.
type CANFrame struct {
	ID   uint32
	Data [MaxPayloadLen]byte
	DLC  uint8
}

func (c CANFrame) String() string {
	return fmt.Sprintf("%08x#% x", c.ID&CANMaskEFF, c.Data[:min(int(c.DLC), MaxPayloadLen)])
}

// Compile lays f out on the wire.
func (f *Frame) Compile() (CANFrame, error) {
	if err := f.Validate(); err != nil {
		return CANFrame{}, err
	}
	var c CANFrame
	c.ID = CANFlagEFF |
		uint32(f.DataTypeID)<<offsetDataTypeID |
		uint32(f.TransferType)<<offsetTransferType |
		uint32(f.SrcNodeID)<<offsetSrcNodeID |
		uint32(f.Index)<<offsetIndex |
		uint32(f.TransferID&protocol.TransferIDMax)<<offsetTransferID
	if f.Last {
		c.ID |= 1 << offsetLast
	}
	data := c.Data[:]
	if f.TransferType.IsAddressed() {
		data[0] = byte(f.DstNodeID)
		data = data[1:]
		c.DLC = 1
	}
	c.DLC += uint8(copy(data, f.Payload()))
	return c, nil
}

// Parse decodes a raw CAN frame and validates the result.
func Parse(c CANFrame) (Frame, error) {
	if c.ID&CANFlagEFF == 0 || c.ID&(CANFlagRTR|CANFlagERR) != 0 {
		return Frame{}, ErrNotExtended
	}
	if c.DLC > MaxPayloadLen {
		return Frame{}, fmt.Errorf("%w: %d", ErrBadDLC, c.DLC)
	}
	id := c.ID & CANMaskEFF
	if id&bitReserved != 0 {
		return Frame{}, ErrReservedBit
	}
	f := Frame{
		DataTypeID:   protocol.DataTypeID(id >> offsetDataTypeID & 0x7FF),
		TransferType: protocol.TransferType(id >> offsetTransferType & 0x3),
		SrcNodeID:    protocol.NodeID(id >> offsetSrcNodeID & 0x7F),
		Index:        uint8(id >> offsetIndex & 0xF),
		Last:         id>>offsetLast&1 == 1,
		TransferID:   protocol.TransferID(id >> offsetTransferID & 0x7),
		DstNodeID:    protocol.NodeIDBroadcast,
	}
	data := c.Data[:c.DLC]
	if f.TransferType.IsAddressed() {
		if len(data) == 0 {
			return Frame{}, ErrMissingDstID
		}
		f.DstNodeID = protocol.NodeID(data[0] & 0x7F)
		data = data[1:]
	}
	f.SetPayload(data)
	if err := f.Validate(); err != nil {
		return Frame{}, err
	}
	return f, nil
}
