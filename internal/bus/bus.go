// Package bus defines what the node needs from a CAN driver and a clock,
// plus a bounded rx queue and an in-memory driver used by tests and the demo node.
package bus

import (
	"errors"
	"fmt"

	"github.com/danmuck/uavbus/internal/protocol"
	"github.com/danmuck/uavbus/internal/protocol/frame"
)

var (
	ErrTxTimeout     = errors.New("bus: tx deadline passed")
	ErrNoSuchIface   = errors.New("bus: no such interface")
	ErrInvalidConfig = errors.New("bus: invalid driver config")
)

// RxCANFrame is a raw frame as received, stamped by the driver.
type RxCANFrame struct {
	Frame       frame.CANFrame
	TsMonotonic protocol.MonotonicTime
	TsUTC       protocol.UTCTime
	IfaceIndex  uint8
}

func (f RxCANFrame) String() string {
	return fmt.Sprintf("iface=%d mono=%d %s", f.IfaceIndex, f.TsMonotonic, f.Frame)
}

// Iface is one physical bus interface.
//
// Receive never blocks: ok is false when nothing is queued. A non-nil error
// is fatal for the interface.
type Iface interface {
	Receive() (f RxCANFrame, ok bool, err error)
	Send(f frame.CANFrame, deadline protocol.MonotonicTime) error
}

type Driver interface {
	NumIfaces() int
	Iface(i int) Iface
}

// Clock supplies microsecond timestamps.
type Clock interface {
	Monotonic() protocol.MonotonicTime
	UTC() protocol.UTCTime
}
