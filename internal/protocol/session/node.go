package session

import (
	"github.com/danmuck/uavbus/internal/dtype"
	"github.com/danmuck/uavbus/internal/protocol"
	"github.com/danmuck/uavbus/internal/protocol/dispatch"
	"github.com/danmuck/uavbus/internal/protocol/frame"
)

// Node is the part of a running node that session handles depend on.
type Node interface {
	Dispatcher() *dispatch.Dispatcher
	DataTypes() *dtype.Registry
	OutgoingTransferRegistry() *OutgoingRegistry
	MonotonicTime() protocol.MonotonicTime
	// Send transmits the frames of one transfer, in order, on every interface.
	Send(frames []frame.Frame, deadline protocol.MonotonicTime) error
}
