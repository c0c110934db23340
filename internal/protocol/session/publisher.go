package session

import (
	"fmt"

	"github.com/danmuck/uavbus/internal/dtype"
	"github.com/danmuck/uavbus/internal/protocol"
	"github.com/danmuck/uavbus/internal/protocol/frame"
)

// Publisher encodes and sends messages of one data type.
type Publisher[T any] struct {
	node    Node
	typ     dtype.Type[T]
	cfg     Config
	scratch [frame.MaxTransferPayloadLen]byte
	frames  [frame.MaxFramesPerTransfer]frame.Frame
}

func NewPublisher[T any](node Node, typ dtype.Type[T], cfg Config) (*Publisher[T], error) {
	if typ.Codec == nil || typ.Kind != dtype.KindMessage {
		return nil, fmt.Errorf("%w: %s is not a message type with a codec", protocol.ErrInvalidRegistration, typ.Descriptor)
	}
	if !node.DataTypes().Contains(typ.Descriptor) {
		return nil, fmt.Errorf("%w: %s", protocol.ErrUnknownDataType, typ.Descriptor)
	}
	return &Publisher[T]{node: node, typ: typ, cfg: cfg.WithDefaults()}, nil
}

// Broadcast sends msg to every node.
func (p *Publisher[T]) Broadcast(msg *T) error {
	return p.publish(msg, protocol.TransferTypeMessageBroadcast, protocol.NodeIDBroadcast)
}

// Unicast sends msg to dst. Anonymous nodes cannot send unicast.
func (p *Publisher[T]) Unicast(msg *T, dst protocol.NodeID) error {
	self := p.node.Dispatcher().SelfNodeID()
	if !dst.IsUnicast() || dst == self || self.IsBroadcast() {
		return fmt.Errorf("%w: unicast %s -> %s", protocol.ErrInvalidNodeID, self, dst)
	}
	return p.publish(msg, protocol.TransferTypeMessageUnicast, dst)
}

func (p *Publisher[T]) publish(msg *T, tt protocol.TransferType, dst protocol.NodeID) error {
	n, err := p.typ.Codec.Encode(msg, p.scratch[:])
	if err != nil {
		return fmt.Errorf("%w: %s: %w", protocol.ErrEncode, p.typ.FullName, err)
	}
	self := p.node.Dispatcher().SelfNodeID()
	if self.IsBroadcast() && n > frame.MaxPayloadLen {
		return fmt.Errorf("%w: %d bytes", protocol.ErrAnonymousMultiFrame, n)
	}

	// split before taking a transfer id so a payload that does not fit
	// leaves the stream counter untouched
	base := frame.New(p.typ.ID, tt, self, dst, 0, 0, false)
	frames, err := frame.Split(p.frames[:0], base, p.scratch[:n])
	if err != nil {
		return fmt.Errorf("%w: %s: %w", protocol.ErrEncode, p.typ.FullName, err)
	}

	now := p.node.MonotonicTime()
	key := OutgoingKey{DstNodeID: dst, DataTypeID: p.typ.ID, TransferType: tt}
	keepAlive := protocol.DurationOf(p.cfg.TransferIDKeepAlive)
	tid := p.node.OutgoingTransferRegistry().Next(key, now.Add(keepAlive))
	for i := range frames {
		frames[i].TransferID = tid
	}
	return p.node.Send(frames, now.Add(protocol.DurationOf(p.cfg.TxTimeout)))
}
