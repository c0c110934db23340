package session

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/uavbus/internal/dtype"
	"github.com/danmuck/uavbus/internal/protocol"
	"github.com/danmuck/uavbus/internal/protocol/dispatch"
	"github.com/danmuck/uavbus/internal/protocol/transfer"
)

// Subscriber delivers messages of one data type to a handler.
type Subscriber[T any] struct {
	node     Node
	typ      dtype.Type[T]
	handler  Handler[T]
	listener *dispatch.Listener
	// failures of listeners retired by Stop
	retired uint64
	msg     Received[T]
}

var _ dispatch.Handler = (*Subscriber[struct{}])(nil)

func NewSubscriber[T any](node Node, typ dtype.Type[T]) (*Subscriber[T], error) {
	if typ.Codec == nil || typ.Kind != dtype.KindMessage {
		return nil, fmt.Errorf("%w: %s is not a message type with a codec", protocol.ErrInvalidRegistration, typ.Descriptor)
	}
	if !node.DataTypes().Contains(typ.Descriptor) {
		return nil, fmt.Errorf("%w: %s", protocol.ErrUnknownDataType, typ.Descriptor)
	}
	return &Subscriber[T]{node: node, typ: typ}, nil
}

// Start registers the subscriber with h. Starting an active subscriber
// only swaps the handler.
func (s *Subscriber[T]) Start(h Handler[T]) error {
	if h.IsNil() {
		return protocol.ErrInvalidCallback
	}
	if s.listener != nil {
		s.handler = h
		return nil
	}
	l, err := s.node.Dispatcher().Subscribe(dispatch.Registration{
		DataTypeID:    s.typ.ID,
		TransferTypes: dispatch.MaskMessages,
		Handler:       s,
	})
	if err != nil {
		return err
	}
	s.handler = h
	s.listener = l
	log.Debug().Str("type", s.typ.FullName).Msg("session.Subscriber.Start")
	return nil
}

// Stop unregisters the subscriber. No callback fires afterwards.
func (s *Subscriber[T]) Stop() {
	if s.listener == nil {
		return
	}
	s.node.Dispatcher().Unsubscribe(s.listener)
	s.retired += s.listener.FailureCount()
	s.listener = nil
	log.Debug().Str("type", s.typ.FullName).Msg("session.Subscriber.Stop")
}

func (s *Subscriber[T]) IsActive() bool { return s.listener != nil }

// FailureCount counts decode and reassembly failures since creation.
func (s *Subscriber[T]) FailureCount() uint64 {
	n := s.retired
	if s.listener != nil {
		n += s.listener.FailureCount()
	}
	return n
}

func (s *Subscriber[T]) Type() dtype.Descriptor { return s.typ.Descriptor }

// HandleTransfer decodes t and invokes the handler. Called by the dispatcher.
func (s *Subscriber[T]) HandleTransfer(t *transfer.Transfer) error {
	var zero T
	s.msg.Msg = zero
	s.msg.Meta = t.Meta
	r := transfer.NewReader(t)
	if err := s.typ.Codec.Decode(&r, &s.msg.Msg); err != nil {
		return fmt.Errorf("%w: %s from %s: %w", protocol.ErrDecode, s.typ.FullName, t.SrcNodeID, err)
	}
	s.handler.call(&s.msg)
	return nil
}
