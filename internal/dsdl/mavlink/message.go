// Package mavlink is the MAVLink tunnel message carried over the bus.
//
// Layout: uint8 seq, uint8 sysid, uint8 compid, uint8 msgid, uint8[<256] payload.
// The payload is the tail array and takes every remaining byte of the transfer.
package mavlink

import (
	"errors"
	"fmt"

	"github.com/danmuck/uavbus/internal/dtype"
	"github.com/danmuck/uavbus/internal/protocol"
	"github.com/danmuck/uavbus/internal/protocol/transfer"
)

const (
	DefaultDataTypeID protocol.DataTypeID = 1
	FullName                              = "mavlink.Message"
	MaxPayloadLen                         = 255
	headerLen                             = 4
)

var (
	ErrShortMessage    = errors.New("mavlink: message shorter than header")
	ErrPayloadTooLarge = errors.New("mavlink: payload too large")
	ErrBufferTooSmall  = errors.New("mavlink: encode buffer too small")
)

type Message struct {
	Seq     uint8
	SysID   uint8
	CompID  uint8
	MsgID   uint8
	payload [MaxPayloadLen]byte
	n       uint8
}

// SetPayload replaces the payload, truncating at MaxPayloadLen.
func (m *Message) SetPayload(p []byte) {
	m.n = uint8(copy(m.payload[:], p))
	clear(m.payload[m.n:])
}

func (m *Message) Payload() []byte { return m.payload[:m.n] }

func (m *Message) String() string {
	return fmt.Sprintf("seq=%d sysid=%d compid=%d msgid=%d payload=%q", m.Seq, m.SysID, m.CompID, m.MsgID, m.Payload())
}

// Descriptor is the default wire identity of Message.
var Descriptor = dtype.Descriptor{
	ID:       DefaultDataTypeID,
	Kind:     dtype.KindMessage,
	FullName: FullName,
}

// Type binds Message to its codec.
var Type = dtype.Type[Message]{
	Descriptor: Descriptor,
	Codec:      Codec{},
}

// Register adds Message to r.
func Register(r *dtype.Registry) error {
	return r.Register(Descriptor)
}

type Codec struct{}

var _ dtype.Codec[Message] = Codec{}

func (Codec) Decode(r *transfer.Reader, out *Message) error {
	var head [headerLen]byte
	if err := r.ReadFull(head[:]); err != nil {
		return ErrShortMessage
	}
	rest := r.Remaining()
	if rest > MaxPayloadLen {
		return ErrPayloadTooLarge
	}
	out.Seq, out.SysID, out.CompID, out.MsgID = head[0], head[1], head[2], head[3]
	if err := r.ReadFull(out.payload[:rest]); err != nil {
		return err
	}
	out.n = uint8(rest)
	clear(out.payload[rest:])
	return nil
}

func (Codec) Encode(msg *Message, dst []byte) (int, error) {
	need := headerLen + int(msg.n)
	if len(dst) < need {
		return 0, fmt.Errorf("%w: need %d have %d", ErrBufferTooSmall, need, len(dst))
	}
	dst[0], dst[1], dst[2], dst[3] = msg.Seq, msg.SysID, msg.CompID, msg.MsgID
	copy(dst[headerLen:], msg.Payload())
	return need, nil
}
