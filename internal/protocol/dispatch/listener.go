package dispatch

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/danmuck/uavbus/internal/protocol"
	"github.com/danmuck/uavbus/internal/protocol/frame"
	"github.com/danmuck/uavbus/internal/protocol/transfer"
)

// Handler consumes one completed transfer. A returned error counts as a
// listener failure. The transfer is released after HandleTransfer returns
// and must not be retained.
type Handler interface {
	HandleTransfer(t *transfer.Transfer) error
}

type HandlerFunc func(t *transfer.Transfer) error

func (f HandlerFunc) HandleTransfer(t *transfer.Transfer) error { return f(t) }

// TransferTypeMask selects the transfer types a listener accepts.
type TransferTypeMask uint8

func MaskOf(types ...protocol.TransferType) TransferTypeMask {
	var m TransferTypeMask
	for _, tt := range types {
		if tt.IsValid() {
			m |= 1 << tt
		}
	}
	return m
}

var (
	MaskMessages        = MaskOf(protocol.TransferTypeMessageBroadcast, protocol.TransferTypeMessageUnicast)
	MaskServiceRequest  = MaskOf(protocol.TransferTypeServiceRequest)
	MaskServiceResponse = MaskOf(protocol.TransferTypeServiceResponse)
)

func (m TransferTypeMask) Has(tt protocol.TransferType) bool {
	return tt.IsValid() && m&(1<<tt) != 0
}

func (m TransferTypeMask) String() string {
	var parts []string
	for tt := protocol.TransferType(0); tt < protocol.NumTransferTypes; tt++ {
		if m.Has(tt) {
			parts = append(parts, tt.String())
		}
	}
	return strings.Join(parts, "|")
}

// listClass partitions listeners the same way incoming frames are routed.
type listClass uint8

const (
	classMessage listClass = iota
	classServiceRequest
	classServiceResponse
	numClasses
)

func (c listClass) String() string {
	switch c {
	case classMessage:
		return "message"
	case classServiceRequest:
		return "service_request"
	default:
		return "service_response"
	}
}

func classOf(tt protocol.TransferType) listClass {
	switch tt {
	case protocol.TransferTypeServiceRequest:
		return classServiceRequest
	case protocol.TransferTypeServiceResponse:
		return classServiceResponse
	default:
		return classMessage
	}
}

// classOfMask returns the single class covered by m.
func classOfMask(m TransferTypeMask) (listClass, bool) {
	switch {
	case m == 0:
		return 0, false
	case m&^MaskMessages == 0:
		return classMessage, true
	case m == MaskServiceRequest:
		return classServiceRequest, true
	case m == MaskServiceResponse:
		return classServiceResponse, true
	default:
		return 0, false
	}
}

type Registration struct {
	DataTypeID    protocol.DataTypeID
	TransferTypes TransferTypeMask
	Handler       Handler
}

func (r Registration) String() string {
	return fmt.Sprintf("dtid=%d types=%s", r.DataTypeID, r.TransferTypes)
}

// anonRecord remembers the last anonymous transfer a listener accepted.
// Anonymous sources share node id 0 and have no receiver.
type anonRecord struct {
	valid      bool
	dtid       protocol.DataTypeID
	tt         protocol.TransferType
	tid        protocol.TransferID
	iface      uint8
	ts         protocol.MonotonicTime
	payload    [frame.MaxPayloadLen]byte
	payloadLen uint8
}

// isRedundantCopy reports whether f carries the recorded transfer on
// another interface within timeout.
func (a *anonRecord) isRedundantCopy(f *frame.RxFrame, timeout protocol.MonotonicDuration) bool {
	if !a.valid || f.IfaceIndex() == a.iface {
		return false
	}
	if f.DataTypeID != a.dtid || f.TransferType != a.tt || f.TransferID != a.tid {
		return false
	}
	if f.MonotonicTimestamp().Sub(a.ts) > timeout {
		return false
	}
	return bytes.Equal(f.Payload(), a.payload[:a.payloadLen])
}

func (a *anonRecord) remember(f *frame.RxFrame) {
	a.valid = true
	a.dtid = f.DataTypeID
	a.tt = f.TransferType
	a.tid = f.TransferID
	a.iface = f.IfaceIndex()
	a.ts = f.MonotonicTimestamp()
	a.payloadLen = uint8(copy(a.payload[:], f.Payload()))
}

// Listener is one registration plus a receiver per source node.
type Listener struct {
	reg       Registration
	class     listClass
	receivers [protocol.NumNodeIDs]transfer.Receiver
	anon      anonRecord
	failures  uint64
	active    bool
}

func (l *Listener) DataTypeID() protocol.DataTypeID { return l.reg.DataTypeID }

func (l *Listener) TransferTypes() TransferTypeMask { return l.reg.TransferTypes }

func (l *Listener) FailureCount() uint64 { return l.failures }

func (l *Listener) IsActive() bool { return l.active }

func (l *Listener) matches(dtid protocol.DataTypeID, tt protocol.TransferType) bool {
	return l.active && l.reg.DataTypeID == dtid && l.reg.TransferTypes.Has(tt)
}

func (l *Listener) releaseAll() {
	for i := range l.receivers {
		l.receivers[i].Reset()
	}
	l.anon = anonRecord{}
}
