// Package dispatch routes received frames to listeners and runs per-source
// transfer reassembly for each of them.
package dispatch

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/uavbus/internal/pool"
	"github.com/danmuck/uavbus/internal/protocol"
	"github.com/danmuck/uavbus/internal/protocol/frame"
	"github.com/danmuck/uavbus/internal/protocol/transfer"
)

var ErrNilAllocator = errors.New("dispatch: nil allocator")

// Metrics receives dispatch outcomes. *observability.TransportMetrics
// implements it, including as a nil pointer.
type Metrics interface {
	InvalidFrame()
	TransferCompleted()
	TransferFailed(err error)
}

type noMetrics struct{}

func (noMetrics) InvalidFrame()          {}
func (noMetrics) TransferCompleted()     {}
func (noMetrics) TransferFailed(_ error) {}

type Config struct {
	SelfNodeID      protocol.NodeID
	Allocator       pool.Allocator
	TransferTimeout protocol.MonotonicDuration
	Metrics         Metrics
}

// Stats are cumulative frame and transfer outcomes.
type Stats struct {
	Frames    uint64 `json:"frames"`
	Invalid   uint64 `json:"invalid"`
	NotForUs  uint64 `json:"not_for_us"`
	Unmatched uint64 `json:"unmatched"`
	Completed uint64 `json:"completed"`
	Failed    uint64 `json:"failed"`
	Discarded uint64 `json:"discarded"`
	Stalled   uint64 `json:"stalled"`
}

// Dispatcher owns every listener. It is not safe for concurrent use; all
// calls happen on the spin goroutine.
type Dispatcher struct {
	self    protocol.NodeID
	alloc   pool.Allocator
	timeout protocol.MonotonicDuration
	metrics Metrics

	lists       [numClasses][]*Listener
	count       int
	dispatching int
	dirty       bool
	stats       Stats
}

func New(cfg Config) (*Dispatcher, error) {
	if cfg.Allocator == nil {
		return nil, ErrNilAllocator
	}
	if !cfg.SelfNodeID.IsValid() {
		return nil, fmt.Errorf("%w: %d", protocol.ErrInvalidNodeID, cfg.SelfNodeID)
	}
	if cfg.TransferTimeout <= 0 {
		cfg.TransferTimeout = transfer.DefaultTimeout
	}
	if cfg.Metrics == nil {
		cfg.Metrics = noMetrics{}
	}
	return &Dispatcher{
		self:    cfg.SelfNodeID,
		alloc:   cfg.Allocator,
		timeout: cfg.TransferTimeout,
		metrics: cfg.Metrics,
	}, nil
}

func (d *Dispatcher) SelfNodeID() protocol.NodeID { return d.self }

func (d *Dispatcher) TransferTimeout() protocol.MonotonicDuration { return d.timeout }

// Subscribe adds a listener. Nothing changes when it returns an error.
func (d *Dispatcher) Subscribe(reg Registration) (*Listener, error) {
	if reg.Handler == nil {
		return nil, protocol.ErrInvalidCallback
	}
	if !reg.DataTypeID.IsValid() {
		return nil, fmt.Errorf("%w: data type id %d", protocol.ErrInvalidRegistration, reg.DataTypeID)
	}
	class, ok := classOfMask(reg.TransferTypes)
	if !ok {
		return nil, fmt.Errorf("%w: transfer types %08b", protocol.ErrInvalidRegistration, uint8(reg.TransferTypes))
	}
	l := &Listener{reg: reg, class: class, active: true}
	d.lists[class] = append(d.lists[class], l)
	d.count++
	log.Debug().Str("listener", reg.String()).Str("class", class.String()).Msg("dispatch.Dispatcher.Subscribe")
	return l, nil
}

// Unsubscribe deactivates l and releases its buffers. Safe to call from a
// handler; the list entry is dropped once dispatch unwinds.
func (d *Dispatcher) Unsubscribe(l *Listener) {
	if l == nil || !l.active {
		return
	}
	l.active = false
	l.releaseAll()
	d.count--
	if d.dispatching > 0 {
		d.dirty = true
		return
	}
	d.lists[l.class] = removeListener(d.lists[l.class], l)
	log.Debug().Str("listener", l.reg.String()).Msg("dispatch.Dispatcher.Unsubscribe")
}

func removeListener(list []*Listener, l *Listener) []*Listener {
	for i, it := range list {
		if it == l {
			copy(list[i:], list[i+1:])
			list[len(list)-1] = nil
			return list[:len(list)-1]
		}
	}
	return list
}

func (d *Dispatcher) compact() {
	for c := range d.lists {
		kept := d.lists[c][:0]
		for _, l := range d.lists[c] {
			if l.active {
				kept = append(kept, l)
			}
		}
		clear(d.lists[c][len(kept):])
		d.lists[c] = kept
	}
	d.dirty = false
}

// HandleFrame routes f to every matching listener. The error reports an
// invalid frame only; listener failures are counted, not returned.
func (d *Dispatcher) HandleFrame(f *frame.RxFrame) error {
	d.stats.Frames++
	if err := f.Validate(); err != nil {
		d.stats.Invalid++
		d.metrics.InvalidFrame()
		return fmt.Errorf("%w: %w", protocol.ErrInvalidFrame, err)
	}
	if f.TransferType.IsAddressed() && f.DstNodeID != d.self {
		d.stats.NotForUs++
		return nil
	}

	d.dispatching++
	defer func() {
		d.dispatching--
		if d.dispatching == 0 && d.dirty {
			d.compact()
		}
	}()

	list := d.lists[classOf(f.TransferType)]
	matched := false
	for _, l := range list {
		if !l.matches(f.DataTypeID, f.TransferType) {
			continue
		}
		matched = true
		d.handleForListener(l, f)
	}
	if !matched {
		d.stats.Unmatched++
	}
	return nil
}

func (d *Dispatcher) handleForListener(l *Listener, f *frame.RxFrame) {
	var tr transfer.Transfer
	if f.IsAnonymous() {
		if l.anon.isRedundantCopy(f, d.timeout) {
			d.stats.Discarded++
			return
		}
		l.anon.remember(f)
		tr = transfer.NewSingleFrame(transfer.Meta{
			TsMonotonic:  f.MonotonicTimestamp(),
			TsUTC:        f.UTCTimestamp(),
			DataTypeID:   f.DataTypeID,
			TransferType: f.TransferType,
			TransferID:   f.TransferID,
			SrcNodeID:    f.SrcNodeID,
			DstNodeID:    f.DstNodeID,
			IfaceIndex:   f.IfaceIndex(),
		}, f.Payload())
		d.deliver(l, &tr)
		return
	}

	res, err := l.receivers[f.SrcNodeID].Accept(f, d.alloc, d.timeout, &tr)
	switch res {
	case transfer.ResultComplete:
		d.deliver(l, &tr)
	case transfer.ResultFailed:
		d.fail(l, err)
		log.Debug().Err(err).Str("frame", f.String()).Msg("dispatch.Dispatcher.HandleFrame reassembly failed")
	case transfer.ResultDiscarded:
		d.stats.Discarded++
	}
}

func (d *Dispatcher) deliver(l *Listener, tr *transfer.Transfer) {
	err := l.reg.Handler.HandleTransfer(tr)
	tr.Release()
	if err != nil {
		d.fail(l, err)
		log.Debug().Err(err).Str("listener", l.reg.String()).Msg("dispatch.Dispatcher.deliver handler failed")
		return
	}
	d.stats.Completed++
	d.metrics.TransferCompleted()
}

func (d *Dispatcher) fail(l *Listener, err error) {
	l.failures++
	d.stats.Failed++
	d.metrics.TransferFailed(err)
}

// Cleanup aborts transfers that stalled past the transfer timeout and
// returns how many it released.
func (d *Dispatcher) Cleanup(now protocol.MonotonicTime) int {
	released := 0
	for _, list := range d.lists {
		for _, l := range list {
			if !l.active {
				continue
			}
			for i := range l.receivers {
				if l.receivers[i].Cleanup(now, d.timeout) {
					released++
				}
			}
		}
	}
	d.stats.Stalled += uint64(released)
	return released
}

// ListenerCount counts active listeners of every class.
func (d *Dispatcher) ListenerCount() int { return d.count }

func (d *Dispatcher) NumMessageListeners() int { return d.numActive(classMessage) }

func (d *Dispatcher) NumServiceRequestListeners() int { return d.numActive(classServiceRequest) }

func (d *Dispatcher) NumServiceResponseListeners() int { return d.numActive(classServiceResponse) }

func (d *Dispatcher) numActive(c listClass) int {
	n := 0
	for _, l := range d.lists[c] {
		if l.active {
			n++
		}
	}
	return n
}

func (d *Dispatcher) Stats() Stats { return d.stats }
