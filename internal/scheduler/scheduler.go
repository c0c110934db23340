// Package scheduler drives a node: it drains interface rx queues into the
// dispatcher, runs periodic cleanup and sends outgoing frames.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/uavbus/internal/bus"
	"github.com/danmuck/uavbus/internal/dtype"
	"github.com/danmuck/uavbus/internal/observability"
	"github.com/danmuck/uavbus/internal/pool"
	"github.com/danmuck/uavbus/internal/protocol"
	"github.com/danmuck/uavbus/internal/protocol/dispatch"
	"github.com/danmuck/uavbus/internal/protocol/frame"
	"github.com/danmuck/uavbus/internal/protocol/session"
	"github.com/danmuck/uavbus/internal/protocol/transfer"
)

var (
	ErrNilDriver     = errors.New("scheduler: nil driver")
	ErrNilClock      = errors.New("scheduler: nil clock")
	ErrNilPools      = errors.New("scheduler: nil pool manager")
	ErrNilRegistry   = errors.New("scheduler: nil data type registry")
	ErrNoInterfaces  = errors.New("scheduler: driver has no interfaces")
	ErrInvalidPeriod = errors.New("scheduler: spin period must be positive")
)

type Config struct {
	SelfNodeID       protocol.NodeID
	TransferTimeout  protocol.MonotonicDuration
	CleanupPeriod    protocol.MonotonicDuration
	OutgoingCapacity int
}

func DefaultConfig() Config {
	return Config{
		TransferTimeout:  transfer.DefaultTimeout,
		CleanupPeriod:    protocol.Second,
		OutgoingCapacity: 16,
	}
}

type Option func(*Scheduler)

// WithMetrics records transport counters into m.
func WithMetrics(m *observability.TransportMetrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// Snapshot is a copy of scheduler state safe to read from other goroutines.
type Snapshot struct {
	SelfNodeID  protocol.NodeID `json:"self_node_id"`
	Spins       uint64          `json:"spins"`
	Frames      uint64          `json:"frames"`
	ParseErrors uint64          `json:"parse_errors"`
	TxFrames    uint64          `json:"tx_frames"`
	TxErrors    uint64          `json:"tx_errors"`
	Listeners   int             `json:"listeners"`
	Outgoing    int             `json:"outgoing_streams"`
	RxOverflows uint64          `json:"rx_overflows"`
	Dispatch    dispatch.Stats  `json:"dispatch"`
	Pools       []pool.Stats    `json:"pools"`
}

type overflowCounter interface {
	RxOverflows() uint64
}

// Scheduler owns the dispatcher and outgoing registry of one node. Spin,
// Send and session Start/Stop must not run concurrently; Snapshot may be
// called from any goroutine.
type Scheduler struct {
	driver   bus.Driver
	clock    bus.Clock
	pools    *pool.Manager
	types    *dtype.Registry
	disp     *dispatch.Dispatcher
	outgoing *session.OutgoingRegistry
	metrics  *observability.TransportMetrics
	cfg      Config

	lastCleanup protocol.MonotonicTime
	spins       uint64
	frames      uint64
	parseErrors uint64
	txFrames    uint64
	txErrors    uint64
	poolStats   []pool.Stats

	snapMu sync.Mutex
	snap   Snapshot
}

var _ session.Node = (*Scheduler)(nil)

// New builds a scheduler. types is frozen: registrations must happen before.
func New(driver bus.Driver, clock bus.Clock, pools *pool.Manager, types *dtype.Registry, cfg Config, opts ...Option) (*Scheduler, error) {
	switch {
	case driver == nil:
		return nil, ErrNilDriver
	case clock == nil:
		return nil, ErrNilClock
	case pools == nil:
		return nil, ErrNilPools
	case types == nil:
		return nil, ErrNilRegistry
	case driver.NumIfaces() <= 0:
		return nil, ErrNoInterfaces
	}
	def := DefaultConfig()
	if cfg.TransferTimeout <= 0 {
		cfg.TransferTimeout = def.TransferTimeout
	}
	if cfg.CleanupPeriod <= 0 {
		cfg.CleanupPeriod = def.CleanupPeriod
	}
	if cfg.OutgoingCapacity <= 0 {
		cfg.OutgoingCapacity = def.OutgoingCapacity
	}

	s := &Scheduler{
		driver: driver,
		clock:  clock,
		pools:  pools,
		types:  types,
		cfg:    cfg,
	}
	for _, opt := range opts {
		opt(s)
	}

	disp, err := dispatch.New(dispatch.Config{
		SelfNodeID:      cfg.SelfNodeID,
		Allocator:       pools,
		TransferTimeout: cfg.TransferTimeout,
		Metrics:         s.metrics,
	})
	if err != nil {
		return nil, err
	}
	outgoing, err := session.NewOutgoingRegistry(cfg.OutgoingCapacity)
	if err != nil {
		return nil, err
	}
	s.disp = disp
	s.outgoing = outgoing
	s.lastCleanup = clock.Monotonic()
	types.Freeze()
	s.publishSnapshot()

	log.Info().
		Uint8("node_id", uint8(cfg.SelfNodeID)).
		Int("ifaces", driver.NumIfaces()).
		Int("pools", pools.NumPools()).
		Int("data_types", types.Len()).
		Msg("scheduler.New ready")
	return s, nil
}

func (s *Scheduler) Dispatcher() *dispatch.Dispatcher { return s.disp }

func (s *Scheduler) DataTypes() *dtype.Registry { return s.types }

func (s *Scheduler) OutgoingTransferRegistry() *session.OutgoingRegistry { return s.outgoing }

func (s *Scheduler) Pools() *pool.Manager { return s.pools }

func (s *Scheduler) MonotonicTime() protocol.MonotonicTime { return s.clock.Monotonic() }

func (s *Scheduler) UTCTime() protocol.UTCTime { return s.clock.UTC() }

func (s *Scheduler) SelfNodeID() protocol.NodeID { return s.disp.SelfNodeID() }

// Spin drains the interfaces round-robin, one frame per interface per pass,
// until every queue is empty or deadline has passed. The deadline is checked
// before each frame, so a past deadline processes nothing. It returns the
// number of frames processed. An error wraps protocol.ErrDriver and means an
// interface failed fatally.
func (s *Scheduler) Spin(deadline protocol.MonotonicTime) (int, error) {
	defer s.publishSnapshot()
	s.spins++
	processed := 0
	n := s.driver.NumIfaces()
	for {
		idle := true
		for i := 0; i < n; i++ {
			if now := s.clock.Monotonic(); now >= deadline {
				s.maybeCleanup(now)
				return processed, nil
			}
			rx, ok, err := s.driver.Iface(i).Receive()
			if err != nil {
				log.Error().Err(err).Int("iface", i).Msg("scheduler.Scheduler.Spin driver failure")
				return processed, fmt.Errorf("%w: iface %d: %w", protocol.ErrDriver, i, err)
			}
			if !ok {
				continue
			}
			idle = false
			processed++
			s.handleRx(&rx)
		}
		s.maybeCleanup(s.clock.Monotonic())
		if idle {
			return processed, nil
		}
	}
}

func (s *Scheduler) handleRx(rx *bus.RxCANFrame) {
	s.frames++
	s.metrics.FrameReceived()
	f, err := frame.Parse(rx.Frame)
	if err != nil {
		s.parseErrors++
		s.metrics.InvalidFrame()
		log.Debug().Err(err).Str("frame", rx.String()).Msg("scheduler.Scheduler.handleRx parse failed")
		return
	}
	rxf := frame.NewRxFrame(f, rx.TsMonotonic, rx.TsUTC, rx.IfaceIndex)
	if err := s.disp.HandleFrame(&rxf); err != nil {
		log.Debug().Err(err).Str("frame", rx.String()).Msg("scheduler.Scheduler.handleRx rejected")
	}
}

func (s *Scheduler) maybeCleanup(now protocol.MonotonicTime) {
	if now.Sub(s.lastCleanup) < s.cfg.CleanupPeriod {
		return
	}
	s.lastCleanup = now
	stalled := s.disp.Cleanup(now)
	expired := s.outgoing.Cleanup(now)
	if stalled > 0 || expired > 0 {
		log.Debug().Int("stalled", stalled).Int("expired", expired).Msg("scheduler.Scheduler.cleanup")
	}
	s.poolStats = s.pools.Stats(s.poolStats[:0])
	s.metrics.SetPoolStats(s.poolStats)
	if oc, ok := s.driver.(overflowCounter); ok {
		s.metrics.SetRxOverflows(oc.RxOverflows())
	}
}

// Send compiles frames and hands each one to every interface. Failures on
// one interface do not stop the others; all of them are returned joined.
func (s *Scheduler) Send(frames []frame.Frame, deadline protocol.MonotonicTime) error {
	var errs []error
	for i := range frames {
		cf, err := frames[i].Compile()
		if err != nil {
			return fmt.Errorf("%w: %w", protocol.ErrInvalidFrame, err)
		}
		for j := 0; j < s.driver.NumIfaces(); j++ {
			if err := s.driver.Iface(j).Send(cf, deadline); err != nil {
				s.txErrors++
				errs = append(errs, fmt.Errorf("%w: iface %d: %w", protocol.ErrDriver, j, err))
				continue
			}
			s.txFrames++
			s.metrics.FramesSent(1)
		}
	}
	s.publishSnapshot()
	return errors.Join(errs...)
}

// Run spins every period until ctx is done or a driver fails.
func (s *Scheduler) Run(ctx context.Context, period time.Duration) error {
	if period <= 0 {
		return ErrInvalidPeriod
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	budget := protocol.DurationOf(period)
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("scheduler.Scheduler.Run shutdown")
			return nil
		case <-ticker.C:
			if _, err := s.Spin(s.clock.Monotonic().Add(budget)); err != nil {
				return err
			}
		}
	}
}

func (s *Scheduler) publishSnapshot() {
	snap := Snapshot{
		SelfNodeID:  s.disp.SelfNodeID(),
		Spins:       s.spins,
		Frames:      s.frames,
		ParseErrors: s.parseErrors,
		TxFrames:    s.txFrames,
		TxErrors:    s.txErrors,
		Listeners:   s.disp.ListenerCount(),
		Outgoing:    s.outgoing.Len(),
		Dispatch:    s.disp.Stats(),
		Pools:       s.pools.Stats(nil),
	}
	if oc, ok := s.driver.(overflowCounter); ok {
		snap.RxOverflows = oc.RxOverflows()
	}
	s.snapMu.Lock()
	s.snap = snap
	s.snapMu.Unlock()
}

// Snapshot returns the state as of the last Spin or Send.
func (s *Scheduler) Snapshot() Snapshot {
	s.snapMu.Lock()
	defer s.snapMu.Unlock()
	out := s.snap
	out.Pools = append([]pool.Stats(nil), s.snap.Pools...)
	return out
}
