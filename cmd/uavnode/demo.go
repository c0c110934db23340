package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/uavbus/internal/bus"
	"github.com/danmuck/uavbus/internal/config"
	"github.com/danmuck/uavbus/internal/dsdl/mavlink"
	"github.com/danmuck/uavbus/internal/dtype"
	"github.com/danmuck/uavbus/internal/observability"
	"github.com/danmuck/uavbus/internal/protocol"
	"github.com/danmuck/uavbus/internal/protocol/session"
	"github.com/danmuck/uavbus/internal/scheduler"
)

const heartbeatMsgID = 0

// demo is the configured node plus a simulated peer on a shared in-memory
// bus. Both nodes are driven from one goroutine.
type demo struct {
	cfg   config.NodeConfig
	clock bus.Clock

	local    *scheduler.Scheduler
	localPub *session.Publisher[mavlink.Message]
	localSub *session.Subscriber[mavlink.Message]

	peer    *scheduler.Scheduler
	peerPub *session.Publisher[mavlink.Message]

	seq      uint8
	received uint64
}

func peerNodeID(self int) protocol.NodeID {
	if self <= 0 || self >= int(protocol.NodeIDMax) {
		return 1
	}
	return protocol.NodeID(self + 1)
}

func buildNode(cfg config.NodeConfig, clock bus.Clock, driver bus.Driver, opts ...scheduler.Option) (*scheduler.Scheduler, error) {
	pools, err := cfg.BuildPools()
	if err != nil {
		return nil, err
	}
	types := dtype.NewRegistry()
	if err := mavlink.Register(types); err != nil {
		return nil, err
	}
	return scheduler.New(driver, clock, pools, types, cfg.SchedulerConfig(), opts...)
}

func newDemo(cfg config.NodeConfig) (*demo, error) {
	return newDemoWithClock(cfg, bus.NewSystemClock())
}

func newDemoWithClock(cfg config.NodeConfig, clock bus.Clock) (*demo, error) {
	localDriver, err := bus.NewMemDriver(cfg.Ifaces, cfg.RxQueueDepth, clock)
	if err != nil {
		return nil, err
	}
	peerDriver, err := bus.NewMemDriver(cfg.Ifaces, cfg.RxQueueDepth, clock)
	if err != nil {
		return nil, err
	}
	if err := localDriver.Connect(peerDriver); err != nil {
		return nil, err
	}

	d := &demo{cfg: cfg, clock: clock}
	d.local, err = buildNode(cfg, clock, localDriver, scheduler.WithMetrics(observability.NewTransportMetrics(cfg.Name)))
	if err != nil {
		return nil, fmt.Errorf("local node: %w", err)
	}
	peerCfg := cfg
	peerCfg.NodeID = int(peerNodeID(cfg.NodeID))
	d.peer, err = buildNode(peerCfg, clock, peerDriver)
	if err != nil {
		return nil, fmt.Errorf("peer node: %w", err)
	}

	if d.localPub, err = session.NewPublisher(d.local, mavlink.Type, cfg.SessionConfig()); err != nil {
		return nil, err
	}
	if d.peerPub, err = session.NewPublisher(d.peer, mavlink.Type, cfg.SessionConfig()); err != nil {
		return nil, err
	}
	if d.localSub, err = session.NewSubscriber(d.local, mavlink.Type); err != nil {
		return nil, err
	}
	if err := d.localSub.Start(session.Extended(d.onMessage)); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *demo) onMessage(m *session.Received[mavlink.Message]) {
	d.received++
	log.Info().
		Str("src", m.SrcNodeID.String()).
		Uint8("tid", uint8(m.TransferID)).
		Uint8("iface", m.IfaceIndex).
		Uint8("seq", m.Msg.Seq).
		Str("payload", string(m.Msg.Payload())).
		Msg("uavnode.demo message")
}

// publish sends one heartbeat from each node. The peer's text spans several
// frames; the local one fits a single frame so anonymous nodes can send it.
func (d *demo) publish() error {
	d.seq++
	var msg mavlink.Message
	msg.Seq, msg.SysID, msg.CompID, msg.MsgID = d.seq, uint8(d.peer.SelfNodeID()), 1, heartbeatMsgID
	msg.SetPayload([]byte(fmt.Sprintf("peer heartbeat %d from the simulated node", d.seq)))
	if err := d.peerPub.Broadcast(&msg); err != nil {
		return fmt.Errorf("peer publish: %w", err)
	}

	msg.SysID = uint8(d.local.SelfNodeID())
	msg.SetPayload([]byte("hb"))
	if err := d.localPub.Broadcast(&msg); err != nil {
		return fmt.Errorf("local publish: %w", err)
	}
	return nil
}

// spin drains both nodes for at most budget.
func (d *demo) spin(budget protocol.MonotonicDuration) error {
	deadline := d.clock.Monotonic().Add(budget)
	if _, err := d.peer.Spin(deadline); err != nil {
		return err
	}
	_, err := d.local.Spin(deadline)
	return err
}

func (d *demo) run(ctx context.Context) error {
	spinTicker := time.NewTicker(d.cfg.SpinPeriod)
	defer spinTicker.Stop()
	publishTicker := time.NewTicker(d.cfg.PublishPeriod)
	defer publishTicker.Stop()
	budget := protocol.DurationOf(d.cfg.SpinPeriod)

	log.Info().
		Str("local", d.local.SelfNodeID().String()).
		Str("peer", d.peer.SelfNodeID().String()).
		Int("ifaces", d.cfg.Ifaces).
		Msg("uavnode.demo started")
	for {
		select {
		case <-ctx.Done():
			d.localSub.Stop()
			return nil
		case <-publishTicker.C:
			if err := d.publish(); err != nil {
				log.Warn().Err(err).Msg("uavnode.demo publish failed")
			}
		case <-spinTicker.C:
			if err := d.spin(budget); err != nil {
				return err
			}
		}
	}
}
