package scheduler

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/danmuck/uavbus/internal/bus"
	"github.com/danmuck/uavbus/internal/dsdl/mavlink"
	"github.com/danmuck/uavbus/internal/dtype"
	"github.com/danmuck/uavbus/internal/pool"
	"github.com/danmuck/uavbus/internal/protocol"
	"github.com/danmuck/uavbus/internal/protocol/dispatch"
	"github.com/danmuck/uavbus/internal/protocol/frame"
	"github.com/danmuck/uavbus/internal/protocol/session"
	"github.com/danmuck/uavbus/internal/protocol/transfer"
	"github.com/danmuck/uavbus/internal/testutil/testlog"
)

func newNode(t *testing.T, self protocol.NodeID, driver bus.Driver, clock bus.Clock) *Scheduler {
	t.Helper()
	p, err := pool.New(pool.MinBlockSize, 64)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	pools, err := pool.NewManager(p)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	types := dtype.NewRegistry()
	if err := mavlink.Register(types); err != nil {
		t.Fatalf("register mavlink: %v", err)
	}
	cfg := DefaultConfig()
	cfg.SelfNodeID = self
	s, err := New(driver, clock, pools, types, cfg)
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	return s
}

func newDriver(t *testing.T, ifaces int, clock bus.Clock) *bus.MemDriver {
	t.Helper()
	d, err := bus.NewMemDriver(ifaces, 32, clock)
	if err != nil {
		t.Fatalf("new driver: %v", err)
	}
	return d
}

func compile(t *testing.T, f frame.Frame) frame.CANFrame {
	t.Helper()
	c, err := f.Compile()
	if err != nil {
		t.Fatalf("compile %s: %v", &f, err)
	}
	return c
}

func TestSpinEmptyQueuesReturnsBeforeDeadline(t *testing.T) {
	testlog.Start(t)
	clock := bus.NewSystemClock()
	s := newNode(t, 1, newDriver(t, 2, clock), clock)

	start := time.Now()
	n, err := s.Spin(clock.Monotonic().Add(10 * protocol.Second))
	if n != 0 || err != nil {
		t.Fatalf("spin got n=%d err=%v", n, err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("spin waited for the deadline")
	}
}

func TestSpinDriverFailure(t *testing.T) {
	testlog.Start(t)
	clock := bus.NewManualClock(1, 1)
	d := newDriver(t, 2, clock)
	s := newNode(t, 1, d, clock)
	_ = d.SetError(1, errors.New("bus off"))

	if _, err := s.Spin(100); !errors.Is(err, protocol.ErrDriver) {
		t.Fatalf("expected ErrDriver, got %v", err)
	}
}

func TestSpinRedundantInterfacesDeliverOnce(t *testing.T) {
	testlog.Start(t)
	clock := bus.NewManualClock(1000, 1)
	d := newDriver(t, 2, clock)
	s := newNode(t, 1, d, clock)

	var got [][]byte
	_, err := s.Dispatcher().Subscribe(dispatch.Registration{
		DataTypeID:    77,
		TransferTypes: dispatch.MaskMessages,
		Handler: dispatch.HandlerFunc(func(tr *transfer.Transfer) error {
			buf := make([]byte, tr.Len())
			tr.Read(0, buf)
			got = append(got, buf)
			return nil
		}),
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	payload := []byte("0123456789abcdefghijklmnop")
	frames, err := frame.Split(nil, frame.New(77, protocol.TransferTypeMessageBroadcast, 9, 0, 0, 4, false), payload)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	for _, f := range frames {
		c := compile(t, f)
		_ = d.PushRx(0, c)
		_ = d.PushRx(1, c)
	}

	n, err := s.Spin(clock.Monotonic().Add(protocol.Second))
	if err != nil || n != 2*len(frames) {
		t.Fatalf("spin n=%d err=%v", n, err)
	}
	if len(got) != 1 || !bytes.Equal(got[0], payload) {
		t.Fatalf("deliveries got=%q", got)
	}
	if s.Snapshot().Dispatch.Discarded != uint64(len(frames)) {
		t.Fatalf("discarded got=%d", s.Snapshot().Dispatch.Discarded)
	}
}

func TestSpinDropsMalformedFrames(t *testing.T) {
	testlog.Start(t)
	clock := bus.NewManualClock(1, 1)
	d := newDriver(t, 1, clock)
	s := newNode(t, 1, d, clock)

	_ = d.PushRx(0, frame.CANFrame{ID: 0x123, DLC: 1})
	n, err := s.Spin(10)
	if n != 1 || err != nil {
		t.Fatalf("spin n=%d err=%v", n, err)
	}
	if snap := s.Snapshot(); snap.ParseErrors != 1 || snap.Frames != 1 {
		t.Fatalf("snapshot got=%+v", snap)
	}
}

func TestSpinPastDeadlineProcessesNothing(t *testing.T) {
	testlog.Start(t)
	clock := bus.NewManualClock(1000, 1)
	d := newDriver(t, 3, clock)
	s := newNode(t, 1, d, clock)
	for i := 0; i < 3; i++ {
		_ = d.PushRx(i, compile(t, frame.New(77, protocol.TransferTypeMessageBroadcast, 9, 0, 0, 0, true)))
	}

	n, err := s.Spin(500)
	if n != 0 || err != nil {
		t.Fatalf("past deadline spin n=%d err=%v", n, err)
	}
	n, err = s.Spin(clock.Monotonic().Add(protocol.Second))
	if n != 3 || err != nil {
		t.Fatalf("spin n=%d err=%v", n, err)
	}
}

func TestPublishLoopbackEndToEnd(t *testing.T) {
	testlog.Start(t)
	clock := bus.NewManualClock(5000, 1)
	da := newDriver(t, 2, clock)
	db := newDriver(t, 2, clock)
	if err := da.Connect(db); err != nil {
		t.Fatalf("connect: %v", err)
	}
	a := newNode(t, 10, da, clock)
	b := newNode(t, 20, db, clock)

	pub, err := session.NewPublisher(a, mavlink.Type, session.DefaultConfig())
	if err != nil {
		t.Fatalf("publisher: %v", err)
	}
	sub, err := session.NewSubscriber(b, mavlink.Type)
	if err != nil {
		t.Fatalf("subscriber: %v", err)
	}
	var got []session.Received[mavlink.Message]
	if err := sub.Start(session.Extended(func(m *session.Received[mavlink.Message]) {
		got = append(got, *m)
	})); err != nil {
		t.Fatalf("start: %v", err)
	}

	var msg mavlink.Message
	msg.Seq, msg.SysID, msg.CompID, msg.MsgID = 1, 2, 3, 4
	msg.SetPayload([]byte("a payload that spans several frames"))
	for i := 0; i < 2; i++ {
		if err := pub.Broadcast(&msg); err != nil {
			t.Fatalf("broadcast %d: %v", i, err)
		}
	}
	if len(da.TxFrames(0)) == 0 || len(da.TxFrames(0)) != len(da.TxFrames(1)) {
		t.Fatalf("tx frames iface0=%d iface1=%d", len(da.TxFrames(0)), len(da.TxFrames(1)))
	}

	if _, err := b.Spin(clock.Monotonic().Add(protocol.Second)); err != nil {
		t.Fatalf("spin: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("deliveries got=%d", len(got))
	}
	for i, r := range got {
		if r.Msg != msg || r.SrcNodeID != 10 || r.TransferID != protocol.TransferID(i) {
			t.Fatalf("delivery %d got=%s src=%s tid=%d", i, &r.Msg, r.SrcNodeID, r.TransferID)
		}
	}
	if sub.FailureCount() != 0 {
		t.Fatalf("failures got=%d", sub.FailureCount())
	}
	if b.Pools().NumUsed() != 0 {
		t.Fatalf("receiver leaked %d blocks", b.Pools().NumUsed())
	}
}

func TestSendReportsPerInterfaceErrors(t *testing.T) {
	testlog.Start(t)
	clock := bus.NewManualClock(1, 1)
	d := newDriver(t, 2, clock)
	s := newNode(t, 1, d, clock)
	_ = d.SetError(1, errors.New("tx fault"))

	f := frame.New(5, protocol.TransferTypeMessageBroadcast, 1, 0, 0, 0, true)
	err := s.Send([]frame.Frame{f}, 0)
	if !errors.Is(err, protocol.ErrDriver) {
		t.Fatalf("expected ErrDriver, got %v", err)
	}
	if len(d.TxFrames(0)) != 1 {
		t.Fatalf("healthy iface did not send")
	}
	if snap := s.Snapshot(); snap.TxFrames != 1 || snap.TxErrors != 1 {
		t.Fatalf("snapshot got=%+v", snap)
	}
}

func TestCleanupExpiresOutgoingStreams(t *testing.T) {
	testlog.Start(t)
	clock := bus.NewManualClock(1, 1)
	s := newNode(t, 1, newDriver(t, 1, clock), clock)

	pub, err := session.NewPublisher(s, mavlink.Type, session.Config{TransferIDKeepAlive: time.Second})
	if err != nil {
		t.Fatalf("publisher: %v", err)
	}
	var msg mavlink.Message
	if err := pub.Broadcast(&msg); err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	if s.OutgoingTransferRegistry().Len() != 1 {
		t.Fatalf("outgoing len=%d", s.OutgoingTransferRegistry().Len())
	}
	clock.Advance(3 * protocol.Second)
	if _, err := s.Spin(clock.Monotonic()); err != nil {
		t.Fatalf("spin: %v", err)
	}
	if s.OutgoingTransferRegistry().Len() != 0 {
		t.Fatalf("stale stream kept")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	testlog.Start(t)
	clock := bus.NewSystemClock()
	s := newNode(t, 1, newDriver(t, 1, clock), clock)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, time.Millisecond) }()
	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not stop")
	}
	if s.Snapshot().Spins == 0 {
		t.Fatalf("run never spun")
	}
	if err := s.Run(context.Background(), 0); !errors.Is(err, ErrInvalidPeriod) {
		t.Fatalf("expected ErrInvalidPeriod, got %v", err)
	}
}

func TestNewValidatesCollaborators(t *testing.T) {
	testlog.Start(t)
	clock := bus.NewManualClock(1, 1)
	if _, err := New(nil, clock, nil, nil, DefaultConfig()); !errors.Is(err, ErrNilDriver) {
		t.Fatalf("nil driver err=%v", err)
	}
	d := newDriver(t, 1, clock)
	if _, err := New(d, clock, nil, dtype.NewRegistry(), DefaultConfig()); !errors.Is(err, ErrNilPools) {
		t.Fatalf("nil pools err=%v", err)
	}
}
