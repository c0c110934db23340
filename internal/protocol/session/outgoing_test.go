package session

import (
	"errors"
	"testing"

	"github.com/danmuck/uavbus/internal/protocol"
	"github.com/danmuck/uavbus/internal/protocol/transfer"
	"github.com/danmuck/uavbus/internal/testutil/testlog"
)

func key(dst protocol.NodeID, dtid protocol.DataTypeID) OutgoingKey {
	return OutgoingKey{DstNodeID: dst, DataTypeID: dtid, TransferType: protocol.TransferTypeMessageBroadcast}
}

func TestOutgoingNextIncrementsAndWraps(t *testing.T) {
	testlog.Start(t)
	r, err := NewOutgoingRegistry(4)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	k := key(0, 1)
	for i := 0; i < 10; i++ {
		want := protocol.TransferID(i % 8)
		if got := r.Next(k, 100); got != want {
			t.Fatalf("call %d got=%d want %d", i, got, want)
		}
	}
	if next, ok := r.Peek(k); !ok || next != 2 {
		t.Fatalf("peek got=%d ok=%v", next, ok)
	}
}

func TestOutgoingKeysAreIndependent(t *testing.T) {
	testlog.Start(t)
	r, _ := NewOutgoingRegistry(4)
	r.Next(key(0, 1), 100)
	r.Next(key(0, 1), 100)
	if got := r.Next(key(5, 1), 100); got != 0 {
		t.Fatalf("other destination got=%d", got)
	}
	unicast := OutgoingKey{DstNodeID: 0, DataTypeID: 1, TransferType: protocol.TransferTypeMessageUnicast}
	if got := r.Next(unicast, 100); got != 0 {
		t.Fatalf("other transfer type got=%d", got)
	}
}

func TestOutgoingEvictsLeastRecentlyUsed(t *testing.T) {
	testlog.Start(t)
	r, _ := NewOutgoingRegistry(2)
	a, b, c := key(0, 1), key(0, 2), key(0, 3)
	r.Next(a, 100)
	r.Next(b, 100)
	r.Next(a, 100) // a is now most recent
	if got := r.Next(c, 100); got != 0 || r.Len() != 2 {
		t.Fatalf("insert c got=%d len=%d", got, r.Len())
	}
	if _, ok := r.Peek(b); ok {
		t.Fatalf("b should have been evicted")
	}
	if next, ok := r.Peek(a); !ok || next != 2 {
		t.Fatalf("a lost its counter: next=%d ok=%v", next, ok)
	}
	if r.Evictions() != 1 {
		t.Fatalf("evictions got=%d", r.Evictions())
	}
	if got := r.Next(b, 100); got != 0 {
		t.Fatalf("evicted key restarted at %d", got)
	}
}

func TestOutgoingCleanupDropsExpired(t *testing.T) {
	testlog.Start(t)
	r, _ := NewOutgoingRegistry(4)
	r.Next(key(0, 1), 100)
	r.Next(key(0, 2), 300)
	if n := r.Cleanup(200); n != 1 || r.Len() != 1 {
		t.Fatalf("cleanup removed=%d len=%d", n, r.Len())
	}
	if _, ok := r.Peek(key(0, 2)); !ok {
		t.Fatalf("live entry dropped")
	}
	// refreshing the deadline keeps the entry
	r.Next(key(0, 2), 1000)
	if n := r.Cleanup(500); n != 0 {
		t.Fatalf("refreshed entry removed")
	}
}

func TestOutgoingCleanupFreesSlots(t *testing.T) {
	testlog.Start(t)
	r, _ := NewOutgoingRegistry(2)
	r.Next(key(0, 1), 100)
	r.Next(key(0, 2), 100)
	if n := r.Cleanup(200); n != 2 || r.Len() != 0 {
		t.Fatalf("cleanup removed=%d len=%d", n, r.Len())
	}
	r.Next(key(0, 3), 300)
	r.Next(key(0, 4), 300)
	if r.Len() != 2 || r.Capacity() != 2 || r.Evictions() != 0 {
		t.Fatalf("len=%d cap=%d evictions=%d", r.Len(), r.Capacity(), r.Evictions())
	}
}

func TestOutgoingRejectsBadCapacity(t *testing.T) {
	testlog.Start(t)
	if _, err := NewOutgoingRegistry(0); !errors.Is(err, ErrInvalidOutgoingCapacity) {
		t.Fatalf("expected ErrInvalidOutgoingCapacity, got %v", err)
	}
}

func TestConfigWithDefaults(t *testing.T) {
	testlog.Start(t)
	cfg := Config{TxTimeout: 1}.WithDefaults()
	if cfg.TxTimeout != 1 || cfg.TransferIDKeepAlive != DefaultConfig().TransferIDKeepAlive {
		t.Fatalf("got %+v", cfg)
	}
}

func TestHandlerBindings(t *testing.T) {
	testlog.Start(t)
	var zero Handler[int]
	if !zero.IsNil() {
		t.Fatalf("zero handler should be nil")
	}
	var simple, extended int
	Simple(func(v *int) { simple = *v }).call(&Received[int]{Msg: 3})
	Extended(func(r *Received[int]) { extended = r.Msg + int(r.SrcNodeID) }).
		call(&Received[int]{Msg: 3, Meta: transferMeta(4)})
	if simple != 3 || extended != 7 {
		t.Fatalf("simple=%d extended=%d", simple, extended)
	}
}

func transferMeta(src protocol.NodeID) transfer.Meta {
	return transfer.Meta{SrcNodeID: src}
}
