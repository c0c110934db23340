package dtype

import (
	"errors"
	"testing"

	"github.com/danmuck/uavbus/internal/testutil/testlog"
)

func TestRegisterAndLookup(t *testing.T) {
	testlog.Start(t)
	r := NewRegistry()
	msg := Descriptor{ID: 20, Kind: KindMessage, FullName: "mavlink.Message"}
	srv := Descriptor{ID: 20, Kind: KindService, FullName: "protocol.GetNodeInfo"}
	if err := r.Register(msg); err != nil {
		t.Fatalf("register message: %v", err)
	}
	if err := r.Register(srv); err != nil {
		t.Fatalf("same id in service space must be allowed: %v", err)
	}
	got, ok := r.Lookup(KindMessage, 20)
	if !ok || got != msg {
		t.Fatalf("lookup got=%v ok=%v", got, ok)
	}
	if !r.Contains(srv) {
		t.Fatalf("service descriptor missing")
	}
	list := r.List()
	if len(list) != 2 || list[0] != msg || list[1] != srv {
		t.Fatalf("unexpected list order: %v", list)
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	testlog.Start(t)
	r := NewRegistry()
	_ = r.Register(Descriptor{ID: 1, FullName: "a.B"})
	if err := r.Register(Descriptor{ID: 1, FullName: "a.C"}); !errors.Is(err, ErrTypeExists) {
		t.Fatalf("duplicate id: expected ErrTypeExists, got %v", err)
	}
	if err := r.Register(Descriptor{ID: 2, FullName: "a.B"}); !errors.Is(err, ErrTypeExists) {
		t.Fatalf("duplicate name: expected ErrTypeExists, got %v", err)
	}
}

func TestRegisterValidatesMetadata(t *testing.T) {
	testlog.Start(t)
	r := NewRegistry()
	bad := []Descriptor{
		{ID: 3000, FullName: "a.B"},
		{ID: 1, FullName: "nodots"},
		{ID: 1, FullName: "a..B"},
		{ID: 1, FullName: "a.9B"},
		{ID: 1, FullName: " a.B"},
		{ID: 1, Kind: 7, FullName: "a.B"},
	}
	for _, d := range bad {
		if err := r.Register(d); !errors.Is(err, ErrInvalidMetadata) {
			t.Fatalf("%+v: expected ErrInvalidMetadata, got %v", d, err)
		}
	}
}

func TestFrozenRegistryRejectsRegistration(t *testing.T) {
	testlog.Start(t)
	r := NewRegistry()
	r.Freeze()
	if !r.IsFrozen() {
		t.Fatalf("registry should report frozen")
	}
	if err := r.Register(Descriptor{ID: 1, FullName: "a.B"}); !errors.Is(err, ErrRegistryFrozen) {
		t.Fatalf("expected ErrRegistryFrozen, got %v", err)
	}
}
