package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/uavbus/internal/bus"
	"github.com/danmuck/uavbus/internal/config"
	"github.com/danmuck/uavbus/internal/protocol"
	"github.com/danmuck/uavbus/internal/testutil/testlog"
)

func TestDemoDeliversPeerHeartbeats(t *testing.T) {
	testlog.Start(t)
	cfg := config.DefaultNodeConfig()
	cfg.Name = "demo-test"
	d, err := newDemoWithClock(cfg, bus.NewManualClock(1, 1))
	if err != nil {
		t.Fatalf("new demo: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := d.publish(); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
		if err := d.spin(protocol.Second); err != nil {
			t.Fatalf("spin %d: %v", i, err)
		}
	}
	if d.received != 3 {
		t.Fatalf("received got=%d", d.received)
	}
	if d.localSub.FailureCount() != 0 {
		t.Fatalf("failures got=%d", d.localSub.FailureCount())
	}
	if snap := d.local.Snapshot(); snap.Dispatch.Completed != 3 || snap.Dispatch.Discarded == 0 {
		t.Fatalf("local snapshot got=%+v", snap.Dispatch)
	}
}

func TestDemoAnonymousLocalNode(t *testing.T) {
	testlog.Start(t)
	cfg := config.DefaultNodeConfig()
	cfg.Name = "demo-anon"
	cfg.NodeID = 0
	d, err := newDemoWithClock(cfg, bus.NewManualClock(1, 1))
	if err != nil {
		t.Fatalf("new demo: %v", err)
	}
	if d.peer.SelfNodeID() != 1 {
		t.Fatalf("peer id got=%s", d.peer.SelfNodeID())
	}
	if err := d.publish(); err != nil {
		t.Fatalf("publish: %v", err)
	}
}

func TestDemoRunStopsOnCancel(t *testing.T) {
	testlog.Start(t)
	cfg := config.DefaultNodeConfig()
	cfg.Name = "demo-run"
	cfg.SpinPeriod = time.Millisecond
	cfg.PublishPeriod = 2 * time.Millisecond
	d, err := newDemo(cfg)
	if err != nil {
		t.Fatalf("new demo: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := d.run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if d.localSub.IsActive() {
		t.Fatalf("subscriber still active after run")
	}
}

func TestVersionAndConfigCommands(t *testing.T) {
	testlog.Start(t)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out.String(), "uavnode version") {
		t.Fatalf("version output %q", out.String())
	}

	out.Reset()
	rootCmd.SetArgs([]string{"config", "show"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("config show: %v", err)
	}
	if !strings.Contains(out.String(), "node_id = 1") {
		t.Fatalf("config output %q", out.String())
	}
}
