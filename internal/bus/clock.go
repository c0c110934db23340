package bus

import (
	"sync/atomic"
	"time"

	"github.com/danmuck/uavbus/internal/protocol"
)

// SystemClock measures monotonic time from its creation.
type SystemClock struct {
	start time.Time
}

func NewSystemClock() *SystemClock {
	return &SystemClock{start: time.Now()}
}

// Monotonic is offset by one microsecond so a valid reading is never zero.
func (c *SystemClock) Monotonic() protocol.MonotonicTime {
	return protocol.MonotonicTime(time.Since(c.start)/time.Microsecond) + 1
}

func (c *SystemClock) UTC() protocol.UTCTime {
	return protocol.UTCTime(time.Now().UnixMicro())
}

// ManualClock is advanced explicitly. Safe for concurrent use.
type ManualClock struct {
	mono atomic.Uint64
	utc  atomic.Uint64
}

func NewManualClock(mono protocol.MonotonicTime, utc protocol.UTCTime) *ManualClock {
	c := &ManualClock{}
	c.mono.Store(uint64(mono))
	c.utc.Store(uint64(utc))
	return c
}

func (c *ManualClock) Monotonic() protocol.MonotonicTime {
	return protocol.MonotonicTime(c.mono.Load())
}

func (c *ManualClock) UTC() protocol.UTCTime {
	return protocol.UTCTime(c.utc.Load())
}

func (c *ManualClock) Set(mono protocol.MonotonicTime) {
	c.mono.Store(uint64(mono))
}

// Advance moves both clocks forward by d.
func (c *ManualClock) Advance(d protocol.MonotonicDuration) {
	c.mono.Add(uint64(d))
	c.utc.Add(uint64(d))
}
