package config

import (
	"fmt"

	"github.com/danmuck/uavbus/internal/pool"
	"github.com/danmuck/uavbus/internal/protocol"
	"github.com/danmuck/uavbus/internal/protocol/session"
	"github.com/danmuck/uavbus/internal/scheduler"
)

// BuildPools allocates the configured pools in file order.
func (c NodeConfig) BuildPools() (*pool.Manager, error) {
	m, err := pool.NewManager()
	if err != nil {
		return nil, err
	}
	for i, pc := range c.Pools {
		p, err := pool.New(pc.BlockSize, pc.Blocks)
		if err != nil {
			return nil, fmt.Errorf("pools[%d]: %w", i, err)
		}
		if err := m.AddPool(p); err != nil {
			return nil, fmt.Errorf("pools[%d]: %w", i, err)
		}
	}
	return m, nil
}

func (c NodeConfig) SchedulerConfig() scheduler.Config {
	return scheduler.Config{
		SelfNodeID:       protocol.NodeID(c.NodeID),
		TransferTimeout:  protocol.DurationOf(c.TransferTimeout),
		CleanupPeriod:    protocol.DurationOf(c.CleanupPeriod),
		OutgoingCapacity: c.OutgoingCapacity,
	}
}

func (c NodeConfig) SessionConfig() session.Config {
	return session.Config{
		TxTimeout:           c.TxTimeout,
		TransferIDKeepAlive: c.TransferTimeout,
	}
}
