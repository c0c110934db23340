// Package config loads node settings from TOML.
//
// Load starts from DefaultNodeConfig and overrides only the keys present in
// the file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	gotoml "github.com/pelletier/go-toml/v2"

	"github.com/danmuck/uavbus/internal/pool"
	"github.com/danmuck/uavbus/internal/protocol"
)

var ErrInvalidConfig = errors.New("config: invalid node config")

type PoolConfig struct {
	BlockSize int `toml:"block_size" json:"block_size"`
	Blocks    int `toml:"blocks" json:"blocks"`
}

type NodeConfig struct {
	Name             string        `json:"name"`
	NodeID           int           `json:"node_id"`
	Ifaces           int           `json:"ifaces"`
	RxQueueDepth     int           `json:"rx_queue_depth"`
	Pools            []PoolConfig  `json:"pools"`
	OutgoingCapacity int           `json:"outgoing_capacity"`
	TransferTimeout  time.Duration `json:"transfer_timeout"`
	CleanupPeriod    time.Duration `json:"cleanup_period"`
	SpinPeriod       time.Duration `json:"spin_period"`
	TxTimeout        time.Duration `json:"tx_timeout"`
	PublishPeriod    time.Duration `json:"publish_period"`
	StatusAddr       string        `json:"status_addr"`
	CorsOrigins      []string      `json:"cors_origins"`
}

func DefaultNodeConfig() NodeConfig {
	return NodeConfig{
		Name:             "uavnode",
		NodeID:           1,
		Ifaces:           2,
		RxQueueDepth:     64,
		Pools:            []PoolConfig{{BlockSize: pool.MinBlockSize, Blocks: 256}},
		OutgoingCapacity: 16,
		TransferTimeout:  2 * time.Second,
		CleanupPeriod:    time.Second,
		SpinPeriod:       5 * time.Millisecond,
		TxTimeout:        10 * time.Millisecond,
		PublishPeriod:    time.Second,
		StatusAddr:       "127.0.0.1:9300",
		CorsOrigins:      []string{"http://localhost:3000"},
	}
}

// fileConfig keeps durations as strings so they read as "250ms" in TOML.
type fileConfig struct {
	Name             string       `toml:"name"`
	NodeID           int          `toml:"node_id"`
	Ifaces           int          `toml:"ifaces"`
	RxQueueDepth     int          `toml:"rx_queue_depth"`
	Pools            []PoolConfig `toml:"pools"`
	OutgoingCapacity int          `toml:"outgoing_capacity"`
	TransferTimeout  string       `toml:"transfer_timeout"`
	CleanupPeriod    string       `toml:"cleanup_period"`
	SpinPeriod       string       `toml:"spin_period"`
	TxTimeout        string       `toml:"tx_timeout"`
	PublishPeriod    string       `toml:"publish_period"`
	StatusAddr       string       `toml:"status_addr"`
	CorsOrigins      []string     `toml:"cors_origins"`
}

// Load reads path over the defaults and validates the result.
func Load(path string) (NodeConfig, error) {
	cfg := DefaultNodeConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return NodeConfig{}, fmt.Errorf("load node config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return NodeConfig{}, fmt.Errorf("%w: unknown key %q", ErrInvalidConfig, undecoded[0].String())
	}

	if meta.IsDefined("name") {
		cfg.Name = strings.TrimSpace(raw.Name)
	}
	if meta.IsDefined("node_id") {
		cfg.NodeID = raw.NodeID
	}
	if meta.IsDefined("ifaces") {
		cfg.Ifaces = raw.Ifaces
	}
	if meta.IsDefined("rx_queue_depth") {
		cfg.RxQueueDepth = raw.RxQueueDepth
	}
	if meta.IsDefined("pools") {
		cfg.Pools = raw.Pools
	}
	if meta.IsDefined("outgoing_capacity") {
		cfg.OutgoingCapacity = raw.OutgoingCapacity
	}
	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"transfer_timeout", raw.TransferTimeout, &cfg.TransferTimeout},
		{"cleanup_period", raw.CleanupPeriod, &cfg.CleanupPeriod},
		{"spin_period", raw.SpinPeriod, &cfg.SpinPeriod},
		{"tx_timeout", raw.TxTimeout, &cfg.TxTimeout},
		{"publish_period", raw.PublishPeriod, &cfg.PublishPeriod},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return NodeConfig{}, fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = v
	}
	if meta.IsDefined("status_addr") {
		cfg.StatusAddr = strings.TrimSpace(raw.StatusAddr)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CorsOrigins = normalizeOrigins(raw.CorsOrigins)
	}

	if err := cfg.Validate(); err != nil {
		return NodeConfig{}, err
	}
	return cfg, nil
}

func (c NodeConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidConfig)
	}
	if c.NodeID < 0 || c.NodeID > int(protocol.NodeIDMax) {
		return fmt.Errorf("%w: node_id %d out of range 0..%d", ErrInvalidConfig, c.NodeID, protocol.NodeIDMax)
	}
	if c.Ifaces < 1 || c.Ifaces > 3 {
		return fmt.Errorf("%w: ifaces must be 1..3, got %d", ErrInvalidConfig, c.Ifaces)
	}
	if c.RxQueueDepth < 1 {
		return fmt.Errorf("%w: rx_queue_depth must be positive", ErrInvalidConfig)
	}
	if len(c.Pools) == 0 || len(c.Pools) > pool.MaxPools {
		return fmt.Errorf("%w: need 1..%d pools, got %d", ErrInvalidConfig, pool.MaxPools, len(c.Pools))
	}
	for i, p := range c.Pools {
		if p.BlockSize < pool.MinBlockSize || p.Blocks < 1 {
			return fmt.Errorf("%w: pools[%d] block_size=%d blocks=%d", ErrInvalidConfig, i, p.BlockSize, p.Blocks)
		}
	}
	if c.OutgoingCapacity < 1 {
		return fmt.Errorf("%w: outgoing_capacity must be positive", ErrInvalidConfig)
	}
	for _, d := range []struct {
		name string
		v    time.Duration
	}{
		{"transfer_timeout", c.TransferTimeout},
		{"cleanup_period", c.CleanupPeriod},
		{"spin_period", c.SpinPeriod},
		{"tx_timeout", c.TxTimeout},
		{"publish_period", c.PublishPeriod},
	} {
		if d.v <= 0 {
			return fmt.Errorf("%w: %s must be positive", ErrInvalidConfig, d.name)
		}
	}
	return nil
}

// Encode renders c as TOML in the file format Load reads.
func (c NodeConfig) Encode() ([]byte, error) {
	out := fileConfig{
		Name:             c.Name,
		NodeID:           c.NodeID,
		Ifaces:           c.Ifaces,
		RxQueueDepth:     c.RxQueueDepth,
		Pools:            c.Pools,
		OutgoingCapacity: c.OutgoingCapacity,
		TransferTimeout:  c.TransferTimeout.String(),
		CleanupPeriod:    c.CleanupPeriod.String(),
		SpinPeriod:       c.SpinPeriod.String(),
		TxTimeout:        c.TxTimeout.String(),
		PublishPeriod:    c.PublishPeriod.String(),
		StatusAddr:       c.StatusAddr,
		CorsOrigins:      c.CorsOrigins,
	}
	data, err := gotoml.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode node config: %w", err)
	}
	return data, nil
}

func normalizeOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, origin := range in {
		v := strings.TrimSpace(origin)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
