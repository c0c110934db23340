package session

import "time"

// Config defines publisher timing defaults.
type Config struct {
	// TxTimeout bounds how long frames of one transfer may wait for the bus.
	TxTimeout time.Duration
	// TransferIDKeepAlive is how long an idle outgoing stream keeps its
	// transfer id counter.
	TransferIDKeepAlive time.Duration
}

func DefaultConfig() Config {
	return Config{
		TxTimeout:           10 * time.Millisecond,
		TransferIDKeepAlive: 2 * time.Second,
	}
}

// WithDefaults fills unset fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.TxTimeout <= 0 {
		c.TxTimeout = def.TxTimeout
	}
	if c.TransferIDKeepAlive <= 0 {
		c.TransferIDKeepAlive = def.TransferIDKeepAlive
	}
	return c
}
