package postgres

import "time"

// ClientOption configures Client.
type ClientOption func(*ClientConfig)

// ClientConfig holds PostgreSQL pool configuration.
type ClientConfig struct {
	DSN         string
	PoolSize    int
	MaxOverflow int
	PoolRecycle time.Duration
	PrePing     bool
	PingTimeout time.Duration
	LogQueries  bool
}

// WithDSN sets the connection string.
func WithDSN(dsn string) ClientOption {
	return func(c *ClientConfig) {
		c.DSN = dsn
	}
}

// WithPool sets the steady pool size and how many extra connections may be
// opened under load.
func WithPool(size, overflow int) ClientOption {
	return func(c *ClientConfig) {
		c.PoolSize = size
		c.MaxOverflow = overflow
	}
}

// WithPoolRecycle sets the maximum lifetime of a pooled connection.
func WithPoolRecycle(d time.Duration) ClientOption {
	return func(c *ClientConfig) {
		c.PoolRecycle = d
	}
}

// WithPrePing pings the server when the client is created.
func WithPrePing(enabled bool) ClientOption {
	return func(c *ClientConfig) {
		c.PrePing = enabled
	}
}

func WithQueryLogging(enabled bool) ClientOption {
	return func(c *ClientConfig) {
		c.LogQueries = enabled
	}
}
