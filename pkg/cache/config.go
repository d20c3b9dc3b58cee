package cache

import (
	"fmt"
	"time"
)

// RedisOption configures NewRedisCache.
type RedisOption func(*RedisConfig)

// RedisConfig describes one Redis endpoint. The same client also carries the
// job queue, so the pool is sized for queue workers plus report traffic.
type RedisConfig struct {
	Host         string
	Port         int
	Password     string
	DB           int
	Prefix       string
	PoolSize     int
	MinIdleConns int
	PoolTimeout  time.Duration
}

func defaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Host:         "localhost",
		Port:         6379,
		Prefix:       "backtest",
		PoolSize:     10,
		MinIdleConns: 2,
		PoolTimeout:  30 * time.Second,
	}
}

func (c *RedisConfig) addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// WithRedisAddr points the cache at host:port.
func WithRedisAddr(host string, port int) RedisOption {
	return func(c *RedisConfig) {
		c.Host = host
		c.Port = port
	}
}

// WithRedisAuth selects the password and logical database.
func WithRedisAuth(password string, db int) RedisOption {
	return func(c *RedisConfig) {
		c.Password = password
		c.DB = db
	}
}

// WithRedisPrefix namespaces every cache key.
func WithRedisPrefix(prefix string) RedisOption {
	return func(c *RedisConfig) {
		c.Prefix = prefix
	}
}

// WithRedisPool sizes the connection pool. Zero values keep the defaults.
func WithRedisPool(size, minIdle int, timeout time.Duration) RedisOption {
	return func(c *RedisConfig) {
		if size > 0 {
			c.PoolSize = size
		}
		if minIdle > 0 {
			c.MinIdleConns = minIdle
		}
		if timeout > 0 {
			c.PoolTimeout = timeout
		}
	}
}

// MemoryOption configures NewMemoryCache.
type MemoryOption func(*MemoryConfig)

// MemoryConfig bounds the in-process cache. Past MaxEntries the least
// recently read entry is evicted; expired entries are swept every
// SweepInterval.
type MemoryConfig struct {
	MaxEntries    int
	SweepInterval time.Duration
}

// WithMemoryLimits sets the entry cap and sweep interval. Zero values keep
// the defaults.
func WithMemoryLimits(maxEntries int, sweep time.Duration) MemoryOption {
	return func(c *MemoryConfig) {
		if maxEntries > 0 {
			c.MaxEntries = maxEntries
		}
		if sweep > 0 {
			c.SweepInterval = sweep
		}
	}
}
