// Package redis backs the oracle price table, distributed locks, rate
// limits and the pool event bus with go-redis/v9.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ClientConfig holds connection parameters for the Redis client.
type ClientConfig struct {
	// Addr is the host:port of the Redis server.
	Addr string

	// Password is sent with AUTH when non-empty.
	Password string

	// DB selects the logical database.
	DB int

	// PoolSize caps open connections; zero keeps the go-redis default.
	PoolSize int

	// MaxRetries is the number of retries per command before giving up.
	MaxRetries int

	// TLSEnabled dials with TLS 1.2 or later.
	TLSEnabled bool

	// KeyPrefix namespaces every key this package writes, so several
	// deployments can share one server.
	KeyPrefix string
}

// Client wraps a go-redis client with the deployment's key namespace.
type Client struct {
	rdb    redis.UniversalClient
	prefix string
}

// New dials Redis and pings it before returning.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	opts := &redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		PoolSize:   cfg.PoolSize,
		MaxRetries: cfg.MaxRetries,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", cfg.Addr, err)
	}
	return Wrap(rdb, cfg.KeyPrefix), nil
}

// Wrap adopts an existing client, for callers that manage the connection
// themselves.
func Wrap(rdb redis.UniversalClient, prefix string) *Client {
	if prefix == "" {
		prefix = "callpool"
	}
	return &Client{rdb: rdb, prefix: prefix}
}

// Ping checks the Redis connection.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Underlying returns the raw driver client.
func (c *Client) Underlying() redis.UniversalClient {
	return c.rdb
}

// key joins parts under the client prefix: prefix:a:b.
func (c *Client) key(parts ...string) string {
	k := c.prefix
	for _, p := range parts {
		k += ":" + p
	}
	return k
}
