// Package redis holds the Redis-backed pieces of the notifier: the redelivery guard
// for fault events and the per-tenant limiter in front of the ingest endpoint.
// Both are optional; the gateway runs without Redis and loses only those two.
package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Config holds Redis connection settings.
type Config struct {
	Host     string
	Port     int
	Password string
	DB       int

	// Namespace prefixes every key so several deployments can share one instance
	Namespace string
}

// Client is the connection shared by the event guard and the rate limiter.
type Client struct {
	rdb       *redis.Client
	namespace string
	logger    *zap.Logger
}

// New connects and pings. Timeouts are short: both users fail open, so a slow
// Redis must cost little on the event path.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     10,
		MinIdleConns: 2,
		PoolTimeout:  time.Second,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	logger.Info("redis connected",
		zap.String("addr", rdb.Options().Addr),
		zap.String("namespace", cfg.Namespace),
	)

	return &Client{rdb: rdb, namespace: cfg.Namespace, logger: logger}, nil
}

// NewFromClient wraps an existing go-redis client without pinging it
func NewFromClient(rdb *redis.Client, logger *zap.Logger) *Client {
	return &Client{rdb: rdb, logger: logger}
}

// key joins parts with ':' under the namespace
func (c *Client) key(parts ...string) string {
	k := strings.Join(parts, ":")
	if c.namespace == "" {
		return k
	}
	return c.namespace + ":" + k
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping backs the gateway's health check
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// OpenConns reports the pool's open connection count
func (c *Client) OpenConns() int {
	return int(c.rdb.PoolStats().TotalConns)
}
