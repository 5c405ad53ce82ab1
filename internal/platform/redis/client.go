// Package redis owns the shared Redis connection backing the credential
// cache and the ephemeral witness key store.
package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"communique/internal/platform/config"
)

// Client wraps go-redis with a health check for the readiness endpoint.
type Client struct {
	*redis.Client
}

// New connects using the configured URL and verifies the connection with a
// ping before handing it out. Returns nil when no URL is configured so the
// caller decides whether Redis is mandatory.
func New(cfg config.RedisConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout

	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{Client: client}, nil
}

func (c *Client) Health(ctx context.Context) error {
	return c.Ping(ctx).Err()
}

func (c *Client) Close() error {
	return c.Client.Close()
}
