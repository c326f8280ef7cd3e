package utils

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig describes the client shared by the distributed locks and the webhook
// idempotency store. Addr is either host:port or a redis:// (rediss://) URL; a URL's
// credentials and database win over Password and DB.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
	MinIdleConns int
	PingTimeout  time.Duration

	ConnectAttempts int
	ConnectBackoff  time.Duration
}

func (c RedisConfig) withDefaults() RedisConfig {
	out := c
	if out.DialTimeout <= 0 {
		out.DialTimeout = 3 * time.Second
	}
	// Lock renewals must fail fast rather than outlive the lock TTL.
	if out.ReadTimeout <= 0 {
		out.ReadTimeout = time.Second
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = time.Second
	}
	if out.PoolSize <= 0 {
		out.PoolSize = 20
	}
	if out.MinIdleConns < 0 {
		out.MinIdleConns = 0
	}
	if out.PingTimeout <= 0 {
		out.PingTimeout = 2 * time.Second
	}
	if out.ConnectAttempts <= 0 {
		out.ConnectAttempts = 5
	}
	if out.ConnectBackoff <= 0 {
		out.ConnectBackoff = 500 * time.Millisecond
	}
	return out
}

func (c RedisConfig) options() (*redis.Options, error) {
	if c.Addr == "" {
		return nil, errors.New("redis addr is required")
	}
	var opts *redis.Options
	if strings.HasPrefix(c.Addr, "redis://") || strings.HasPrefix(c.Addr, "rediss://") {
		parsed, err := redis.ParseURL(c.Addr)
		if err != nil {
			return nil, fmt.Errorf("redis url: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: c.Addr, Password: c.Password, DB: c.DB}
	}
	opts.DialTimeout = c.DialTimeout
	opts.ReadTimeout = c.ReadTimeout
	opts.WriteTimeout = c.WriteTimeout
	opts.PoolSize = c.PoolSize
	opts.MinIdleConns = c.MinIdleConns
	return opts, nil
}

// OpenRedis builds a client and waits until Redis answers PING.
func OpenRedis(ctx context.Context, cfg RedisConfig, log *slog.Logger) (*redis.Client, error) {
	cfg = cfg.withDefaults()
	opts, err := cfg.options()
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	err = waitReady(ctx, "redis", cfg.ConnectAttempts, cfg.ConnectBackoff, log, func(ctx context.Context) error {
		pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
		defer cancel()
		return rdb.Ping(pingCtx).Err()
	})
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

// waitReady calls ping until it succeeds, doubling backoff between attempts.
func waitReady(ctx context.Context, name string, attempts int, backoff time.Duration, log *slog.Logger, ping func(context.Context) error) error {
	if log == nil {
		log = slog.Default()
	}
	for attempt := 1; ; attempt++ {
		err := ping(ctx)
		if err == nil {
			return nil
		}
		if attempt >= attempts {
			return err
		}
		log.Warn(name+" not ready", "attempt", attempt, "retry_in", backoff, "err", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}
