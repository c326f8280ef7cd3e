package locks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var releaseScript = redis.NewScript(`
-- KEYS[1] = lock key
-- ARGV[1] = owner token
--
-- Deletes the key only if it is still owned by the caller.
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisConfig controls the distributed lock behavior.
type RedisConfig struct {
	Prefix string

	// TTL bounds how long a crashed holder can keep a key locked.
	TTL time.Duration

	// RetryInterval is the poll interval while waiting for a held key.
	RetryInterval time.Duration
}

func (c RedisConfig) withDefaults() RedisConfig {
	out := c
	if out.Prefix == "" {
		out.Prefix = "callcenter:lock:"
	}
	if out.TTL <= 0 {
		out.TTL = 30 * time.Second
	}
	if out.RetryInterval <= 0 {
		out.RetryInterval = 10 * time.Millisecond
	}
	return out
}

// Redis is a Locker shared by every API instance pointing at the same Redis.
type Redis struct {
	rdb *redis.Client
	cfg RedisConfig
}

func NewRedis(rdb *redis.Client, cfg RedisConfig) (*Redis, error) {
	if rdb == nil {
		return nil, errors.New("locks: redis client is nil")
	}
	return &Redis{rdb: rdb, cfg: cfg.withDefaults()}, nil
}

func (r *Redis) Lock(ctx context.Context, key string) (Unlock, error) {
	if key == "" {
		return nil, errors.New("locks: key is required")
	}
	full := r.cfg.Prefix + key
	token := uuid.NewString()

	for {
		ok, err := r.rdb.SetNX(ctx, full, token, r.cfg.TTL).Result()
		if err != nil {
			return nil, fmt.Errorf("locks: acquire %s: %w", key, err)
		}
		if ok {
			break
		}
		t := time.NewTimer(r.cfg.RetryInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// Release must not be skipped because the caller's context ended.
			releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = releaseScript.Run(releaseCtx, r.rdb, []string{full}, token).Err()
		})
	}, nil
}
