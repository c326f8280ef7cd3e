package webhook

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeyStore remembers provider callbacks that were already accepted.
//
// Claim returns false when the key was claimed before and has not expired.
// Release forgets a key so a redelivery of the same callback is processed again.
type KeyStore interface {
	Claim(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// Key derives the idempotency key of a provider callback. Twilio numbers the callbacks of
// one call; without a sequence number the whole signed body is hashed.
func Key(kind string, params map[string]string) string {
	sid := params["CallSid"]
	seq := params["SequenceNumber"]
	if sid != "" && seq != "" {
		status := params["CallStatus"]
		if kind == KindRecording {
			status = "recording-" + params["RecordingStatus"]
		}
		return "twilio:" + sid + ":" + status + ":" + seq
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	h := sha256.New()
	h.Write([]byte(kind))
	for _, k := range keys {
		h.Write([]byte{0})
		h.Write([]byte(k))
		h.Write([]byte{'='})
		h.Write([]byte(params[k]))
	}
	return "twilio:" + kind + ":" + hex.EncodeToString(h.Sum(nil))
}

// MemoryKeyStore is a KeyStore for tests and single-instance development.
type MemoryKeyStore struct {
	mu    sync.Mutex
	ttl   time.Duration
	keys  map[string]time.Time
	clock func() time.Time
}

func NewMemoryKeyStore(ttl time.Duration) *MemoryKeyStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &MemoryKeyStore{ttl: ttl, keys: map[string]time.Time{}, clock: time.Now}
}

// SetClock replaces the time source; intended for tests.
func (s *MemoryKeyStore) SetClock(clock func() time.Time) { s.clock = clock }

func (s *MemoryKeyStore) Claim(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock()
	if exp, ok := s.keys[key]; ok && now.Before(exp) {
		return false, nil
	}
	s.keys[key] = now.Add(s.ttl)
	if len(s.keys)%1024 == 0 {
		for k, exp := range s.keys {
			if !now.Before(exp) {
				delete(s.keys, k)
			}
		}
	}
	return true, nil
}

func (s *MemoryKeyStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, key)
	return nil
}

// RedisKeyStore shares claimed keys between instances with SET NX and a TTL.
type RedisKeyStore struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisKeyStore(rdb *redis.Client, prefix string, ttl time.Duration) (*RedisKeyStore, error) {
	if rdb == nil {
		return nil, errors.New("webhook: redis client is nil")
	}
	if prefix == "" {
		prefix = "callcenter:webhook:"
	}
	if !strings.HasSuffix(prefix, ":") {
		prefix += ":"
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisKeyStore{rdb: rdb, prefix: prefix, ttl: ttl}, nil
}

func (s *RedisKeyStore) Claim(ctx context.Context, key string) (bool, error) {
	return s.rdb.SetNX(ctx, s.prefix+key, time.Now().UTC().Format(time.RFC3339), s.ttl).Result()
}

func (s *RedisKeyStore) Release(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, s.prefix+key).Err()
}
