package merchant

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// StepUpTTL bounds how long step-up artifacts (cached ciphertext,
// 3-D Secure continuation key) stay alive between the two page loads.
const StepUpTTL = 20 * time.Minute

// Transient store key prefixes, keyed by order id.
const (
	transientEncStringKey = "gestpay:encstring:"
	transientTransKeyKey  = "gestpay:transkey:"
)

// TransientStore is a short-TTL key-value store for step-up artifacts, so
// the 3-D Secure continuation can be driven (and tested) without a real
// browser cookie jar.
type TransientStore interface {
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
}

type memoryEntry struct {
	value   string
	expires time.Time
}

// MemoryTransientStore is the in-process backend used in tests and
// single-node deployments.
type MemoryTransientStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryTransientStore() *MemoryTransientStore {
	return &MemoryTransientStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (s *MemoryTransientStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = memoryEntry{value: value, expires: s.now().Add(ttl)}
	return nil
}

func (s *MemoryTransientStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return "", ErrNotFound
	}
	if s.now().After(e.expires) {
		delete(s.entries, key)
		return "", ErrNotFound
	}
	return e.value, nil
}

func (s *MemoryTransientStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// RedisTransientStore backs the transient store with Redis so step-up
// continuations survive across service instances.
type RedisTransientStore struct {
	rdb *redis.Client
}

func NewRedisTransientStore(rdb *redis.Client) *RedisTransientStore {
	return &RedisTransientStore{rdb: rdb}
}

func (s *RedisTransientStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.rdb.Set(ctx, key, value, ttl).Err()
}

func (s *RedisTransientStore) Get(ctx context.Context, key string) (string, error) {
	v, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	return v, err
}

func (s *RedisTransientStore) Delete(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}
