package billing

import (
	"time"

	"github.com/MarioFuchs/StreamVault/internal/pkg/cache"
)

// KV is the small cache surface the service needs. The production
// implementation is the shared Redis cache; tests use an in-memory map.
type KV interface {
	Get(key string) (string, error)
	// GetDelete retrieves and removes a key in one atomic step.
	GetDelete(key string) (string, error)
	Set(key string, value interface{}, ttl time.Duration) error
	Delete(key string) error
	DeleteMatching(prefix string) error
}

// ErrKVMiss is returned by Get when a key is absent or expired.
var ErrKVMiss = cache.ErrCacheMiss

type redisKV struct{}

// NewRedisKV returns a KV backed by the shared cache client.
func NewRedisKV() KV {
	return redisKV{}
}

func (redisKV) Get(key string) (string, error) {
	return cache.Get(key)
}

func (redisKV) GetDelete(key string) (string, error) {
	return cache.GetDelete(key)
}

func (redisKV) Set(key string, value interface{}, ttl time.Duration) error {
	return cache.Set(key, value, ttl)
}

func (redisKV) Delete(key string) error {
	return cache.Delete(key)
}

func (redisKV) DeleteMatching(prefix string) error {
	return cache.DeleteMatching(prefix)
}
