package stream

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/MarioFuchs/StreamVault/internal/pkg/cache"
)

// Blob describes an immutable stored media object.
type Blob struct {
	Key         string
	Size        int64
	ContentType string
}

// Store is the byte-range-readable storage backend behind a Blob.
// Exists probes for the object without opening it; Open returns a reader
// already positioned at offset.
type Store interface {
	Exists(ctx context.Context, key string) (bool, error)
	Open(ctx context.Context, key string, offset int64) (io.ReadCloser, error)
}

// LocalStore serves blobs from a directory on disk.
type LocalStore struct {
	Root string
}

func NewLocalStore(root string) *LocalStore {
	return &LocalStore{Root: root}
}

func (s *LocalStore) pathFor(key string) (string, error) {
	p := filepath.Join(s.Root, filepath.Clean("/"+key))
	if !strings.HasPrefix(p, filepath.Clean(s.Root)+string(os.PathSeparator)) {
		return "", fmt.Errorf("storage key %q escapes root", key)
	}
	return p, nil
}

func (s *LocalStore) Exists(_ context.Context, key string) (bool, error) {
	p, err := s.pathFor(key)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return !info.IsDir(), nil
}

func (s *LocalStore) Open(_ context.Context, key string, offset int64) (io.ReadCloser, error) {
	p, err := s.pathFor(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			f.Close()
			return nil, err
		}
	}
	return f, nil
}

// CachedStore memoizes existence probes in the shared cache. Blobs are
// immutable once created, so a positive probe stays valid; entries are
// advisory and reconstructible from the backing store.
type CachedStore struct {
	Inner Store
	TTL   time.Duration
}

func NewCachedStore(inner Store, ttl time.Duration) *CachedStore {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &CachedStore{Inner: inner, TTL: ttl}
}

// Exists memoizes positive probes only. Immutability guarantees an
// existing blob stays existing; a missing one may land at any moment, so
// negative probes always go to the backing store.
func (s *CachedStore) Exists(ctx context.Context, key string) (bool, error) {
	cacheKey := "blob_exists:" + key
	if v, err := cache.Get(cacheKey); err == nil && v == "1" {
		return true, nil
	}

	ok, err := s.Inner.Exists(ctx, key)
	if err != nil {
		return false, err
	}
	if ok {
		if err := cache.Set(cacheKey, "1", s.TTL); err != nil {
			log.Debugf("[Stream] existence probe cache write failed for %s: %v", key, err)
		}
	}
	return ok, nil
}

func (s *CachedStore) Open(ctx context.Context, key string, offset int64) (io.ReadCloser, error) {
	return s.Inner.Open(ctx, key, offset)
}
