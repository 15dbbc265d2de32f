// Package cache persists transformed frame tensors on disk, one file per key.
//
// Presence is decided by an in-memory index that is filled either empty (fresh
// cache) or from a directory listing (reused cache). Entries are write-once:
// storing a key that is already present does nothing.
//
// A Cache is safe for concurrent use by goroutines of one process. Two Cache
// values opened on the same directory do not see each other's index; when they
// race to store the same key both write and the last rename wins. Files are
// written atomically so a reader never sees a torn entry.
package cache

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/kikiluvv/deepfake-detection/internal/errs"
	"github.com/kikiluvv/deepfake-detection/internal/metrics"
	"github.com/kikiluvv/deepfake-detection/internal/tensor"
	"github.com/kikiluvv/deepfake-detection/pkg/util"
)

// Cache is a write-once keyed store of tensors under one directory.
type Cache struct {
	dir     string
	logger  zerolog.Logger
	metrics *metrics.Metrics

	mu    sync.RWMutex
	index map[string]struct{}
}

// Option customizes a Cache.
type Option func(*Cache)

// WithLogger sets the logger used for cache events.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// WithMetrics attaches hit/miss/store counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// Open prepares the cache directory. With reuseExisting=false the directory
// is wiped and recreated empty. With reuseExisting=true every file already in
// it counts as present; content is not checked until Lookup.
func Open(dir string, reuseExisting bool, opts ...Option) (*Cache, error) {
	dir = filepath.Clean(strings.TrimSpace(dir))
	if dir == "" || dir == "." {
		return nil, &errs.StorageError{Op: "open", Err: errors.New("cache directory is required")}
	}

	c := &Cache{
		dir:    dir,
		logger: zerolog.Nop(),
		index:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With().Str("component", "cache").Str("dir", dir).Logger()

	if !reuseExisting {
		if err := os.RemoveAll(dir); err != nil {
			return nil, &errs.StorageError{Op: "reset", Err: err}
		}
		if err := util.EnsureDir(dir); err != nil {
			return nil, &errs.StorageError{Op: "reset", Err: err}
		}
		c.logger.Info().Msg("fresh cache")
		return c, nil
	}

	if err := util.EnsureDir(dir); err != nil {
		return nil, &errs.StorageError{Op: "open", Err: err}
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &errs.StorageError{Op: "list", Err: err}
	}
	for _, e := range entries {
		if e.IsDir() || util.IsTempName(e.Name()) {
			continue
		}
		c.index[e.Name()] = struct{}{}
	}

	c.logger.Info().Int("entries", len(c.index)).Msg("reusing cache")
	return c, nil
}

// Dir returns the cache directory.
func (c *Cache) Dir() string { return c.dir }

// Len returns the number of keys marked present.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.index)
}

// Contains reports whether key is marked present.
func (c *Cache) Contains(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.index[key]
	return ok
}

// Lookup returns the tensor stored under key. ok is false when key is not in
// the index. A present key whose file cannot be read or decoded is a
// StorageError.
func (c *Cache) Lookup(key string) (t tensor.Tensor, ok bool, err error) {
	if !c.Contains(key) {
		c.metrics.IncCacheMiss()
		return tensor.Tensor{}, false, nil
	}

	f, err := os.Open(filepath.Join(c.dir, key))
	if err != nil {
		return tensor.Tensor{}, false, &errs.StorageError{Op: "read", Key: key, Err: err}
	}
	defer f.Close()

	t, err = tensor.Decode(f)
	if err != nil {
		return tensor.Tensor{}, false, &errs.StorageError{Op: "decode", Key: key, Err: err}
	}

	c.metrics.IncCacheHit()
	c.logger.Debug().Str("key", key).Ints("shape", t.Shape).Msg("cache hit")
	return t, true, nil
}

// Store persists t under key unless key is already present.
func (c *Cache) Store(key string, t tensor.Tensor) error {
	if err := checkKey(key); err != nil {
		return &errs.StorageError{Op: "store", Key: key, Err: err}
	}

	// Holding the write lock across the write keeps goroutines of this
	// process from writing the same key twice.
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.index[key]; ok {
		c.metrics.IncCacheStoreSkipped()
		return nil
	}

	err := util.WriteFileAtomic(c.dir, key, func(w io.Writer) error {
		return tensor.Encode(w, t)
	})
	if err != nil {
		return &errs.StorageError{Op: "write", Key: key, Err: err}
	}

	c.index[key] = struct{}{}
	c.metrics.IncCacheStore()
	c.logger.Debug().Str("key", key).Ints("shape", t.Shape).Msg("cache store")
	return nil
}

func checkKey(key string) error {
	switch {
	case key == "", key == ".", key == "..":
		return fmt.Errorf("invalid key %q", key)
	case strings.ContainsAny(key, `/\`):
		return fmt.Errorf("key %q contains a path separator", key)
	case util.IsTempName(key):
		return fmt.Errorf("key %q collides with temp file names", key)
	}
	return nil
}
