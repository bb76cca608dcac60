// Package cache implements the persistent transform cache: a content-keyed
// store of previously transformed source text shared by every build with the
// same fingerprint.
//
// Writes are buffered in memory and only hit the disk on Flush, which drains
// the buffer with bounded concurrency. Entries live at
// <root>/cache/<fingerprint>/<key>, one flat file per entry.
//
// Keys are derived from the source id, the fingerprint and the source
// modification time rather than a content hash. Touching a file without
// changing it therefore costs a miss, and a file rewritten within the same
// mtime resolution can alias an older entry.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/conneroisu/hotswap/internal/errors"
	"github.com/conneroisu/hotswap/internal/logging"
)

const (
	// DirName is the directory under the shared root that holds every
	// fingerprint's entries.
	DirName = "cache"

	// DefaultConcurrency is the number of parallel writes during Flush.
	DefaultConcurrency = 20

	defaultMemoryBytes = 32 << 20
)

// Config configures a TransformCache.
type Config struct {
	// Root is the project's shared directory; entries go under Root/cache.
	Root        string
	Fingerprint string
	Concurrency int
	MemoryBytes int64
}

// TransformCache is safe for concurrent use.
type TransformCache struct {
	dir         string
	concurrency int
	logger      logging.Logger
	memory      *lru

	mutex    sync.Mutex
	buffer   map[string]string
	inflight map[string]string

	hits   atomic.Int64
	misses atomic.Int64
}

// Stats is a point-in-time view of cache activity.
type Stats struct {
	Dir           string `json:"dir"`
	Hits          int64  `json:"hits"`
	Misses        int64  `json:"misses"`
	Buffered      int    `json:"buffered"`
	MemoryEntries int    `json:"memory_entries"`
	MemoryBytes   int64  `json:"memory_bytes"`
}

// FlushStats describes one Flush.
type FlushStats struct {
	Written  int
	Failed   int
	Bytes    int64
	Duration time.Duration
}

// Key derives the cache key for one source file under a fingerprint.
func Key(sourceID, fingerprint string, modTime time.Time) string {
	h := sha256.New()
	h.Write([]byte(sourceID))
	h.Write([]byte{0})
	h.Write([]byte(fingerprint))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(modTime.UnixNano(), 10)))
	return hex.EncodeToString(h.Sum(nil))
}

// New creates a cache for one fingerprint. Nothing touches the disk until
// the first Get miss or Flush.
func New(cfg Config, logger logging.Logger) *TransformCache {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.MemoryBytes <= 0 {
		cfg.MemoryBytes = defaultMemoryBytes
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	return &TransformCache{
		dir:         filepath.Join(cfg.Root, DirName, cfg.Fingerprint),
		concurrency: cfg.Concurrency,
		logger:      logger.WithComponent("transform-cache").With("fingerprint", cfg.Fingerprint),
		memory:      newLRU(cfg.MemoryBytes),
		buffer:      make(map[string]string),
	}
}

// Dir returns the directory holding this fingerprint's entries.
func (c *TransformCache) Dir() string {
	return c.dir
}

// Get returns the cached text for key. It never fails: unreadable entries
// are reported as a miss.
func (c *TransformCache) Get(key string) (string, bool) {
	c.mutex.Lock()
	if v, ok := c.buffer[key]; ok {
		c.mutex.Unlock()
		c.hits.Add(1)
		return v, true
	}
	if v, ok := c.inflight[key]; ok {
		c.mutex.Unlock()
		c.hits.Add(1)
		return v, true
	}
	c.mutex.Unlock()

	if v, ok := c.memory.get(key); ok {
		c.hits.Add(1)
		return v, true
	}

	if !validKey(key) {
		c.misses.Add(1)
		return "", false
	}

	data, err := os.ReadFile(filepath.Join(c.dir, key))
	if err != nil {
		if !os.IsNotExist(err) {
			c.logger.Debug(context.Background(), "Cache read failed", "key", key, "error", err.Error())
		}
		c.misses.Add(1)
		return "", false
	}

	value := string(data)
	c.memory.set(key, value)
	c.hits.Add(1)
	return value, true
}

// Set buffers value under key. A later Set of the same key before the next
// Flush replaces the buffered value.
func (c *TransformCache) Set(key, value string) {
	c.mutex.Lock()
	c.buffer[key] = value
	c.mutex.Unlock()
}

// Flush writes every buffered entry to disk with at most the configured
// number of concurrent writes. Individual failures are logged and dropped.
func (c *TransformCache) Flush(ctx context.Context) FlushStats {
	start := time.Now()

	c.mutex.Lock()
	pending := c.buffer
	c.buffer = make(map[string]string)
	c.inflight = pending
	c.mutex.Unlock()

	defer func() {
		c.mutex.Lock()
		c.inflight = nil
		c.mutex.Unlock()
	}()

	var stats FlushStats
	if len(pending) == 0 {
		return stats
	}

	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		c.logger.Error(ctx, errors.WrapIO(err, errors.ErrCodeCacheIO, "create cache directory"),
			"Cache flush skipped", "entries", len(pending))
		stats.Failed = len(pending)
		return stats
	}

	var written, failed, bytes atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for key, value := range pending {
		key, value := key, value
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				failed.Add(1)
				return nil
			}
			if err := c.write(key, value); err != nil {
				c.logger.Warn(gctx, err, "Cache write failed", "key", key)
				failed.Add(1)
				return nil
			}
			c.memory.set(key, value)
			written.Add(1)
			bytes.Add(int64(len(value)))
			return nil
		})
	}
	_ = g.Wait()

	stats.Written = int(written.Load())
	stats.Failed = int(failed.Load())
	stats.Bytes = bytes.Load()
	stats.Duration = time.Since(start)

	c.logger.Debug(ctx, "Cache flushed",
		"written", stats.Written,
		"failed", stats.Failed,
		"size", humanize.Bytes(uint64(stats.Bytes)),
		"duration_ms", stats.Duration.Milliseconds())

	return stats
}

// write stores one entry through a temp file so readers never observe a
// partially written value.
func (c *TransformCache) write(key, value string) error {
	if !validKey(key) {
		return errors.NewValidationError(errors.ErrCodeCacheIO, "invalid cache key: "+key)
	}

	tmp, err := os.CreateTemp(c.dir, ".tmp-"+key[:min(8, len(key))]+"-*")
	if err != nil {
		return errors.WrapIO(err, errors.ErrCodeCacheIO, "create temp file")
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(value); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.WrapIO(err, errors.ErrCodeCacheIO, "write cache entry")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.WrapIO(err, errors.ErrCodeCacheIO, "close cache entry")
	}
	if err := os.Rename(tmpName, filepath.Join(c.dir, key)); err != nil {
		os.Remove(tmpName)
		return errors.WrapIO(err, errors.ErrCodeCacheIO, "commit cache entry")
	}
	return nil
}

// Stats returns current counters.
func (c *TransformCache) Stats() Stats {
	c.mutex.Lock()
	buffered := len(c.buffer)
	c.mutex.Unlock()

	entries, size := c.memory.stats()
	return Stats{
		Dir:           c.dir,
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Buffered:      buffered,
		MemoryEntries: entries,
		MemoryBytes:   size,
	}
}

// Reset removes every persisted entry under root, for all fingerprints.
// Live caches keep their in-memory state.
func Reset(root string) error {
	dir := filepath.Join(root, DirName)
	if err := os.RemoveAll(dir); err != nil {
		return errors.WrapIO(err, errors.ErrCodeCacheIO, "remove "+dir)
	}
	return nil
}

// DiskUsage reports the number of entries and bytes persisted under root.
func DiskUsage(root string) (int, int64, error) {
	var count int
	var size int64
	err := filepath.WalkDir(filepath.Join(root, DirName), func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".tmp-") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		count++
		size += info.Size()
		return nil
	})
	return count, size, err
}

func validKey(key string) bool {
	return key != "" && key != "." && key != ".." &&
		!strings.ContainsAny(key, `/\`) && !strings.HasPrefix(key, ".tmp-")
}
