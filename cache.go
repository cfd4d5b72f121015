package remotekit

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DefaultCacheTTL is the retention window for cache entries.
const DefaultCacheTTL = 24 * time.Hour

// FileCache is the one on-disk cache shared by every remote-file consumer
// (thumbnailing, playback, metadata extraction), so the same remote
// path+size is fetched from the network once.
//
// Entries are flat files named {xxhash64(path)}_{size} under a single cache
// directory; directory listing plus filename parsing is the only index.
// Size is part of the key, so a remote file whose size changed can never
// silently serve stale bytes. An entry is valid only while its on-disk
// length equals the expected size exactly and its age is under the TTL;
// any violation is resolved by deleting the entry and reporting a miss,
// never by surfacing an error.
type FileCache struct {
	dir string
	ttl time.Duration
	log *zap.Logger
	now func() time.Time

	// group collapses concurrent first-time fetches of one key into a
	// single download.
	group singleflight.Group
}

// CacheOption configures a FileCache.
type CacheOption func(*FileCache)

// WithCacheTTL overrides the retention window.
func WithCacheTTL(ttl time.Duration) CacheOption {
	return func(c *FileCache) { c.ttl = ttl }
}

// WithCacheLogger sets the cache's logger.
func WithCacheLogger(log *zap.Logger) CacheOption {
	return func(c *FileCache) { c.log = log }
}

// withCacheClock overrides the cache's time source. Test hook.
func withCacheClock(now func() time.Time) CacheOption {
	return func(c *FileCache) { c.now = now }
}

// NewFileCache creates a cache rooted at dir, creating it if needed.
func NewFileCache(dir string, opts ...CacheOption) (*FileCache, error) {
	c := &FileCache{
		dir: dir,
		ttl: DefaultCacheTTL,
		log: zap.NewNop(),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, ioErr("cache init", dir, err)
	}
	return c, nil
}

// Key derives the stable cache key for a remote path and its expected size.
func Key(path string, size int64) string {
	return fmt.Sprintf("%016x_%d", xxhash.Sum64String(path), size)
}

// Slot returns the on-disk location the entry for (path, size) would
// occupy, whether or not it exists. Callers streaming a download directly
// into the cache write here.
func (c *FileCache) Slot(path string, size int64) string {
	return filepath.Join(c.dir, Key(path, size))
}

// CachedFile returns the cached local copy for (path, size), or ok=false
// on a miss. A stored file whose length or age violates the entry contract
// is deleted before the miss is reported, so truncated or stale entries
// can never be handed out.
func (c *FileCache) CachedFile(path string, size int64) (string, bool) {
	slot := c.Slot(path, size)

	fi, err := os.Stat(slot)
	if err != nil {
		return "", false
	}

	if fi.Size() != size || c.now().Sub(fi.ModTime()) >= c.ttl {
		c.log.Debug("cache entry invalidated",
			zap.String("slot", slot),
			zap.Int64("want_size", size),
			zap.Int64("have_size", fi.Size()))
		if err := os.Remove(slot); err != nil && !os.IsNotExist(err) {
			c.log.Warn("cache entry remove", zap.String("slot", slot), zap.Error(err))
		}
		return "", false
	}

	return slot, true
}

// Put copies sourceFile into the cache slot for (path, size). When
// sourceFile already is the slot, as when a download streamed straight into
// the cache, Put only freshens its timestamp. The copy goes through a .part
// sibling and a rename, so a crashed Put never leaves a half-written entry
// under a valid name.
func (c *FileCache) Put(path string, size int64, sourceFile string) (string, error) {
	slot := c.Slot(path, size)

	abs, err := filepath.Abs(sourceFile)
	if err == nil {
		if slotAbs, err2 := filepath.Abs(slot); err2 == nil && abs == slotAbs {
			now := c.now()
			if err := os.Chtimes(slot, now, now); err != nil {
				c.log.Debug("cache touch", zap.String("slot", slot), zap.Error(err))
			}
			return slot, nil
		}
	}

	src, err := os.Open(sourceFile)
	if err != nil {
		return "", ioErr("cache put", sourceFile, err)
	}
	defer src.Close()

	part := slot + ".part"
	dst, err := os.Create(part)
	if err != nil {
		return "", ioErr("cache put", part, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(part)
		return "", ioErr("cache put", part, err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(part)
		return "", ioErr("cache put", part, err)
	}
	if err := os.Rename(part, slot); err != nil {
		os.Remove(part)
		return "", ioErr("cache put", slot, err)
	}

	return slot, nil
}

// Fetch returns the cached file for (path, size), invoking fill to produce
// it on a miss. fill receives the slot location and must write the complete
// file there. Concurrent Fetch calls for the same key share one fill; the
// losers of the race reuse the winner's download instead of duplicating
// network work.
func (c *FileCache) Fetch(ctx context.Context, path string, size int64, fill func(ctx context.Context, dest string) error) (string, error) {
	key := Key(path, size)

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		if slot, ok := c.CachedFile(path, size); ok {
			return slot, nil
		}

		slot := c.Slot(path, size)
		if err := fill(ctx, slot); err != nil {
			os.Remove(slot)
			return nil, err
		}

		fi, err := os.Stat(slot)
		if err != nil {
			return nil, ioErr("cache fetch", slot, err)
		}
		if fi.Size() != size {
			os.Remove(slot)
			return nil, ioErr("cache fetch", slot,
				fmt.Errorf("fetched %d bytes, expected %d", fi.Size(), size))
		}
		return slot, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// ClearAll deletes every cache entry, best effort. Partial failures are
// logged and do not fail the clear.
func (c *FileCache) ClearAll() {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		c.log.Warn("cache clear list", zap.String("dir", c.dir), zap.Error(err))
		return
	}

	for _, e := range entries {
		if e.IsDir() || !isCacheEntryName(e.Name()) {
			continue
		}
		p := filepath.Join(c.dir, e.Name())
		if err := os.Remove(p); err != nil {
			c.log.Warn("cache clear entry", zap.String("entry", p), zap.Error(err))
		}
	}
}

// Size walks the cache directory and returns the total bytes held.
func (c *FileCache) Size() int64 {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return 0
	}

	var total int64
	for _, e := range entries {
		if e.IsDir() || !isCacheEntryName(e.Name()) {
			continue
		}
		if fi, err := e.Info(); err == nil {
			total += fi.Size()
		}
	}
	return total
}

// isCacheEntryName reports whether name matches {16-hex}_{decimal-size}.
func isCacheEntryName(name string) bool {
	hash, sizeStr, ok := strings.Cut(name, "_")
	if !ok || len(hash) != 16 {
		return false
	}
	if _, err := strconv.ParseUint(hash, 16, 64); err != nil {
		return false
	}
	_, err := strconv.ParseInt(sizeStr, 10, 64)
	return err == nil
}
