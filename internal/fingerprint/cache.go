package fingerprint

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// MetadataCache remembers the checksum of a file keyed by its size and
// modification time so unchanged files are not re-read on every pass.
//
// Same-size edits that land within the filesystem's mtime granularity are
// invisible to the cache, which is why it is opt-in.
type MetadataCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	hits    int64
	misses  int64
}

type cacheEntry struct {
	modTime time.Time
	size    int64
	crc     uint32
}

// CacheStats reports hit and miss counts.
type CacheStats struct {
	Entries int   `json:"entries"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
}

// NewMetadataCache creates an empty cache.
func NewMetadataCache() *MetadataCache {
	return &MetadataCache{entries: make(map[string]cacheEntry)}
}

// Lookup returns the cached checksum when path still has the recorded size
// and modification time.
func (c *MetadataCache) Lookup(path string, info os.FileInfo) (uint32, bool) {
	c.mu.RLock()
	e, ok := c.entries[path]
	c.mu.RUnlock()

	if !ok || e.size != info.Size() || !e.modTime.Equal(info.ModTime()) {
		atomic.AddInt64(&c.misses, 1)
		return 0, false
	}

	atomic.AddInt64(&c.hits, 1)
	return e.crc, true
}

// Store records the checksum computed for path.
func (c *MetadataCache) Store(path string, info os.FileInfo, crc uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[path] = cacheEntry{modTime: info.ModTime(), size: info.Size(), crc: crc}
}

// Prune drops entries under root that were not seen in the latest pass.
func (c *MetadataCache) Prune(root string, seen map[string]struct{}) {
	prefix := filepath.Clean(root) + string(filepath.Separator)
	if filepath.Clean(root) == "." {
		prefix = ""
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for path := range c.entries {
		if !strings.HasPrefix(path, prefix) {
			continue
		}
		if _, ok := seen[path]; !ok {
			delete(c.entries, path)
		}
	}
}

// Stats returns a snapshot of the cache counters.
func (c *MetadataCache) Stats() CacheStats {
	c.mu.RLock()
	n := len(c.entries)
	c.mu.RUnlock()

	return CacheStats{
		Entries: n,
		Hits:    atomic.LoadInt64(&c.hits),
		Misses:  atomic.LoadInt64(&c.misses),
	}
}
