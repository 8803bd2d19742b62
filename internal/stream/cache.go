package stream

import (
	"hash/fnv"
	"sync"
	"sync/atomic"

	"github.com/gogpu/vstream/internal/lru"
	"github.com/gogpu/vstream/streamcore"
)

// Byte-cache configuration constants.
const (
	// cacheShardCount is the number of shards for reduced lock contention.
	// Must be a power of 2 for fast modulo via bitwise AND.
	cacheShardCount = 8

	// cacheShardMask selects a shard from a key hash.
	cacheShardMask = cacheShardCount - 1

	// DefaultCacheCapacity is the default maximum entries per shard.
	DefaultCacheCapacity = 32
)

// ByteCache retains recently produced granule bytes so that a granule
// evicted and re-requested within the cache window skips the decode.
// Sharded to keep worker contention low.
//
// ByteCache is safe for concurrent use.
type ByteCache struct {
	shards   [cacheShardCount]*cacheShard
	capacity int

	hits   atomic.Uint64
	misses atomic.Uint64
}

// cacheShard is one shard: a key map plus an LRU recency list.
type cacheShard struct {
	mu      sync.Mutex
	entries map[streamcore.GranuleKey]*cacheEntry
	order   *lru.List[streamcore.GranuleKey]
}

type cacheEntry struct {
	data []byte
	node *lru.Node[streamcore.GranuleKey]
}

// NewByteCache creates a byte cache with the given per-shard entry
// capacity. If capacity <= 0, DefaultCacheCapacity is used.
func NewByteCache(capacity int) *ByteCache {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}

	c := &ByteCache{capacity: capacity}
	for i := range c.shards {
		c.shards[i] = &cacheShard{
			entries: make(map[streamcore.GranuleKey]*cacheEntry),
			order:   lru.New[streamcore.GranuleKey](),
		}
	}
	return c
}

// shardFor selects the shard of a key by FNV-1a hash.
func (c *ByteCache) shardFor(key streamcore.GranuleKey) *cacheShard {
	h := fnv.New64a()
	var buf [6]byte
	buf[0] = byte(key.Resource)
	buf[1] = byte(key.Resource >> 8)
	buf[2] = byte(key.Resource >> 16)
	buf[3] = byte(key.Resource >> 24)
	buf[4] = byte(key.Level)
	buf[5] = byte(key.Level >> 8)
	_, _ = h.Write(buf[:]) // fnv.Write never returns an error
	return c.shards[h.Sum64()&cacheShardMask]
}

// Get returns cached bytes for a granule and refreshes its recency.
// The returned slice is shared; callers must treat it as read-only.
func (c *ByteCache) Get(key streamcore.GranuleKey) ([]byte, bool) {
	shard := c.shardFor(key)

	shard.mu.Lock()
	entry, ok := shard.entries[key]
	if !ok {
		shard.mu.Unlock()
		c.misses.Add(1)
		return nil, false
	}
	shard.order.MoveToFront(entry.node)
	data := entry.data
	shard.mu.Unlock()

	c.hits.Add(1)
	return data, true
}

// Put stores a copy of the granule bytes, evicting the shard's oldest
// entries past capacity.
func (c *ByteCache) Put(key streamcore.GranuleKey, data []byte) {
	owned := make([]byte, len(data))
	copy(owned, data)

	shard := c.shardFor(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	if entry, ok := shard.entries[key]; ok {
		entry.data = owned
		shard.order.MoveToFront(entry.node)
		return
	}

	for shard.order.Len() >= c.capacity {
		oldest, ok := shard.order.RemoveOldest()
		if !ok {
			break
		}
		delete(shard.entries, oldest)
	}

	shard.entries[key] = &cacheEntry{
		data: owned,
		node: shard.order.PushFront(key),
	}
}

// DropResource removes every cached granule of a resource.
func (c *ByteCache) DropResource(id streamcore.ResourceID) {
	for _, shard := range c.shards {
		shard.mu.Lock()
		for key, entry := range shard.entries {
			if key.Resource == id {
				shard.order.Remove(entry.node)
				delete(shard.entries, key)
			}
		}
		shard.mu.Unlock()
	}
}

// Len returns the total number of cached granules.
func (c *ByteCache) Len() int {
	total := 0
	for _, shard := range c.shards {
		shard.mu.Lock()
		total += len(shard.entries)
		shard.mu.Unlock()
	}
	return total
}

// Hits returns the number of cache hits.
func (c *ByteCache) Hits() uint64 { return c.hits.Load() }

// Misses returns the number of cache misses.
func (c *ByteCache) Misses() uint64 { return c.misses.Load() }
