package cache

import (
	"container/list"
	"sync"

	"github.com/objectfs/cachereclaim/pkg/types"
)

// FreeIDConfig represents free-id cache configuration
type FreeIDConfig struct {
	// MaxFreeIDs is the reserve kept back from reclaim so allocation does
	// not stall on a fresh scan right after memory pressure.
	MaxFreeIDs int64 `yaml:"max_free_nids"`
}

var (
	_ types.ReclaimableCache = (*FreeIDCache)(nil)
	_ types.StatsProvider    = (*FreeIDCache)(nil)
)

// FreeIDCache holds node ids known to be free. Allocation takes ids from the
// front; ids discovered later are appended at the back.
type FreeIDCache struct {
	mu    sync.Mutex
	free  *list.List // uint32
	index map[uint32]*list.Element
	busy  map[uint32]struct{}

	config *FreeIDConfig
	stats  types.CacheStats
}

// NewFreeIDCache creates a new free-id cache
func NewFreeIDCache(config *FreeIDConfig) *FreeIDCache {
	if config == nil {
		config = &FreeIDConfig{
			MaxFreeIDs: 2048,
		}
	}
	if config.MaxFreeIDs < 0 {
		clamped := *config
		clamped.MaxFreeIDs = 0
		config = &clamped
	}

	return &FreeIDCache{
		free:   list.New(),
		index:  make(map[uint32]*list.Element),
		busy:   make(map[uint32]struct{}),
		config: config,
		stats: types.CacheStats{
			Capacity: config.MaxFreeIDs,
		},
	}
}

// Add records ids as free. Ids already known, or handed out and not yet
// committed, are ignored. It returns how many ids were added.
func (c *FreeIDCache) Add(ids ...uint32) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	added := 0
	for _, id := range ids {
		if _, known := c.index[id]; known {
			continue
		}
		if _, taken := c.busy[id]; taken {
			continue
		}
		c.index[id] = c.free.PushBack(id)
		added++
	}
	return added
}

// Alloc hands out a free id. The id stays reserved until Commit or Release.
func (c *FreeIDCache) Alloc() (uint32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.free.Front()
	if e == nil {
		c.stats.Misses++
		return 0, false
	}

	id := c.free.Remove(e).(uint32)
	delete(c.index, id)
	c.busy[id] = struct{}{}
	c.stats.Hits++
	return id, true
}

// Commit marks an allocated id as used for good
func (c *FreeIDCache) Commit(id uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.busy, id)
}

// Release returns an allocated id to the front of the free list
func (c *FreeIDCache) Release(id uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, taken := c.busy[id]; !taken {
		return
	}
	delete(c.busy, id)
	c.index[id] = c.free.PushFront(id)
}

// ReclaimableCount returns how far the free list exceeds the reserve
func (c *FreeIDCache) ReclaimableCount() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reclaimable()
}

// Reclaim forgets up to max free ids, newest first, never going below the
// reserve.
func (c *FreeIDCache) Reclaim(max int64) int64 {
	if max <= 0 {
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	n := c.reclaimable()
	if n > max {
		n = max
	}
	for i := int64(0); i < n; i++ {
		id := c.free.Remove(c.free.Back()).(uint32)
		delete(c.index, id)
	}
	c.stats.Evictions += uint64(n)
	return n
}

// Len returns the number of free ids held
func (c *FreeIDCache) Len() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return int64(c.free.Len())
}

// DropAll forgets every free id and outstanding allocation
func (c *FreeIDCache) DropAll() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := int64(c.free.Len())
	c.free.Init()
	c.index = make(map[uint32]*list.Element)
	c.busy = make(map[uint32]struct{})
	return n
}

// Stats returns cache statistics
func (c *FreeIDCache) Stats() types.CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := c.stats
	stats.Entries = int64(c.free.Len())
	stats.Reclaimable = c.reclaimable()
	stats.HitRate = hitRate(stats.Hits, stats.Misses)
	if stats.Capacity > 0 {
		stats.Utilization = float64(stats.Entries) / float64(stats.Capacity)
	}
	return stats
}

func (c *FreeIDCache) reclaimable() int64 {
	n := int64(c.free.Len()) - c.config.MaxFreeIDs
	if n < 0 {
		return 0
	}
	return n
}
