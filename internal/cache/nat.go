package cache

import (
	"container/list"
	"sort"
	"sync"

	"github.com/objectfs/cachereclaim/pkg/types"
)

// NATEntry translates a node id to its current on-disk block
type NATEntry struct {
	NodeID    uint32
	Ino       uint32
	BlockAddr uint64
	Version   uint8
}

// Checkpointer persists dirty translation entries. It returns an error if the
// batch could not be made durable, in which case the entries stay dirty.
type Checkpointer interface {
	Checkpoint(entries []NATEntry) error
}

// CheckpointFunc adapts a function to the Checkpointer interface
type CheckpointFunc func(entries []NATEntry) error

// Checkpoint calls f(entries)
func (f CheckpointFunc) Checkpoint(entries []NATEntry) error {
	return f(entries)
}

// TranslationConfig represents translation cache configuration
type TranslationConfig struct {
	// RAMThresh caps the number of cached entries. Zero means unbounded.
	RAMThresh int `yaml:"ram_thresh"`
}

var (
	_ types.ReclaimableCache = (*TranslationCache)(nil)
	_ types.StatsProvider    = (*TranslationCache)(nil)
)

// TranslationCache caches node address translation entries. Entries changed
// since the last checkpoint are dirty and cannot be dropped until Flush has
// written them out.
type TranslationCache struct {
	mu      sync.Mutex
	entries map[uint32]*natItem
	clean   *list.List // *natItem, most recently used at front
	dirty   int64

	config *TranslationConfig
	stats  types.CacheStats
}

type natItem struct {
	entry   NATEntry
	element *list.Element // nil while dirty
}

// NewTranslationCache creates a new translation cache
func NewTranslationCache(config *TranslationConfig) *TranslationCache {
	if config == nil {
		config = &TranslationConfig{
			RAMThresh: 16384,
		}
	}

	return &TranslationCache{
		entries: make(map[uint32]*natItem),
		clean:   list.New(),
		config:  config,
		stats: types.CacheStats{
			Capacity: int64(config.RAMThresh),
		},
	}
}

// Lookup returns the cached entry for nid
func (c *TranslationCache) Lookup(nid uint32) (NATEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, exists := c.entries[nid]
	if !exists {
		c.stats.Misses++
		return NATEntry{}, false
	}

	if item.element != nil {
		c.clean.MoveToFront(item.element)
	}
	c.stats.Hits++
	return item.entry, true
}

// Insert caches a clean entry read from disk. When the cache is full the
// least recently used clean entry makes room; if every entry is dirty the
// insert is refused and false is returned.
func (c *TranslationCache) Insert(entry NATEntry) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if item, exists := c.entries[entry.NodeID]; exists {
		if item.element != nil {
			item.entry = entry
			c.clean.MoveToFront(item.element)
		}
		return true
	}

	if !c.makeRoom() {
		return false
	}

	item := &natItem{entry: entry}
	item.element = c.clean.PushFront(item)
	c.entries[entry.NodeID] = item
	return true
}

// Update records a modified entry. The entry is dirty until the next Flush.
// Dirty entries are always cached, even past the threshold.
func (c *TranslationCache) Update(entry NATEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, exists := c.entries[entry.NodeID]
	switch {
	case !exists:
		c.makeRoom()
		item = &natItem{}
		c.entries[entry.NodeID] = item
		c.dirty++
	case item.element != nil:
		c.clean.Remove(item.element)
		item.element = nil
		c.dirty++
	}
	item.entry = entry
}

// Flush hands every dirty entry, ordered by node id, to cp and marks them
// clean once cp succeeds.
func (c *TranslationCache) Flush(cp Checkpointer) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.dirty == 0 {
		return 0, nil
	}

	batch := make([]NATEntry, 0, c.dirty)
	for _, item := range c.entries {
		if item.element == nil {
			batch = append(batch, item.entry)
		}
	}
	sort.Slice(batch, func(i, j int) bool {
		return batch[i].NodeID < batch[j].NodeID
	})

	if err := cp.Checkpoint(batch); err != nil {
		return 0, err
	}

	for _, entry := range batch {
		item := c.entries[entry.NodeID]
		item.element = c.clean.PushFront(item)
	}
	c.dirty = 0
	return len(batch), nil
}

// ReclaimableCount returns the number of clean entries
func (c *TranslationCache) ReclaimableCount() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return int64(c.clean.Len())
}

// Reclaim drops up to max clean entries, least recently used first
func (c *TranslationCache) Reclaim(max int64) int64 {
	if max <= 0 {
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	freed := int64(0)
	for freed < max && c.evictOldest() {
		freed++
	}
	c.stats.Evictions += uint64(freed)
	return freed
}

// DirtyCount returns the number of entries waiting for a checkpoint
func (c *TranslationCache) DirtyCount() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dirty
}

// Len returns the number of cached entries
func (c *TranslationCache) Len() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return int64(len(c.entries))
}

// DropAll empties the cache, dirty entries included, and returns how many
// entries were dropped. Used on unmount after the final Flush.
func (c *TranslationCache) DropAll() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := int64(len(c.entries))
	c.entries = make(map[uint32]*natItem)
	c.clean.Init()
	c.dirty = 0
	return n
}

// Stats returns cache statistics
func (c *TranslationCache) Stats() types.CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := c.stats
	stats.Entries = int64(len(c.entries))
	stats.Reclaimable = int64(c.clean.Len())
	stats.HitRate = hitRate(stats.Hits, stats.Misses)
	if stats.Capacity > 0 {
		stats.Utilization = float64(stats.Entries) / float64(stats.Capacity)
	}
	return stats
}

// makeRoom evicts one clean entry if the cache is at its threshold
func (c *TranslationCache) makeRoom() bool {
	if c.config.RAMThresh <= 0 || len(c.entries) < c.config.RAMThresh {
		return true
	}
	if !c.evictOldest() {
		return false
	}
	c.stats.Evictions++
	return true
}

func (c *TranslationCache) evictOldest() bool {
	e := c.clean.Back()
	if e == nil {
		return false
	}
	item := e.Value.(*natItem)
	c.clean.Remove(e)
	delete(c.entries, item.entry.NodeID)
	return true
}
