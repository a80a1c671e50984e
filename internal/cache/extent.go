package cache

import (
	"container/list"
	"sync"

	"github.com/objectfs/cachereclaim/pkg/types"
)

// Extent maps a run of logical file blocks to a contiguous physical range
type Extent struct {
	Offset uint64 // first logical block
	Block  uint64 // first physical block
	Len    uint32
}

// contains reports whether the logical block off falls inside the extent
func (e Extent) contains(off uint64) bool {
	return off >= e.Offset && off < e.Offset+uint64(e.Len)
}

// ExtentConfig represents extent cache configuration
type ExtentConfig struct {
	MaxEntries int `yaml:"max_entries"`
}

var (
	_ types.ReclaimableCache = (*ExtentCache)(nil)
	_ types.StatsProvider    = (*ExtentCache)(nil)
)

// ExtentCache caches extents per inode. Trees of evicted inodes become
// zombies and are the first thing handed back under memory pressure.
type ExtentCache struct {
	mu      sync.Mutex
	trees   map[uint32]*extentTree
	lru     *list.List // *extentNode, most recently used at front
	zombies *list.List // *extentTree
	nodes   int64

	config *ExtentConfig
	stats  types.CacheStats
}

type extentTree struct {
	ino    uint32
	nodes  map[uint64]*extentNode
	pins   int
	zombie *list.Element
}

type extentNode struct {
	tree    *extentTree
	extent  Extent
	element *list.Element
}

// NewExtentCache creates a new extent cache
func NewExtentCache(config *ExtentConfig) *ExtentCache {
	if config == nil {
		config = &ExtentConfig{
			MaxEntries: 65536,
		}
	}

	return &ExtentCache{
		trees:   make(map[uint32]*extentTree),
		lru:     list.New(),
		zombies: list.New(),
		config:  config,
		stats: types.CacheStats{
			Capacity: int64(config.MaxEntries),
		},
	}
}

// Insert caches ext for inode ino, replacing any extent at the same offset.
// Inserting into a zombie tree revives it.
func (c *ExtentCache) Insert(ino uint32, ext Extent) {
	if ext.Len == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	tree := c.trees[ino]
	if tree == nil {
		tree = &extentTree{ino: ino, nodes: make(map[uint64]*extentNode)}
		c.trees[ino] = tree
	}
	if tree.zombie != nil {
		c.zombies.Remove(tree.zombie)
		tree.zombie = nil
	}

	if node, exists := tree.nodes[ext.Offset]; exists {
		node.extent = ext
		c.lru.MoveToFront(node.element)
		return
	}

	node := &extentNode{tree: tree, extent: ext}
	node.element = c.lru.PushFront(node)
	tree.nodes[ext.Offset] = node
	c.nodes++

	c.evictIfNeeded()
}

// Lookup finds the cached extent covering logical block off of inode ino
func (c *ExtentCache) Lookup(ino uint32, off uint64) (Extent, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tree := c.trees[ino]
	if tree == nil || tree.zombie != nil {
		c.stats.Misses++
		return Extent{}, false
	}

	for _, node := range tree.nodes {
		if node.extent.contains(off) {
			c.lru.MoveToFront(node.element)
			c.stats.Hits++
			return node.extent, true
		}
	}

	c.stats.Misses++
	return Extent{}, false
}

// Pin marks ino's extents as in use so reclaim passes over them. Every Pin
// must be matched by an Unpin.
func (c *ExtentCache) Pin(ino uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tree := c.trees[ino]
	if tree == nil {
		tree = &extentTree{ino: ino, nodes: make(map[uint64]*extentNode)}
		c.trees[ino] = tree
	}
	tree.pins++
}

// Unpin releases a pin taken by Pin
func (c *ExtentCache) Unpin(ino uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tree := c.trees[ino]
	if tree == nil || tree.pins == 0 {
		return
	}
	tree.pins--
	if tree.pins == 0 && len(tree.nodes) == 0 && tree.zombie == nil {
		c.deleteTree(tree)
	}
}

// DropInode turns ino's tree into a zombie. Its extents stay accounted for
// until reclaim frees them.
func (c *ExtentCache) DropInode(ino uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tree := c.trees[ino]
	if tree == nil || tree.zombie != nil {
		return
	}
	if len(tree.nodes) == 0 && tree.pins == 0 {
		c.deleteTree(tree)
		return
	}
	tree.zombie = c.zombies.PushBack(tree)
}

// ReclaimableCount returns zombie trees plus extent nodes not pinned
func (c *ExtentCache) ReclaimableCount() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reclaimable()
}

// Reclaim frees zombie trees first and then least recently used extents,
// stopping once max entries are gone. A zombie tree is freed whole, so the
// result may exceed max by the size of the last tree.
func (c *ExtentCache) Reclaim(max int64) int64 {
	if max <= 0 {
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	freed := int64(0)

	for e := c.zombies.Front(); e != nil && freed < max; {
		next := e.Next()
		tree := e.Value.(*extentTree)
		if tree.pins == 0 {
			freed += c.freeTree(tree) + 1
		}
		e = next
	}

	for e := c.lru.Back(); e != nil && freed < max; {
		prev := e.Prev()
		node := e.Value.(*extentNode)
		if node.tree.pins == 0 {
			c.removeNode(node)
			freed++
		}
		e = prev
	}

	c.stats.Evictions += uint64(freed)
	return freed
}

// Len returns the number of cached extent nodes
func (c *ExtentCache) Len() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nodes
}

// Stats returns cache statistics
func (c *ExtentCache) Stats() types.CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := c.stats
	stats.Entries = c.nodes
	stats.Reclaimable = c.reclaimable()
	stats.HitRate = hitRate(stats.Hits, stats.Misses)
	if stats.Capacity > 0 {
		stats.Utilization = float64(c.nodes) / float64(stats.Capacity)
	}
	return stats
}

func (c *ExtentCache) reclaimable() int64 {
	count := int64(c.zombies.Len()) + c.nodes
	for _, tree := range c.trees {
		if tree.pins > 0 {
			count -= int64(len(tree.nodes))
			if tree.zombie != nil {
				count--
			}
		}
	}
	return count
}

// evictIfNeeded trims unpinned extents once the cache is over capacity.
// Zombies are left to the reclaim path.
func (c *ExtentCache) evictIfNeeded() {
	if c.config.MaxEntries <= 0 {
		return
	}

	for e := c.lru.Back(); e != nil && c.nodes > int64(c.config.MaxEntries); {
		prev := e.Prev()
		node := e.Value.(*extentNode)
		if node.tree.pins == 0 {
			c.removeNode(node)
			c.stats.Evictions++
		}
		e = prev
	}
}

// freeTree drops every node of a zombie tree and the tree itself
func (c *ExtentCache) freeTree(tree *extentTree) int64 {
	n := int64(len(tree.nodes))
	for _, node := range tree.nodes {
		c.lru.Remove(node.element)
	}
	tree.nodes = nil
	c.nodes -= n
	c.deleteTree(tree)
	return n
}

func (c *ExtentCache) removeNode(node *extentNode) {
	tree := node.tree
	c.lru.Remove(node.element)
	delete(tree.nodes, node.extent.Offset)
	c.nodes--

	if len(tree.nodes) == 0 && tree.pins == 0 && tree.zombie == nil {
		c.deleteTree(tree)
	}
}

func (c *ExtentCache) deleteTree(tree *extentTree) {
	if tree.zombie != nil {
		c.zombies.Remove(tree.zombie)
		tree.zombie = nil
	}
	delete(c.trees, tree.ino)
}

func hitRate(hits, misses uint64) float64 {
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}
