/*
Package cache provides the per-volume caches that memory pressure can shrink.

Each volume carries three caches, all of which satisfy types.ReclaimableCache
so the shrinker can count and reclaim them without knowing their internals:

	ExtentCache       logical range -> physical block, one tree per inode
	TranslationCache  node id -> block address (clean or dirty)
	FreeIDCache       node ids known to be free, with a held-back reserve

# Reclaimability

What counts as reclaimable differs per cache:

  - ExtentCache: zombie trees (inodes already evicted) plus unpinned extent
    nodes. Reclaim frees zombie trees whole before touching live extents,
    then walks the LRU from the cold end.
  - TranslationCache: clean entries only. Dirty entries become clean through
    Flush, which hands them to a Checkpointer in node id order.
  - FreeIDCache: whatever exceeds MaxFreeIDs. The reserve is never reclaimed.

# Usage

	extents := cache.NewExtentCache(&cache.ExtentConfig{MaxEntries: 4096})
	extents.Insert(ino, cache.Extent{Offset: 0, Block: 8192, Len: 16})

	nat := cache.NewTranslationCache(nil)
	nat.Update(cache.NATEntry{NodeID: 42, BlockAddr: 1234})
	if _, err := nat.Flush(cp); err != nil {
		return err
	}

All caches are safe for concurrent use. ReclaimableCount takes the cache's
own lock only briefly and never blocks on I/O.
*/
package cache
