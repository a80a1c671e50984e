package shrinker

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// fakeCache is an in-memory cache with a fixed number of evictable entries.
type fakeCache struct {
	mu      sync.Mutex
	entries int64
	pinned  int64
	calls   []int64

	dead       atomic.Bool
	violations *atomic.Int64
}

func newFakeCache(entries int64) *fakeCache {
	return &fakeCache{entries: entries, violations: new(atomic.Int64)}
}

func (c *fakeCache) touch() {
	if c.dead.Load() {
		c.violations.Add(1)
	}
}

func (c *fakeCache) ReclaimableCount() int64 {
	c.touch()
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries - c.pinned
}

func (c *fakeCache) Reclaim(max int64) int64 {
	c.touch()
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls = append(c.calls, max)
	n := c.entries - c.pinned
	if n > max {
		n = max
	}
	c.entries -= n
	return n
}

func (c *fakeCache) Calls() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int64(nil), c.calls...)
}

func (c *fakeCache) Entries() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries
}

// gatedCache parks its first Reclaim call until release is closed.
type gatedCache struct {
	*fakeCache
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newGatedCache(entries int64) *gatedCache {
	return &gatedCache{
		fakeCache: newFakeCache(entries),
		entered:   make(chan struct{}),
		release:   make(chan struct{}),
	}
}

func (c *gatedCache) Reclaim(max int64) int64 {
	c.once.Do(func() {
		close(c.entered)
		<-c.release
	})
	return c.fakeCache.Reclaim(max)
}

// fakeVolume bundles a record with its caches and guard.
type fakeVolume struct {
	guard       *sync.Mutex
	extent      *fakeCache
	translation *fakeCache
	freeIDs     *fakeCache
	rec         *Record
}

func newFakeVolume(id string, extent, translation, freeIDs int64) *fakeVolume {
	v := &fakeVolume{
		guard:       &sync.Mutex{},
		extent:      newFakeCache(extent),
		translation: newFakeCache(translation),
		freeIDs:     newFakeCache(freeIDs),
	}
	v.rec = NewRecord(id, v.guard, v.extent, v.translation, v.freeIDs)
	return v
}

// unmount mirrors the volume shutdown: hold the guard, leave, then retire
// the caches so any later access is counted as a violation.
func (v *fakeVolume) unmount(r *Registry) {
	v.guard.Lock()
	defer v.guard.Unlock()

	r.Leave(v.rec)
	v.extent.dead.Store(true)
	v.translation.dead.Store(true)
	v.freeIDs.dead.Store(true)
}

func (v *fakeVolume) violations() int64 {
	return v.extent.violations.Load() + v.translation.violations.Load() + v.freeIDs.violations.Load()
}

// recordingObserver keeps every event for later inspection.
type recordingObserver struct {
	mu        sync.Mutex
	visits    []Visit
	passes    []Pass
	estimates []Estimate
}

func (o *recordingObserver) Visited(v Visit) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.visits = append(o.visits, v)
}

func (o *recordingObserver) Completed(p Pass) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.passes = append(o.passes, p)
}

func (o *recordingObserver) Estimated(e Estimate) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.estimates = append(o.estimates, e)
}

// visitsByRun groups visited ids per run id.
func (o *recordingObserver) visitsByRun() map[uint32][]string {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make(map[uint32][]string)
	for _, v := range o.visits {
		out[v.Run] = append(out[v.Run], v.ID)
	}
	return out
}

func snapshotIDs(r *Registry) []string {
	snap := r.Snapshot()
	ids := make([]string, len(snap))
	for i, info := range snap {
		ids[i] = info.ID
	}
	return ids
}

func volumeName(i int) string {
	return fmt.Sprintf("vol-%02d", i)
}
