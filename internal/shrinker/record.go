package shrinker

import (
	"container/list"

	"github.com/objectfs/cachereclaim/pkg/types"
)

// CacheKind identifies one of the three per-volume caches
type CacheKind int

const (
	// ExtentCache maps logical file ranges to physical locations.
	ExtentCache CacheKind = iota
	// TranslationCache holds address-translation entries.
	TranslationCache
	// FreeIDCache holds pre-discovered free identifiers.
	FreeIDCache

	numCacheKinds
)

// NumCacheKinds is the number of caches every volume carries.
const NumCacheKinds = int(numCacheKinds)

// String returns the string representation of the cache kind
func (k CacheKind) String() string {
	switch k {
	case ExtentCache:
		return "extent"
	case TranslationCache:
		return "translation"
	case FreeIDCache:
		return "free_id"
	default:
		return "unknown"
	}
}

// Adapter is the contract each cache satisfies for the coordinator.
type Adapter = types.ReclaimableCache

// TryLocker is the coordinator's view of a volume's teardown guard. Only the
// try-acquire half is used here; blocking acquisition belongs to unmount.
type TryLocker interface {
	TryLock() bool
	Unlock()
}

// Record is the per-volume state the coordinator works with. The list
// element and run marker are owned by the Registry and only touched under
// its lock.
type Record struct {
	id     string
	guard  TryLocker
	caches [NumCacheKinds]Adapter

	elem    *list.Element
	lastRun uint32
}

// NewRecord creates a record for a volume. A nil adapter is treated as an
// always-empty cache.
func NewRecord(id string, guard TryLocker, extent, translation, freeIDs Adapter) *Record {
	rec := &Record{
		id:    id,
		guard: guard,
	}
	rec.caches[ExtentCache] = orEmpty(extent)
	rec.caches[TranslationCache] = orEmpty(translation)
	rec.caches[FreeIDCache] = orEmpty(freeIDs)
	return rec
}

// ID returns the volume identity
func (r *Record) ID() string {
	return r.id
}

// Cache returns the adapter registered for kind
func (r *Record) Cache(kind CacheKind) Adapter {
	return r.caches[kind]
}

// reclaimable sums all three adapters' counts. Caller holds the guard.
func (r *Record) reclaimable() int64 {
	var total int64
	for _, c := range r.caches {
		total += clamp(c.ReclaimableCount())
	}
	return total
}

type emptyCache struct{}

func (emptyCache) ReclaimableCount() int64 { return 0 }
func (emptyCache) Reclaim(int64) int64     { return 0 }

func orEmpty(a Adapter) Adapter {
	if a == nil {
		return emptyCache{}
	}
	return a
}

func clamp(n int64) int64 {
	if n < 0 {
		return 0
	}
	return n
}
