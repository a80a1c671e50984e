/*
Package types provides the shared contracts and data structures used across
the reclaim daemon.

# Core Interfaces

ReclaimableCache:
The two-method contract every per-volume cache satisfies so the coordinator
can size and drain it: a cheap ReclaimableCount and a best-effort Reclaim
that returns the number of entries actually freed.

PressureTarget:
The pressure callback surface. The memory monitor (pkg/memmon) asks for an
estimate and issues quota-bounded reclaim requests through it without knowing
anything about volumes.

StatsProvider:
Optional statistics reporting implemented by the concrete caches in
internal/cache.

# Data Structures

CacheStats and VolumeCacheStats carry hit/miss/eviction counters plus the
reclaimable counts reported to the coordinator. VolumeStatus is the summary
printed by "reclaimd status". PressureSample records one evaluation of the
pressure loop.

# Thread Safety

Implementations of ReclaimableCache must be safe for concurrent use: the
coordinator calls them from whatever goroutine delivered the pressure
signal, possibly several at once.
*/
package types
