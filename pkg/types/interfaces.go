package types

// ReclaimableCache is the narrow contract a per-volume cache exposes to the
// reclaim coordinator.
type ReclaimableCache interface {
	// ReclaimableCount returns a cheap, non-blocking estimate of the number of
	// entries that could be evicted right now.
	ReclaimableCount() int64

	// Reclaim frees up to max entries and returns how many were freed. It may
	// free fewer than requested and must not evict entries in active use.
	Reclaim(max int64) int64
}

// PressureTarget is the pressure callback surface the host calls into when
// memory is short.
type PressureTarget interface {
	EstimateReclaimable() int64
	Reclaim(quota int64) int64
}

// StatsProvider is implemented by caches that report statistics
type StatsProvider interface {
	Stats() CacheStats
}
