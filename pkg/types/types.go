package types

import "time"

// CacheStats represents cache statistics as seen by a single volume cache
type CacheStats struct {
	Hits        uint64  `json:"hits"`
	Misses      uint64  `json:"misses"`
	Evictions   uint64  `json:"evictions"`
	Entries     int64   `json:"entries"`
	Reclaimable int64   `json:"reclaimable"`
	Capacity    int64   `json:"capacity"`
	HitRate     float64 `json:"hit_rate"`
	Utilization float64 `json:"utilization"`
}

// VolumeCacheStats groups the three per-volume cache statistics
type VolumeCacheStats struct {
	Extent      CacheStats `json:"extent"`
	Translation CacheStats `json:"translation"`
	FreeIDs     CacheStats `json:"free_ids"`
}

// Reclaimable sums the reclaimable counts of all three caches
func (s VolumeCacheStats) Reclaimable() int64 {
	return s.Extent.Reclaimable + s.Translation.Reclaimable + s.FreeIDs.Reclaimable
}

// VolumeStatus is an operator-facing summary of one mounted volume
type VolumeStatus struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	MountedAt time.Time        `json:"mounted_at"`
	Caches    VolumeCacheStats `json:"caches"`
}

// PressureSample represents a single pressure evaluation
type PressureSample struct {
	Timestamp time.Time `json:"timestamp"`
	HeapAlloc uint64    `json:"heap_alloc"`
	Watermark uint64    `json:"watermark"`
	Quota     int64     `json:"quota"`
	Freed     int64     `json:"freed"`
}
