package volume

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/objectfs/cachereclaim/internal/cache"
	"github.com/objectfs/cachereclaim/internal/config"
	"github.com/objectfs/cachereclaim/internal/shrinker"
	"github.com/objectfs/cachereclaim/pkg/types"
)

// Config contains volume-specific configuration
type Config struct {
	Name        string
	Extent      *cache.ExtentConfig
	Translation *cache.TranslationConfig
	FreeIDs     *cache.FreeIDConfig
}

// FromConfig converts a configured volume entry, filling unset limits with
// the defaults from config.DefaultVolume.
func FromConfig(vc config.VolumeConfig) *Config {
	def := config.DefaultVolume(vc.Name)
	if vc.ExtentMaxEntries == 0 {
		vc.ExtentMaxEntries = def.ExtentMaxEntries
	}
	if vc.NATRAMThresh == 0 {
		vc.NATRAMThresh = def.NATRAMThresh
	}
	if vc.MaxFreeNids == 0 {
		vc.MaxFreeNids = def.MaxFreeNids
	}

	return &Config{
		Name:        vc.Name,
		Extent:      &cache.ExtentConfig{MaxEntries: vc.ExtentMaxEntries},
		Translation: &cache.TranslationConfig{RAMThresh: vc.NATRAMThresh},
		FreeIDs:     &cache.FreeIDConfig{MaxFreeIDs: vc.MaxFreeNids},
	}
}

// Volume is one mounted filesystem instance and the caches it owns.
type Volume struct {
	id        uuid.UUID
	name      string
	mountedAt time.Time

	// guard is held by unmount for the whole teardown. Reclaim passes only
	// ever try-acquire it.
	guard sync.Mutex

	extents *cache.ExtentCache
	nat     *cache.TranslationCache
	nids    *cache.FreeIDCache
	record  *shrinker.Record

	unmounting bool // protected by Manager.mu
}

// New creates a volume with empty caches. It is not registered for reclaim
// until a Manager mounts it.
func New(cfg *Config) *Volume {
	v := &Volume{
		id:      uuid.New(),
		name:    cfg.Name,
		extents: cache.NewExtentCache(cfg.Extent),
		nat:     cache.NewTranslationCache(cfg.Translation),
		nids:    cache.NewFreeIDCache(cfg.FreeIDs),
	}
	v.record = shrinker.NewRecord(v.name, &v.guard, v.extents, v.nat, v.nids)
	return v
}

// ID returns the volume's unique identity
func (v *Volume) ID() uuid.UUID {
	return v.id
}

// Name returns the volume name
func (v *Volume) Name() string {
	return v.name
}

// MountedAt returns when the volume was mounted
func (v *Volume) MountedAt() time.Time {
	return v.mountedAt
}

// Extents returns the extent cache
func (v *Volume) Extents() *cache.ExtentCache {
	return v.extents
}

// Translations returns the node address translation cache
func (v *Volume) Translations() *cache.TranslationCache {
	return v.nat
}

// FreeIDs returns the free node id cache
func (v *Volume) FreeIDs() *cache.FreeIDCache {
	return v.nids
}

// Record returns the shrinker record for the volume
func (v *Volume) Record() *shrinker.Record {
	return v.record
}

// Status returns an operator-facing summary
func (v *Volume) Status() types.VolumeStatus {
	return types.VolumeStatus{
		ID:        v.id.String(),
		Name:      v.name,
		MountedAt: v.mountedAt,
		Caches: types.VolumeCacheStats{
			Extent:      v.extents.Stats(),
			Translation: v.nat.Stats(),
			FreeIDs:     v.nids.Stats(),
		},
	}
}
