package volume

import (
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objectfs/cachereclaim/internal/cache"
	"github.com/objectfs/cachereclaim/internal/config"
	"github.com/objectfs/cachereclaim/internal/shrinker"
	"github.com/objectfs/cachereclaim/pkg/errors"
	"github.com/objectfs/cachereclaim/pkg/retry"
)

type passRecorder struct {
	shrinker.NopObserver

	mu     sync.Mutex
	passes []shrinker.Pass
}

func (r *passRecorder) Completed(p shrinker.Pass) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.passes = append(r.passes, p)
}

// populate fills every cache of v with n reclaimable entries, plus n dirty
// translation entries.
func populate(v *Volume, n int) {
	for i := 0; i < n; i++ {
		v.Extents().Insert(uint32(i), cache.Extent{Offset: 0, Block: uint64(i), Len: 1})
		v.Translations().Insert(cache.NATEntry{NodeID: uint32(i)})
		v.Translations().Update(cache.NATEntry{NodeID: uint32(1000 + i)})
	}
	reserve := int(v.FreeIDs().Stats().Capacity)
	for i := 0; i < reserve+n; i++ {
		v.FreeIDs().Add(uint32(i))
	}
}

func testConfig(name string) *Config {
	return FromConfig(config.VolumeConfig{Name: name, MaxFreeNids: 4})
}

func TestFromConfig(t *testing.T) {
	cfg := FromConfig(config.VolumeConfig{Name: "data0", NATRAMThresh: 10})

	def := config.DefaultVolume("data0")
	assert.Equal(t, "data0", cfg.Name)
	assert.Equal(t, def.ExtentMaxEntries, cfg.Extent.MaxEntries)
	assert.Equal(t, 10, cfg.Translation.RAMThresh)
	assert.Equal(t, def.MaxFreeNids, cfg.FreeIDs.MaxFreeIDs)
}

func TestManager_MountJoinsRegistry(t *testing.T) {
	registry := shrinker.NewRegistry(nil)
	m := NewManager(registry, nil, nil)

	a, err := m.Mount(testConfig("a"))
	require.NoError(t, err)
	_, err = m.Mount(testConfig("b"))
	require.NoError(t, err)

	assert.Equal(t, 2, registry.Len())
	snap := registry.Snapshot()
	assert.Equal(t, "a", snap[0].ID)
	assert.Equal(t, "b", snap[1].ID)

	got, err := m.Get("a")
	require.NoError(t, err)
	assert.Same(t, a, got)
	assert.NotEqual(t, uuid.Nil, a.ID())
	assert.False(t, a.MountedAt().IsZero())
}

func TestManager_MountErrors(t *testing.T) {
	m := NewManager(shrinker.NewRegistry(nil), nil, nil)
	_, err := m.Mount(testConfig("a"))
	require.NoError(t, err)

	_, err = m.Mount(testConfig("a"))
	assert.True(t, errors.HasCode(err, errors.ErrCodeVolumeExists))

	_, err = m.Mount(&Config{})
	assert.True(t, errors.HasCode(err, errors.ErrCodeMountFailed))

	_, err = m.Mount(nil)
	assert.True(t, errors.HasCode(err, errors.ErrCodeMountFailed))
}

func TestManager_UnmountUnknown(t *testing.T) {
	m := NewManager(shrinker.NewRegistry(nil), nil, nil)

	err := m.Unmount("ghost")
	assert.True(t, errors.HasCode(err, errors.ErrCodeVolumeNotFound))

	_, err = m.Get("ghost")
	assert.True(t, errors.HasCode(err, errors.ErrCodeVolumeNotFound))
}

func TestManager_UnmountSequence(t *testing.T) {
	var checkpointed []cache.NATEntry
	cp := cache.CheckpointFunc(func(entries []cache.NATEntry) error {
		checkpointed = append(checkpointed, entries...)
		return nil
	})

	registry := shrinker.NewRegistry(nil)
	m := NewManager(registry, cp, nil)

	v, err := m.Mount(testConfig("a"))
	require.NoError(t, err)
	populate(v, 5)

	require.NoError(t, m.Unmount("a"))

	assert.Len(t, checkpointed, 5, "dirty entries reach the checkpointer")
	assert.Zero(t, registry.Len())
	assert.Zero(t, v.Extents().Len())
	assert.Zero(t, v.Translations().Len())
	assert.Zero(t, v.FreeIDs().Len())
	assert.Empty(t, m.List())

	assert.True(t, errors.HasCode(m.Unmount("a"), errors.ErrCodeVolumeNotFound), "unmount happens once")

	// the name is free again
	_, err = m.Mount(testConfig("a"))
	assert.NoError(t, err)
}

func TestManager_UnmountCheckpointFailure(t *testing.T) {
	boom := stderrors.New("device gone")
	fail := true
	cp := cache.CheckpointFunc(func([]cache.NATEntry) error {
		if fail {
			return boom
		}
		return nil
	})

	registry := shrinker.NewRegistry(nil)
	m := NewManager(registry, cp, nil)
	v, err := m.Mount(testConfig("a"))
	require.NoError(t, err)
	populate(v, 3)

	err = m.Unmount("a")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeUnmountFailed))
	assert.True(t, errors.HasCode(err, errors.ErrCodeCheckpointFailed))
	assert.ErrorIs(t, err, boom)

	// still mounted and still reclaimable
	assert.Equal(t, 1, registry.Len())
	assert.Equal(t, int64(3), v.Translations().DirtyCount())
	_, err = m.Get("a")
	require.NoError(t, err)
	assert.Positive(t, registry.Reclaim(2))

	fail = false
	require.NoError(t, m.Unmount("a"))
	assert.Zero(t, registry.Len())
}

func TestManager_UnmountRetriesCheckpoint(t *testing.T) {
	calls := 0
	cp := cache.CheckpointFunc(func([]cache.NATEntry) error {
		calls++
		if calls < 3 {
			return stderrors.New("device busy")
		}
		return nil
	})

	registry := shrinker.NewRegistry(nil)
	m := NewManager(registry, cp, nil)
	m.SetRetry(retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond})

	v, err := m.Mount(testConfig("a"))
	require.NoError(t, err)
	populate(v, 2)

	require.NoError(t, m.Unmount("a"))
	assert.Equal(t, 3, calls)
	assert.Zero(t, registry.Len())

	// attempts run out
	calls = -10
	v, err = m.Mount(testConfig("b"))
	require.NoError(t, err)
	populate(v, 2)

	err = m.Unmount("b")
	assert.True(t, errors.HasCode(err, errors.ErrCodeCheckpointFailed))
	assert.Equal(t, -7, calls)
	assert.Equal(t, 1, registry.Len())
}

func TestManager_ReclaimReachesVolumeCaches(t *testing.T) {
	registry := shrinker.NewRegistry(nil)
	m := NewManager(registry, nil, nil)

	a, err := m.Mount(testConfig("a"))
	require.NoError(t, err)
	b, err := m.Mount(testConfig("b"))
	require.NoError(t, err)
	populate(a, 10)
	populate(b, 10)

	// each volume: 10 extents, 10 clean NAT entries, 10 ids over the reserve
	assert.Equal(t, int64(60), registry.EstimateReclaimable())

	freed := registry.Reclaim(12)
	assert.Equal(t, int64(12), freed)
	assert.Equal(t, int64(4), a.Extents().Len(), "first volume gives half the quota from extents")
	assert.Equal(t, int64(10), b.Extents().Len())

	freed = registry.Reclaim(1000)
	assert.Equal(t, int64(48), freed)
	assert.Equal(t, int64(10), a.Translations().Len(), "dirty translation entries survive")
	assert.Equal(t, int64(4), a.FreeIDs().Len(), "free id reserve survives")
}

func TestManager_ReclaimSkipsVolumeBeingUnmounted(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	cp := cache.CheckpointFunc(func([]cache.NATEntry) error {
		close(entered)
		<-release
		return nil
	})

	obs := &passRecorder{}
	registry := shrinker.NewRegistry(&shrinker.Config{Observer: obs})
	m := NewManager(registry, cp, nil)

	a, err := m.Mount(testConfig("a"))
	require.NoError(t, err)
	b, err := m.Mount(testConfig("b"))
	require.NoError(t, err)
	populate(a, 5)
	populate(b, 5)

	done := make(chan error, 1)
	go func() { done <- m.Unmount("a") }()
	<-entered

	// a's guard is held by the unmount
	assert.Equal(t, int64(15), registry.EstimateReclaimable())
	registry.Reclaim(4)
	require.Len(t, obs.passes, 1)
	assert.Equal(t, []string{"a"}, obs.passes[0].Skipped)
	assert.Equal(t, 1, obs.passes[0].Visited)
	assert.Equal(t, int64(5), a.Extents().Len())

	_, err = m.Get("a")
	assert.True(t, errors.HasCode(err, errors.ErrCodeVolumeNotFound), "unmounting volume is hidden")
	_, err = m.Mount(testConfig("a"))
	assert.True(t, errors.HasCode(err, errors.ErrCodeVolumeExists))

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, 1, registry.Len())
}

func TestManager_ConcurrentReclaimAndUnmount(t *testing.T) {
	registry := shrinker.NewRegistry(nil)
	m := NewManager(registry, nil, nil)

	for _, name := range []string{"a", "b", "c", "d", "e", "f"} {
		v, err := m.Mount(testConfig(name))
		require.NoError(t, err)
		populate(v, 50)
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					registry.EstimateReclaimable()
					registry.Reclaim(16)
				}
			}
		}()
	}

	require.NoError(t, m.UnmountAll())
	close(stop)
	wg.Wait()

	assert.Zero(t, registry.Len())
	assert.Empty(t, m.Status())

	_, err := m.Mount(testConfig("late"))
	assert.True(t, errors.HasCode(err, errors.ErrCodeShutdownInProgress), "no mounts after shutdown began")
	assert.Zero(t, registry.Len())
}

func TestManager_Status(t *testing.T) {
	m := NewManager(shrinker.NewRegistry(nil), nil, nil)
	b, _ := m.Mount(testConfig("b"))
	_, _ = m.Mount(testConfig("a"))
	populate(b, 3)

	status := m.Status()
	require.Len(t, status, 2)
	assert.Equal(t, "a", status[0].Name)
	assert.Equal(t, "b", status[1].Name)
	assert.Equal(t, b.ID().String(), status[1].ID)
	assert.Equal(t, int64(3), status[1].Caches.Extent.Entries)
	assert.Equal(t, int64(3), status[1].Caches.Translation.Reclaimable)
	assert.Equal(t, int64(9), status[1].Caches.Reclaimable())
}
