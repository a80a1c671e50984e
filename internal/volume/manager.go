package volume

import (
	stderrors "errors"
	"sort"
	"sync"
	"time"

	"github.com/objectfs/cachereclaim/internal/cache"
	"github.com/objectfs/cachereclaim/internal/shrinker"
	"github.com/objectfs/cachereclaim/pkg/errors"
	"github.com/objectfs/cachereclaim/pkg/retry"
	"github.com/objectfs/cachereclaim/pkg/types"
	"github.com/objectfs/cachereclaim/pkg/utils"
)

// Manager mounts and unmounts volumes and keeps the shrinker registry in
// step with them.
type Manager struct {
	mu       sync.Mutex
	volumes  map[string]*Volume
	registry *shrinker.Registry
	cp       cache.Checkpointer
	retryer  *retry.Retryer
	logger   *utils.StructuredLogger
	closing  bool
}

// NewManager creates a mount manager. cp receives dirty translation entries
// on unmount; nil discards them.
func NewManager(registry *shrinker.Registry, cp cache.Checkpointer, logger *utils.StructuredLogger) *Manager {
	if cp == nil {
		cp = cache.CheckpointFunc(func([]cache.NATEntry) error { return nil })
	}
	if logger == nil {
		logger = utils.NopLogger()
	}

	return &Manager{
		volumes:  make(map[string]*Volume),
		registry: registry,
		cp:       cp,
		retryer:  retry.New(retry.Once()),
		logger:   logger.WithComponent("volume"),
	}
}

// SetRetry controls how often a failed checkpoint is retried during unmount.
// The volume stays guarded, and so skipped by reclaim, between attempts.
func (m *Manager) SetRetry(config retry.Config) {
	config.OnRetry = func(attempt int, err error, delay time.Duration) {
		m.logger.WithError(err).Warn("checkpoint failed, retrying", map[string]interface{}{
			"attempt": attempt,
			"delay":   delay.String(),
		})
	}

	m.mu.Lock()
	m.retryer = retry.New(config)
	m.mu.Unlock()
}

// Mount creates a volume from cfg and registers it for reclaim
func (m *Manager) Mount(cfg *Config) (*Volume, error) {
	if cfg == nil || cfg.Name == "" {
		return nil, errors.NewError(errors.ErrCodeMountFailed, "volume name is required").
			WithComponent("volume").
			WithOperation("mount")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closing {
		return nil, errors.NewError(errors.ErrCodeShutdownInProgress, "manager is shutting down").
			WithComponent("volume").
			WithOperation("mount").
			WithContext("volume", cfg.Name)
	}
	if _, exists := m.volumes[cfg.Name]; exists {
		return nil, errors.NewError(errors.ErrCodeVolumeExists, "volume "+cfg.Name+" is already mounted").
			WithComponent("volume").
			WithOperation("mount").
			WithContext("volume", cfg.Name)
	}

	v := New(cfg)
	v.mountedAt = time.Now()
	m.registry.Join(v.record)
	m.volumes[v.name] = v

	m.logger.Info("volume mounted", map[string]interface{}{
		"volume": v.name,
		"id":     v.id.String(),
	})
	return v, nil
}

// Unmount tears a volume down. Dirty translation entries are checkpointed
// first; if that fails the volume stays mounted and the error carries
// CHECKPOINT_FAILED.
func (m *Manager) Unmount(name string) error {
	m.mu.Lock()
	v, exists := m.volumes[name]
	if !exists || v.unmounting {
		m.mu.Unlock()
		return errors.NewError(errors.ErrCodeVolumeNotFound, "volume "+name+" is not mounted").
			WithComponent("volume").
			WithOperation("unmount").
			WithContext("volume", name)
	}
	v.unmounting = true
	retryer := m.retryer
	m.mu.Unlock()

	v.guard.Lock()

	var flushed int
	err := retryer.Do(func() error {
		n, err := v.nat.Flush(m.cp)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeCheckpointFailed, "flush translation entries")
		}
		flushed = n
		return nil
	})
	if err != nil {
		v.guard.Unlock()

		m.mu.Lock()
		v.unmounting = false
		m.mu.Unlock()

		m.logger.WithError(err).Error("unmount aborted", map[string]interface{}{"volume": name})
		return errors.NewError(errors.ErrCodeUnmountFailed, "volume "+name+" could not be unmounted").
			WithComponent("volume").
			WithOperation("unmount").
			WithContext("volume", name).
			WithCause(err)
	}

	m.registry.Leave(v.record)
	droppedNAT := v.nat.DropAll()
	droppedIDs := v.nids.DropAll()

	v.guard.Unlock()

	m.mu.Lock()
	delete(m.volumes, name)
	m.mu.Unlock()

	m.logger.Info("volume unmounted", map[string]interface{}{
		"volume":      name,
		"flushed":     flushed,
		"dropped_nat": droppedNAT,
		"dropped_ids": droppedIDs,
	})
	return nil
}

// UnmountAll unmounts every volume, continuing past failures. Mounts are
// refused from then on.
func (m *Manager) UnmountAll() error {
	m.mu.Lock()
	m.closing = true
	m.mu.Unlock()

	var errs []error
	for _, v := range m.List() {
		if err := m.Unmount(v.Name()); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

// Get returns a mounted volume by name
func (m *Manager) Get(name string) (*Volume, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, exists := m.volumes[name]
	if !exists || v.unmounting {
		return nil, errors.NewError(errors.ErrCodeVolumeNotFound, "volume "+name+" is not mounted").
			WithComponent("volume").
			WithContext("volume", name)
	}
	return v, nil
}

// List returns mounted volumes ordered by name
func (m *Manager) List() []*Volume {
	m.mu.Lock()
	out := make([]*Volume, 0, len(m.volumes))
	for _, v := range m.volumes {
		if !v.unmounting {
			out = append(out, v)
		}
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].name < out[j].name
	})
	return out
}

// Status returns a summary of every mounted volume
func (m *Manager) Status() []types.VolumeStatus {
	volumes := m.List()
	out := make([]types.VolumeStatus, 0, len(volumes))
	for _, v := range volumes {
		out = append(out, v.Status())
	}
	return out
}
