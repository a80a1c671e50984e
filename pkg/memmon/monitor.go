// Package memmon watches process memory and turns heap growth past a
// watermark into reclaim requests.
package memmon

import (
	"context"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/objectfs/cachereclaim/pkg/errors"
	"github.com/objectfs/cachereclaim/pkg/types"
	"github.com/objectfs/cachereclaim/pkg/utils"
)

const bytesPerMB = 1 << 20

// MonitorConfig configures the pressure monitor
type MonitorConfig struct {
	// SampleInterval is how often heap usage is checked
	SampleInterval time.Duration

	// HighWatermark is the heap size in bytes above which reclaim starts
	HighWatermark uint64

	// ObjectsPerMB converts heap excess into a reclaim quota
	ObjectsPerMB int64

	// MaxQuota caps a single request. Zero means no cap.
	MaxQuota int64

	// MaxSamples is the number of samples to keep in history
	MaxSamples int

	// ReturnToOS releases freed memory to the OS after a reclaim
	ReturnToOS bool

	// HeapReader reports current heap bytes. Defaults to runtime HeapAlloc.
	HeapReader func() uint64

	// OnSample, if set, is called with every sample taken
	OnSample func(types.PressureSample)

	// Logger for monitoring events
	Logger *utils.StructuredLogger
}

// DefaultMonitorConfig returns sensible defaults
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		SampleInterval: 5 * time.Second,
		HighWatermark:  512 * bytesPerMB,
		ObjectsPerMB:   1024,
		MaxQuota:       1 << 20,
		MaxSamples:     100,
	}
}

// PressureStats summarises monitor activity
type PressureStats struct {
	SampleCount int                  `json:"sample_count"`
	Triggered   int64                `json:"triggered"`
	Requested   int64                `json:"requested"`
	Freed       int64                `json:"freed"`
	Last        types.PressureSample `json:"last"`
}

// PressureMonitor samples heap usage and asks a target to reclaim when the
// heap is over the watermark.
type PressureMonitor struct {
	config MonitorConfig
	target types.PressureTarget
	logger *utils.StructuredLogger

	mu      sync.RWMutex
	samples []types.PressureSample
	stats   PressureStats

	stopCh chan struct{}
	wg     sync.WaitGroup
	active int32
}

// NewPressureMonitor creates a monitor driving target
func NewPressureMonitor(target types.PressureTarget, config MonitorConfig) (*PressureMonitor, error) {
	if target == nil {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "pressure target is required").
			WithComponent("memmon")
	}
	if config.SampleInterval <= 0 {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "sample interval must be positive").
			WithComponent("memmon")
	}
	if config.HighWatermark == 0 {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "high watermark must be positive").
			WithComponent("memmon")
	}
	if config.ObjectsPerMB <= 0 {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "objects per MB must be positive").
			WithComponent("memmon")
	}
	if config.MaxSamples <= 0 {
		config.MaxSamples = 100
	}
	if config.HeapReader == nil {
		config.HeapReader = readHeapAlloc
	}
	if config.Logger == nil {
		config.Logger = utils.NopLogger()
	}

	return &PressureMonitor{
		config:  config,
		target:  target,
		logger:  config.Logger.WithComponent("memmon"),
		samples: make([]types.PressureSample, 0, config.MaxSamples),
	}, nil
}

// Start begins monitoring in the background
func (pm *PressureMonitor) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&pm.active, 0, 1) {
		return errors.NewError(errors.ErrCodeAlreadyStarted, "pressure monitor already running").
			WithComponent("memmon")
	}

	pm.logger.Info("Starting pressure monitor", map[string]interface{}{
		"sample_interval": pm.config.SampleInterval.String(),
		"high_watermark":  utils.FormatBytes(int64(pm.config.HighWatermark)),
	})

	pm.stopCh = make(chan struct{})
	pm.wg.Add(1)
	go pm.monitorLoop(ctx, pm.stopCh)

	return nil
}

// Stop stops monitoring and waits for the loop to exit
func (pm *PressureMonitor) Stop() error {
	if !atomic.CompareAndSwapInt32(&pm.active, 1, 0) {
		return nil // Already stopped
	}

	pm.logger.Info("Stopping pressure monitor")
	close(pm.stopCh)
	pm.wg.Wait()

	return nil
}

// Run monitors until ctx is cancelled
func (pm *PressureMonitor) Run(ctx context.Context) error {
	if err := pm.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return pm.Stop()
}

func (pm *PressureMonitor) monitorLoop(ctx context.Context, stopCh <-chan struct{}) {
	defer pm.wg.Done()

	ticker := time.NewTicker(pm.config.SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			pm.Check()
		}
	}
}

// Check takes one sample and reclaims if the heap is over the watermark
func (pm *PressureMonitor) Check() types.PressureSample {
	heap := pm.config.HeapReader()
	sample := types.PressureSample{
		Timestamp: time.Now(),
		HeapAlloc: heap,
		Watermark: pm.config.HighWatermark,
		Quota:     pm.QuotaFor(heap),
	}

	if sample.Quota > 0 {
		sample.Freed = pm.target.Reclaim(sample.Quota)

		fields := map[string]interface{}{
			"heap":  utils.FormatBytes(int64(heap)),
			"quota": sample.Quota,
			"freed": sample.Freed,
		}
		if sample.Freed == 0 {
			err := errors.NewError(errors.ErrCodeOutOfMemory, "heap over watermark with nothing reclaimable").
				WithComponent("memmon")
			pm.logger.WithError(err).Warn("memory pressure not relieved", fields)
		} else {
			pm.logger.Debug("memory pressure reclaim", fields)
			if pm.config.ReturnToOS {
				debug.FreeOSMemory()
			}
		}
	}

	pm.takeSample(sample)
	if pm.config.OnSample != nil {
		pm.config.OnSample(sample)
	}
	return sample
}

// QuotaFor converts a heap size into a reclaim quota: every started MB over
// the watermark asks for ObjectsPerMB entries, capped at MaxQuota.
func (pm *PressureMonitor) QuotaFor(heap uint64) int64 {
	if heap <= pm.config.HighWatermark {
		return 0
	}

	excessMB := (heap - pm.config.HighWatermark + bytesPerMB - 1) / bytesPerMB
	quota := int64(excessMB) * pm.config.ObjectsPerMB
	if quota < 0 || (pm.config.MaxQuota > 0 && quota > pm.config.MaxQuota) {
		quota = pm.config.MaxQuota
	}
	return quota
}

// takeSample records a sample in the history
func (pm *PressureMonitor) takeSample(sample types.PressureSample) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	pm.samples = append(pm.samples, sample)
	if len(pm.samples) > pm.config.MaxSamples {
		pm.samples = pm.samples[1:]
	}

	pm.stats.SampleCount++
	pm.stats.Last = sample
	if sample.Quota > 0 {
		pm.stats.Triggered++
		pm.stats.Requested += sample.Quota
		pm.stats.Freed += sample.Freed
	}
}

// GetStats returns monitor statistics
func (pm *PressureMonitor) GetStats() PressureStats {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.stats
}

// GetSamples returns a copy of the sample history
func (pm *PressureMonitor) GetSamples() []types.PressureSample {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	out := make([]types.PressureSample, len(pm.samples))
	copy(out, pm.samples)
	return out
}

func readHeapAlloc() uint64 {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	return memStats.HeapAlloc
}
