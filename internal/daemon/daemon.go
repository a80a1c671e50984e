// Package daemon wires the reclaim coordinator, the volume manager, the
// metrics exporter and the pressure monitor into one runnable process.
package daemon

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/objectfs/cachereclaim/internal/cache"
	"github.com/objectfs/cachereclaim/internal/config"
	"github.com/objectfs/cachereclaim/internal/metrics"
	"github.com/objectfs/cachereclaim/internal/shrinker"
	"github.com/objectfs/cachereclaim/internal/volume"
	"github.com/objectfs/cachereclaim/pkg/errors"
	"github.com/objectfs/cachereclaim/pkg/health"
	"github.com/objectfs/cachereclaim/pkg/memmon"
	"github.com/objectfs/cachereclaim/pkg/retry"
	"github.com/objectfs/cachereclaim/pkg/types"
	"github.com/objectfs/cachereclaim/pkg/utils"
)

// Options carries what the configuration file cannot
type Options struct {
	// Checkpointer persists dirty translation entries at unmount.
	// Defaults to one that only logs.
	Checkpointer cache.Checkpointer

	// HeapReader overrides the runtime heap reading used by the monitor
	HeapReader func() uint64

	Logger *utils.StructuredLogger
}

// Daemon owns every long-lived component
type Daemon struct {
	config    *config.Configuration
	logger    *utils.StructuredLogger
	registry  *shrinker.Registry
	manager   *volume.Manager
	collector *metrics.Collector
	monitor   *memmon.PressureMonitor
	health    *health.Tracker
	startedAt time.Time
}

// Health components
const (
	ComponentPressure   = "pressure"
	ComponentCheckpoint = "checkpoint"
)

// New builds a daemon from a validated configuration and mounts the
// configured volumes.
func New(cfg *config.Configuration, opts Options) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.NewError(errors.ErrCodeNotInitialized, "configuration is required").
			WithComponent("daemon")
	}
	logger := opts.Logger
	if logger == nil {
		logger = utils.NopLogger()
	}

	policy, err := shrinker.NewPolicy(cfg.Shrinker.ExtentQuotaDivisor)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInvalidConfig, "invalid shrinker policy")
	}

	d := &Daemon{
		config: cfg,
		logger: logger.WithComponent("daemon"),
	}

	// The collector needs the manager as its status source and the registry
	// needs the collector as its observer, so the observer is bound late.
	late := &lateObserver{}
	d.registry = shrinker.NewRegistry(&shrinker.Config{
		Policy:   policy,
		Observer: late,
		Logger:   logger,
	})

	cp := opts.Checkpointer
	if cp == nil {
		cp = logCheckpointer(logger)
	}
	d.manager = volume.NewManager(d.registry, cp, logger)

	retryConfig := retry.DefaultConfig()
	retryConfig.MaxAttempts = cfg.Checkpoint.MaxAttempts
	retryConfig.InitialDelay = cfg.Checkpoint.InitialDelay
	retryConfig.MaxDelay = cfg.Checkpoint.MaxDelay
	d.manager.SetRetry(retryConfig)

	d.collector, err = metrics.NewCollector(&metrics.Config{
		Enabled:   cfg.Monitoring.Metrics.Enabled,
		Port:      cfg.Global.MetricsPort,
		Path:      cfg.Monitoring.Metrics.Path,
		Labels:    cfg.Monitoring.Metrics.CustomLabels,
		Namespace: cfg.Monitoring.Metrics.Namespace,
	}, d.manager, logger)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to create metrics collector")
	}
	late.bind(d.collector)

	d.health = health.NewTracker(health.DefaultConfig())
	d.health.RegisterComponent(ComponentPressure)
	d.health.RegisterComponent(ComponentCheckpoint)
	d.health.OnStateChange(func(component string, oldState, newState health.HealthState, err error) {
		d.logger.Warn("component health changed", map[string]interface{}{
			"component": component,
			"from":      oldState.String(),
			"to":        newState.String(),
		})
	})
	d.collector.SetHealth(d.health)

	if cfg.Pressure.Enabled {
		watermark, err := cfg.Pressure.HighWatermarkBytes()
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInvalidConfig, "invalid high watermark")
		}
		d.monitor, err = memmon.NewPressureMonitor(d.registry, memmon.MonitorConfig{
			SampleInterval: cfg.Pressure.SampleInterval,
			HighWatermark:  uint64(watermark),
			ObjectsPerMB:   cfg.Pressure.ObjectsPerMB,
			MaxQuota:       cfg.Pressure.MaxQuota,
			ReturnToOS:     true,
			HeapReader:     opts.HeapReader,
			OnSample:       d.recordPressure,
			Logger:         logger,
		})
		if err != nil {
			return nil, err
		}
	}

	for _, vc := range cfg.Volumes {
		if _, err := d.manager.Mount(volume.FromConfig(vc)); err != nil {
			_ = d.manager.UnmountAll()
			return nil, err
		}
	}

	return d, nil
}

// Registry returns the coordinator
func (d *Daemon) Registry() *shrinker.Registry {
	return d.registry
}

// Manager returns the volume manager
func (d *Daemon) Manager() *volume.Manager {
	return d.manager
}

// Collector returns the metrics collector
func (d *Daemon) Collector() *metrics.Collector {
	return d.collector
}

// Health returns the component health tracker
func (d *Daemon) Health() *health.Tracker {
	return d.health
}

// Monitor returns the pressure monitor, nil when pressure sampling is off
func (d *Daemon) Monitor() *memmon.PressureMonitor {
	return d.monitor
}

// Run serves metrics and samples memory until ctx is cancelled, then
// unmounts every volume.
func (d *Daemon) Run(ctx context.Context) error {
	d.startedAt = time.Now()
	d.logger.Info("daemon started", map[string]interface{}{
		"volumes":         d.registry.Len(),
		"metrics_enabled": d.config.Monitoring.Metrics.Enabled,
		"pressure":        d.monitor != nil,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return d.collector.Serve(gctx)
	})
	if d.monitor != nil {
		g.Go(func() error {
			return d.monitor.Run(gctx)
		})
	}

	runErr := g.Wait()

	d.logger.Info("shutting down", map[string]interface{}{
		"uptime": time.Since(d.startedAt).Round(time.Second).String(),
	})
	if err := d.manager.UnmountAll(); err != nil {
		d.health.RecordError(ComponentCheckpoint, err)
		runErr = stderrors.Join(runErr, err)
	}
	return runErr
}

// recordPressure exports a sample and scores the pressure component: a
// pass that frees nothing while the heap is over the watermark is a failure.
func (d *Daemon) recordPressure(s types.PressureSample) {
	d.collector.RecordPressure(s)
	if s.Quota == 0 {
		return
	}
	d.health.SetComponentMetadata(ComponentPressure, "last_quota", s.Quota)
	d.health.SetComponentMetadata(ComponentPressure, "last_freed", s.Freed)
	if s.Freed == 0 {
		d.health.RecordError(ComponentPressure, errors.NewError(errors.ErrCodeOutOfMemory,
			"heap over watermark with nothing reclaimable"))
		return
	}
	d.health.RecordSuccess(ComponentPressure)
}

// Status is a point-in-time view of the daemon
type Status struct {
	Volumes     []types.VolumeStatus      `json:"volumes" yaml:"volumes"`
	Records     []shrinker.RecordInfo     `json:"records" yaml:"records"`
	Reclaimable int64                     `json:"reclaimable" yaml:"reclaimable"`
	Pressure    *memmon.PressureStats     `json:"pressure,omitempty" yaml:"pressure,omitempty"`
	Health      []*health.ComponentHealth `json:"health" yaml:"health"`
}

// Status runs a count pass and reports every mounted volume
func (d *Daemon) Status() Status {
	s := Status{
		Reclaimable: d.registry.EstimateReclaimable(),
		Records:     d.registry.Snapshot(),
		Volumes:     d.manager.Status(),
		Health:      d.health.GetAllComponents(),
	}
	if d.monitor != nil {
		stats := d.monitor.GetStats()
		s.Pressure = &stats
	}
	return s
}

func logCheckpointer(logger *utils.StructuredLogger) cache.Checkpointer {
	logger = logger.WithComponent("checkpoint")
	return cache.CheckpointFunc(func(entries []cache.NATEntry) error {
		logger.Debug(fmt.Sprintf("checkpointed %d translation entries", len(entries)))
		return nil
	})
}

// lateObserver forwards to an observer bound after the registry exists
type lateObserver struct {
	target shrinker.Observer
}

func (o *lateObserver) bind(target shrinker.Observer) { o.target = target }

func (o *lateObserver) Visited(v shrinker.Visit) {
	if o.target != nil {
		o.target.Visited(v)
	}
}

func (o *lateObserver) Completed(p shrinker.Pass) {
	if o.target != nil {
		o.target.Completed(p)
	}
}

func (o *lateObserver) Estimated(e shrinker.Estimate) {
	if o.target != nil {
		o.target.Estimated(e)
	}
}
