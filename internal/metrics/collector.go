package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/objectfs/cachereclaim/internal/shrinker"
	"github.com/objectfs/cachereclaim/pkg/health"
	"github.com/objectfs/cachereclaim/pkg/types"
	"github.com/objectfs/cachereclaim/pkg/utils"
)

// StatusSource reports per-volume cache statistics at scrape time
type StatusSource interface {
	Status() []types.VolumeStatus
}

// HealthSource reports component health for the /health endpoint
type HealthSource interface {
	GetOverallHealth() health.HealthState
	GetAllComponents() []*health.ComponentHealth
}

// Collector exports reclaim activity to Prometheus. It implements
// shrinker.Observer and is meant to be passed to the registry config.
type Collector struct {
	mu       sync.RWMutex
	config   *Config
	registry *prometheus.Registry
	source   StatusSource
	health   HealthSource
	logger   *utils.StructuredLogger

	// Prometheus metrics
	passCounter     prometheus.Counter
	quotaCounter    prometheus.Counter
	freedCounter    *prometheus.CounterVec
	shortfall       prometheus.Counter
	skippedCounter  prometheus.Counter
	visitedPerPass  prometheus.Histogram
	estimateGauge   prometheus.Gauge
	heapGauge       prometheus.Gauge
	watermarkGauge  prometheus.Gauge
	pressureCounter prometheus.Counter

	// Internal tracking
	summary   Summary
	lastReset time.Time

	// HTTP server for metrics endpoint
	server *http.Server
}

// Config represents metrics configuration
type Config struct {
	Enabled   bool              `yaml:"enabled"`
	Port      int               `yaml:"port"`
	Path      string            `yaml:"path"`
	Labels    map[string]string `yaml:"labels"`
	Namespace string            `yaml:"namespace"`
	Subsystem string            `yaml:"subsystem"`
}

// Summary is a running total of reclaim activity since the last reset
type Summary struct {
	Passes       uint64                `json:"passes"`
	Requested    int64                 `json:"requested"`
	Freed        int64                 `json:"freed"`
	FreedByCache map[string]int64      `json:"freed_by_cache"`
	Skipped      uint64                `json:"skipped"`
	LastPass     *shrinker.Pass        `json:"last_pass,omitempty"`
	LastEstimate *shrinker.Estimate    `json:"last_estimate,omitempty"`
	LastPressure *types.PressureSample `json:"last_pressure,omitempty"`
}

// DebugReport is the body served at /debug/reclaim
type DebugReport struct {
	Uptime  string               `json:"uptime"`
	Summary Summary              `json:"summary"`
	Volumes []types.VolumeStatus `json:"volumes,omitempty"`
}

// NewCollector creates a new metrics collector. source may be nil.
func NewCollector(config *Config, source StatusSource, logger *utils.StructuredLogger) (*Collector, error) {
	if config == nil {
		config = &Config{
			Enabled:   true,
			Port:      9108,
			Path:      "/metrics",
			Namespace: "reclaimd",
			Labels:    make(map[string]string),
		}
	}
	if logger == nil {
		logger = utils.NopLogger()
	}

	collector := &Collector{
		config:    config,
		source:    source,
		logger:    logger.WithComponent("metrics"),
		summary:   Summary{FreedByCache: make(map[string]int64)},
		lastReset: time.Now(),
	}

	if !config.Enabled {
		return collector, nil
	}

	collector.registry = prometheus.NewRegistry()
	collector.initMetrics()

	if err := collector.registerMetrics(source); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	return collector, nil
}

// Registry returns the Prometheus registry, nil when disabled
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// SetHealth makes /health report the given component health
func (c *Collector) SetHealth(h HealthSource) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.health = h
}

// Handler returns the HTTP handler serving metrics, health and debug output
func (c *Collector) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	if c.registry != nil {
		r.Handle(c.config.Path, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		}))
	}
	r.Get("/health", c.healthHandler)
	r.Route("/debug/reclaim", func(r chi.Router) {
		r.Get("/", c.debugReclaimHandler)
		r.Get("/volumes/{name}", c.debugVolumeHandler)
	})
	return r
}

// Serve runs the metrics endpoint until ctx is cancelled
func (c *Collector) Serve(ctx context.Context) error {
	if !c.config.Enabled {
		<-ctx.Done()
		return nil
	}

	c.mu.Lock()
	c.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", c.config.Port),
		Handler:           c.Handler(),
		ReadHeaderTimeout: 30 * time.Second, // Prevent Slowloris attacks
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	server := c.server
	c.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		c.logger.Info("metrics server listening", map[string]interface{}{
			"addr": server.Addr,
			"path": c.config.Path,
		})
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return c.Stop(shutdownCtx)
	}
}

// Stop stops the metrics server
func (c *Collector) Stop(ctx context.Context) error {
	c.mu.RLock()
	server := c.server
	c.mu.RUnlock()

	if server != nil {
		return server.Shutdown(ctx)
	}
	return nil
}

// Visited records the entries freed from one volume
func (c *Collector) Visited(v shrinker.Visit) {
	if !c.config.Enabled {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for kind, n := range v.Freed {
		if n == 0 {
			continue
		}
		name := shrinker.CacheKind(kind).String()
		c.freedCounter.With(prometheus.Labels{"cache": name}).Add(float64(n))
		c.summary.FreedByCache[name] += n
	}
}

// Completed records the outcome of a reclaim pass
func (c *Collector) Completed(p shrinker.Pass) {
	if !c.config.Enabled {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.passCounter.Inc()
	c.quotaCounter.Add(float64(p.Quota))
	c.skippedCounter.Add(float64(len(p.Skipped)))
	c.visitedPerPass.Observe(float64(p.Visited))
	if p.Freed < p.Quota {
		c.shortfall.Add(float64(p.Quota - p.Freed))
	}

	c.summary.Passes++
	c.summary.Requested += p.Quota
	c.summary.Freed += p.Freed
	c.summary.Skipped += uint64(len(p.Skipped))
	c.summary.LastPass = &p
}

// Estimated records the latest reclaimable estimate
func (c *Collector) Estimated(e shrinker.Estimate) {
	if !c.config.Enabled {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.estimateGauge.Set(float64(e.Total))
	c.summary.LastEstimate = &e
}

// RecordPressure records one memory pressure evaluation
func (c *Collector) RecordPressure(s types.PressureSample) {
	if !c.config.Enabled {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.heapGauge.Set(float64(s.HeapAlloc))
	c.watermarkGauge.Set(float64(s.Watermark))
	if s.Quota > 0 {
		c.pressureCounter.Inc()
	}
	c.summary.LastPressure = &s
}

// GetSummary returns a copy of the running totals
func (c *Collector) GetSummary() Summary {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := c.summary
	out.FreedByCache = make(map[string]int64, len(c.summary.FreedByCache))
	for k, v := range c.summary.FreedByCache {
		out.FreedByCache[k] = v
	}
	return out
}

// ResetSummary clears the running totals. Prometheus counters are untouched.
func (c *Collector) ResetSummary() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.summary = Summary{FreedByCache: make(map[string]int64)}
	c.lastReset = time.Now()
}

// Helper methods

func (c *Collector) initMetrics() {
	opts := func(name, help string) prometheus.Opts {
		return prometheus.Opts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: c.config.Labels,
		}
	}

	c.passCounter = prometheus.NewCounter(prometheus.CounterOpts(
		opts("reclaim_passes_total", "Total number of reclaim passes")))
	c.quotaCounter = prometheus.NewCounter(prometheus.CounterOpts(
		opts("reclaim_requested_total", "Total number of entries requested by reclaim passes")))
	c.freedCounter = prometheus.NewCounterVec(prometheus.CounterOpts(
		opts("reclaim_freed_total", "Total number of cache entries freed, by cache")),
		[]string{"cache"})
	c.shortfall = prometheus.NewCounter(prometheus.CounterOpts(
		opts("reclaim_shortfall_total", "Entries requested but not freed")))
	c.skippedCounter = prometheus.NewCounter(prometheus.CounterOpts(
		opts("reclaim_skipped_volumes_total", "Volumes skipped because they were being torn down")))
	c.estimateGauge = prometheus.NewGauge(prometheus.GaugeOpts(
		opts("reclaimable_entries", "Last estimate of reclaimable entries across all volumes")))
	c.heapGauge = prometheus.NewGauge(prometheus.GaugeOpts(
		opts("heap_alloc_bytes", "Heap bytes allocated at the last pressure sample")))
	c.watermarkGauge = prometheus.NewGauge(prometheus.GaugeOpts(
		opts("high_watermark_bytes", "Heap size above which reclaim is requested")))
	c.pressureCounter = prometheus.NewCounter(prometheus.CounterOpts(
		opts("pressure_events_total", "Pressure samples that triggered a reclaim")))

	c.visitedPerPass = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace:   c.config.Namespace,
		Subsystem:   c.config.Subsystem,
		Name:        "reclaim_visited_volumes",
		Help:        "Volumes serviced per reclaim pass",
		ConstLabels: c.config.Labels,
		Buckets:     prometheus.ExponentialBuckets(1, 2, 8), // 1 to 128
	})
}

func (c *Collector) registerMetrics(source StatusSource) error {
	metrics := []prometheus.Collector{
		c.passCounter,
		c.quotaCounter,
		c.freedCounter,
		c.shortfall,
		c.skippedCounter,
		c.visitedPerPass,
		c.estimateGauge,
		c.heapGauge,
		c.watermarkGauge,
		c.pressureCounter,
	}
	if source != nil {
		metrics = append(metrics, newVolumeCollector(c.config, source))
	}

	for _, metric := range metrics {
		if err := c.registry.Register(metric); err != nil {
			return err
		}
	}

	return nil
}

// HTTP handlers

func (c *Collector) healthHandler(w http.ResponseWriter, r *http.Request) {
	c.mu.RLock()
	source := c.health
	c.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	if source == nil {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"healthy","service":"reclaimd-metrics"}`)) // Ignore write error for health check
		return
	}

	state := source.GetOverallHealth()
	code := http.StatusOK
	if state == health.StateUnavailable {
		code = http.StatusServiceUnavailable
	}

	body := struct {
		Status     string                    `json:"status"`
		Service    string                    `json:"service"`
		Components []*health.ComponentHealth `json:"components"`
	}{
		Status:     state.String(),
		Service:    "reclaimd-metrics",
		Components: source.GetAllComponents(),
	}

	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		c.logger.WithError(err).Warn("failed to write health response")
	}
}

func (c *Collector) debugReclaimHandler(w http.ResponseWriter, r *http.Request) {
	c.mu.RLock()
	uptime := time.Since(c.lastReset)
	c.mu.RUnlock()

	body := DebugReport{
		Uptime:  uptime.Round(time.Second).String(),
		Summary: c.GetSummary(),
	}
	if c.source != nil {
		body.Volumes = c.source.Status()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		c.logger.WithError(err).Warn("failed to write debug response")
	}
}

func (c *Collector) debugVolumeHandler(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	if c.source != nil {
		for _, vol := range c.source.Status() {
			if vol.Name != name {
				continue
			}
			w.Header().Set("Content-Type", "application/json")
			if err := json.NewEncoder(w).Encode(vol); err != nil {
				c.logger.WithError(err).Warn("failed to write debug response")
			}
			return
		}
	}
	http.Error(w, "volume "+name+" is not mounted", http.StatusNotFound)
}
