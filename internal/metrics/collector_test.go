package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objectfs/cachereclaim/internal/cache"
	"github.com/objectfs/cachereclaim/internal/config"
	"github.com/objectfs/cachereclaim/internal/shrinker"
	"github.com/objectfs/cachereclaim/internal/volume"
	"github.com/objectfs/cachereclaim/pkg/health"
	"github.com/objectfs/cachereclaim/pkg/types"
)

func testCollector(t *testing.T, source StatusSource) *Collector {
	t.Helper()
	c, err := NewCollector(&Config{
		Enabled:   true,
		Path:      "/metrics",
		Namespace: "reclaimd",
		Labels:    map[string]string{"service": "test"},
	}, source, nil)
	require.NoError(t, err)
	return c
}

func TestNewCollector(t *testing.T) {
	t.Parallel()

	t.Run("with nil config uses defaults", func(t *testing.T) {
		c, err := NewCollector(nil, nil, nil)
		require.NoError(t, err)
		assert.Equal(t, 9108, c.config.Port)
		assert.Equal(t, "/metrics", c.config.Path)
		assert.Equal(t, "reclaimd", c.config.Namespace)
		assert.NotNil(t, c.Registry())
	})

	t.Run("with disabled config", func(t *testing.T) {
		c, err := NewCollector(&Config{Enabled: false}, nil, nil)
		require.NoError(t, err)
		assert.Nil(t, c.Registry())

		// observer callbacks are no-ops
		c.Visited(shrinker.Visit{Freed: [shrinker.NumCacheKinds]int64{1, 2, 3}})
		c.Completed(shrinker.Pass{Quota: 10, Freed: 6})
		c.Estimated(shrinker.Estimate{Total: 5})
		c.RecordPressure(types.PressureSample{HeapAlloc: 1})
		assert.Zero(t, c.GetSummary().Passes)
	})
}

func TestCollector_ObservesPasses(t *testing.T) {
	t.Parallel()
	c := testCollector(t, nil)

	c.Visited(shrinker.Visit{ID: "a", Freed: [shrinker.NumCacheKinds]int64{6, 4, 0}})
	c.Visited(shrinker.Visit{ID: "b", Freed: [shrinker.NumCacheKinds]int64{2, 0, 1}})
	c.Completed(shrinker.Pass{Run: 1, Quota: 20, Freed: 13, Visited: 2, Skipped: []string{"c"}})
	c.Completed(shrinker.Pass{Run: 2, Quota: 4, Freed: 5, Visited: 1})
	c.Estimated(shrinker.Estimate{Total: 42, Counted: 3})

	assert.Equal(t, 2.0, testutil.ToFloat64(c.passCounter))
	assert.Equal(t, 24.0, testutil.ToFloat64(c.quotaCounter))
	assert.Equal(t, 8.0, testutil.ToFloat64(c.freedCounter.WithLabelValues("extent")))
	assert.Equal(t, 4.0, testutil.ToFloat64(c.freedCounter.WithLabelValues("translation")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.freedCounter.WithLabelValues("free_id")))
	assert.Equal(t, 7.0, testutil.ToFloat64(c.shortfall), "overshoot does not offset shortfall")
	assert.Equal(t, 1.0, testutil.ToFloat64(c.skippedCounter))
	assert.Equal(t, 42.0, testutil.ToFloat64(c.estimateGauge))

	summary := c.GetSummary()
	assert.Equal(t, uint64(2), summary.Passes)
	assert.Equal(t, int64(24), summary.Requested)
	assert.Equal(t, int64(18), summary.Freed)
	assert.Equal(t, int64(8), summary.FreedByCache["extent"])
	require.NotNil(t, summary.LastPass)
	assert.Equal(t, uint32(2), summary.LastPass.Run)
	require.NotNil(t, summary.LastEstimate)
	assert.Equal(t, int64(42), summary.LastEstimate.Total)

	c.ResetSummary()
	assert.Zero(t, c.GetSummary().Passes)
	assert.Equal(t, 2.0, testutil.ToFloat64(c.passCounter), "counters survive a summary reset")
}

func TestCollector_RecordPressure(t *testing.T) {
	t.Parallel()
	c := testCollector(t, nil)

	c.RecordPressure(types.PressureSample{HeapAlloc: 100, Watermark: 50, Quota: 10})
	c.RecordPressure(types.PressureSample{HeapAlloc: 40, Watermark: 50})

	assert.Equal(t, 40.0, testutil.ToFloat64(c.heapGauge))
	assert.Equal(t, 50.0, testutil.ToFloat64(c.watermarkGauge))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.pressureCounter))
	require.NotNil(t, c.GetSummary().LastPressure)
}

func TestCollector_RegistryIntegration(t *testing.T) {
	t.Parallel()

	var c *Collector
	registry := shrinker.NewRegistry(&shrinker.Config{
		Observer: shrinker.Observers(observerFunc(func() *Collector { return c })),
	})
	manager := volume.NewManager(registry, nil, nil)
	c = testCollector(t, manager)

	for _, name := range []string{"a", "b"} {
		v, err := manager.Mount(volume.FromConfig(config.VolumeConfig{Name: name, MaxFreeNids: 1}))
		require.NoError(t, err)
		for i := uint32(0); i < 10; i++ {
			v.Extents().Insert(i, cache.Extent{Len: 1})
		}
	}

	registry.EstimateReclaimable()
	freed := registry.Reclaim(8)
	require.Equal(t, int64(8), freed)

	assert.Equal(t, 20.0, testutil.ToFloat64(c.estimateGauge))
	assert.Equal(t, 8.0, testutil.ToFloat64(c.freedCounter.WithLabelValues("extent")))

	// 1 mounted gauge + 2 volumes x 3 caches for each per-cache series
	count, err := testutil.GatherAndCount(c.Registry(),
		"reclaimd_volumes_mounted", "reclaimd_cache_entries", "reclaimd_cache_reclaimable_entries")
	require.NoError(t, err)
	assert.Equal(t, 1+6+6, count)

	expected := `
# HELP reclaimd_volumes_mounted Number of mounted volumes
# TYPE reclaimd_volumes_mounted gauge
reclaimd_volumes_mounted{service="test"} 2
`
	assert.NoError(t, testutil.GatherAndCompare(c.Registry(), strings.NewReader(expected), "reclaimd_volumes_mounted"))
}

func TestCollector_Handler(t *testing.T) {
	t.Parallel()
	c := testCollector(t, nil)
	c.Completed(shrinker.Pass{Run: 1, Quota: 4, Freed: 4, Visited: 1})
	handler := c.Handler()

	t.Run("metrics", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `reclaimd_reclaim_passes_total{service="test"} 1`)
	})

	t.Run("health", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"status":"healthy","service":"reclaimd-metrics"}`, rec.Body.String())
	})

	t.Run("debug", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/reclaim", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			Summary Summary `json:"summary"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, uint64(1), body.Summary.Passes)
		assert.Equal(t, int64(4), body.Summary.Freed)
	})
}

type staticSource []types.VolumeStatus

func (s staticSource) Status() []types.VolumeStatus { return s }

func TestCollector_DebugVolume(t *testing.T) {
	t.Parallel()
	source := staticSource{
		{ID: "id-0", Name: "data0", Caches: types.VolumeCacheStats{Extent: types.CacheStats{Entries: 7, Reclaimable: 5}}},
		{ID: "id-1", Name: "data1"},
	}
	handler := testCollector(t, source).Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/reclaim/volumes/data0", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var vol types.VolumeStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &vol))
	assert.Equal(t, "id-0", vol.ID)
	assert.Equal(t, int64(5), vol.Caches.Extent.Reclaimable)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/reclaim/volumes/data9", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/debug/reclaim", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestCollector_HealthFromTracker(t *testing.T) {
	t.Parallel()
	c := testCollector(t, nil)

	tracker := health.NewTracker(health.TrackerConfig{ErrorThreshold: 1, UnavailableThreshold: 2})
	tracker.RegisterComponent("pressure")
	c.SetHealth(tracker)

	get := func() (int, map[string]interface{}) {
		rec := httptest.NewRecorder()
		c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		return rec.Code, body
	}

	code, body := get()
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", body["status"])

	tracker.RecordError("pressure", assert.AnError)
	code, body = get()
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "degraded", body["status"])

	tracker.RecordError("pressure", assert.AnError)
	code, body = get()
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unavailable", body["status"])
	assert.Len(t, body["components"], 1)
}

func TestCollector_ServeStopsOnCancel(t *testing.T) {
	t.Parallel()

	c, err := NewCollector(&Config{Enabled: true, Port: 0, Path: "/metrics", Namespace: "serve"}, nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Serve(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestCollector_ServeDisabled(t *testing.T) {
	t.Parallel()

	c, err := NewCollector(&Config{Enabled: false}, nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, c.Serve(ctx))
	assert.NoError(t, c.Stop(context.Background()))
}

// observerFunc defers to a collector created after the registry
type observerFunc func() *Collector

func (f observerFunc) Visited(v shrinker.Visit)      { f().Visited(v) }
func (f observerFunc) Completed(p shrinker.Pass)     { f().Completed(p) }
func (f observerFunc) Estimated(e shrinker.Estimate) { f().Estimated(e) }
